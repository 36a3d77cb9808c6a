package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

// NewLogger builds a structured logger for worker processes. The default JSON
// handler suits log shippers; the console format uses tint for local runs.
func NewLogger(level, format string) *slog.Logger {
	lvl := levelFromString(level)
	if strings.EqualFold(format, "console") {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: lvl}))
	}
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func levelFromString(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Fees are the per-trip transaction fees deducted from settlements. They are
// inputs to the fee waterfall, not stored data.
type Fees struct {
	Passenger float64
	Driver    float64
}

// WorkerConfig captures all tunable parameters for the settlement worker.
// Values are loaded from environment variables with sane defaults so the
// binary can run locally without excessive setup. Database credentials stay
// in DB_* variables consumed by the database package directly.
type WorkerConfig struct {
	UnitPriceEnabled bool
	Fees             Fees

	WalletProvider string // "points" or "stripe"
	WalletBaseURL  string
	WalletSecret   string
	WalletIssuer   string

	StripeAPIKey   string
	StripeCurrency string

	RedisURL      string
	GroupCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	ReportBucket string

	PollInterval time.Duration
	MetricsAddr  string

	LogLevel  string
	LogFormat string
}

func defaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		UnitPriceEnabled: true,
		Fees:             Fees{Passenger: 0.50, Driver: 0.25},
		WalletProvider:   "points",
		WalletIssuer:     "settlement-engine",
		StripeCurrency:   "usd",
		GroupCacheTTL:    5 * time.Minute,
		KafkaTopic:       "carpool-settlements",
		PollInterval:     time.Minute,
		MetricsAddr:      ":2112",
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

func LoadWorkerConfig() (WorkerConfig, error) {
	cfg := defaultWorkerConfig()
	var errs []error

	setBoolFromEnv(&cfg.UnitPriceEnabled, "UNIT_PRICE_ENABLED", &errs)
	setFloatFromEnv(&cfg.Fees.Passenger, "PASSENGER_TRANSACTION_FEE", &errs)
	setFloatFromEnv(&cfg.Fees.Driver, "DRIVER_TRANSACTION_FEE", &errs)

	setStringFromEnv(&cfg.WalletProvider, "WALLET_PROVIDER")
	cfg.WalletBaseURL = strings.TrimSpace(os.Getenv("WALLET_BASE_URL"))
	cfg.WalletSecret = os.Getenv("WALLET_JWT_SECRET")
	setStringFromEnv(&cfg.WalletIssuer, "WALLET_JWT_ISSUER")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.StripeCurrency, "STRIPE_CURRENCY")

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	setDurationFromEnv(&cfg.GroupCacheTTL, "GROUP_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.ReportBucket = strings.TrimSpace(os.Getenv("REPORT_BUCKET"))

	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.LogFormat, "LOG_FORMAT")

	switch cfg.WalletProvider {
	case "points":
		if cfg.WalletBaseURL == "" {
			errs = append(errs, fmt.Errorf("WALLET_BASE_URL is required for the points wallet"))
		}
		if cfg.WalletSecret == "" {
			errs = append(errs, fmt.Errorf("WALLET_JWT_SECRET is required for the points wallet"))
		}
	case "stripe":
		if cfg.StripeAPIKey == "" {
			errs = append(errs, fmt.Errorf("STRIPE_API_KEY is required for the stripe wallet"))
		}
		if cfg.WalletBaseURL == "" {
			errs = append(errs, fmt.Errorf("WALLET_BASE_URL is required to resolve stripe customers"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown WALLET_PROVIDER %q", cfg.WalletProvider))
	}
	if cfg.Fees.Passenger < 0 || cfg.Fees.Driver < 0 {
		errs = append(errs, fmt.Errorf("transaction fees must be >= 0"))
	}
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

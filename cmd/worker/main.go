package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carpoolhq/settlement-engine/internal/config"
	"github.com/carpoolhq/settlement-engine/internal/database"
	"github.com/carpoolhq/settlement-engine/internal/escrow"
	"github.com/carpoolhq/settlement-engine/internal/fsm"
	"github.com/carpoolhq/settlement-engine/internal/groups"
	"github.com/carpoolhq/settlement-engine/internal/logging"
	"github.com/carpoolhq/settlement-engine/internal/matching"
	"github.com/carpoolhq/settlement-engine/internal/services"
	"github.com/carpoolhq/settlement-engine/internal/settlement"
	"github.com/carpoolhq/settlement-engine/internal/storage/gormstore"
)

const sweepBatchSize = 200

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "error", err)
	}

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitDB()
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	store := gormstore.New(db)

	userClient := services.NewUserClient(cfg.WalletBaseURL, cfg.WalletSecret, cfg.WalletIssuer, log)

	var wallet escrow.Wallet
	switch cfg.WalletProvider {
	case "stripe":
		wallet = services.NewStripeWallet(cfg.StripeAPIKey, cfg.StripeCurrency, userClient, log)
	default:
		wallet = services.NewPointsClient(cfg.WalletBaseURL, cfg.WalletSecret, cfg.WalletIssuer, log)
	}
	log.Info("wallet provider ready", "provider", cfg.WalletProvider)

	var cache groups.Cache
	if cfg.RedisURL != "" {
		redisClient, err := services.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		cache = services.NewGroupCache(redisClient, cfg.GroupCacheTTL, log)
	}

	var publisher settlement.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub := services.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer kafkaPub.Close()
		publisher = kafkaPub
		log.Info("event publisher ready", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var reports *services.ReportStore
	if cfg.ReportBucket != "" {
		reports, err = services.NewReportStore(cfg.ReportBucket, log)
		if err != nil {
			log.Error("report store init failed", "error", err)
			os.Exit(1)
		}
	}

	registry := fsm.NewRegistry(log)
	if err := settlement.RegisterLocalUserMachine(registry, userClient, log); err != nil {
		log.Error("machine registration failed", "error", err)
		os.Exit(1)
	}

	ledger := escrow.NewService(store, wallet, cfg.Fees, cfg.UnitPriceEnabled, log)
	tracker := matching.NewTracker(store, log)
	resolver := groups.NewResolver(store, cache, log)
	processor := settlement.NewProcessor(ledger, tracker, resolver, publisher, log)

	srv := startMetricsServer(cfg.MetricsAddr, log)
	defer srv.Shutdown(context.Background())

	w := &worker{
		processor: processor,
		store:     store,
		reports:   reports,
		log:       log,
	}
	log.Info("settlement worker started", "pollInterval", cfg.PollInterval)
	w.run(ctx, cfg.PollInterval)
	log.Info("settlement worker stopped")
}

func startMetricsServer(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

type worker struct {
	processor *settlement.Processor
	store     *gormstore.Store
	reports   *services.ReportStore
	log       *slog.Logger

	lastReportDay string
}

func (w *worker) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *worker) sweep(ctx context.Context) {
	w.settleCompleted(ctx)
	w.refundCanceled(ctx)
	w.pruneInvites(ctx)
	w.exportReport(ctx)
}

// settleCompleted pays out every completed trip whose escrow still holds the
// fare.
func (w *worker) settleCompleted(ctx context.Context) {
	trips, err := w.store.CompletedUnsettledTrips(ctx, sweepBatchSize)
	if err != nil {
		w.log.Error("settlement sweep query failed", "error", err)
		return
	}
	for _, rider := range trips {
		// The rider's offer id names the offer group, anchored by the
		// driver's reservation.
		driver, err := w.store.Reservation(ctx, rider.OfferID)
		if err != nil {
			w.log.Warn("driver reservation missing for completed trip",
				"tripId", rider.ID, "offerId", rider.OfferID, "error", err)
			continue
		}
		if _, err := w.processor.OnTripCompleted(ctx, *driver, rider); err != nil {
			w.log.Error("settlement failed", "tripId", rider.ID, "error", err)
		}
	}
}

func (w *worker) refundCanceled(ctx context.Context) {
	trips, err := w.store.CanceledUnrefundedTrips(ctx, sweepBatchSize)
	if err != nil {
		w.log.Error("refund sweep query failed", "error", err)
		return
	}
	for _, trip := range trips {
		if _, err := w.processor.OnTripCanceled(ctx, trip); err != nil {
			w.log.Error("refund failed", "reservationId", trip.ID, "error", err)
		}
	}
}

func (w *worker) pruneInvites(ctx context.Context) {
	ids, err := w.store.ActiveReservationIDs(ctx, sweepBatchSize)
	if err != nil {
		w.log.Error("hygiene sweep query failed", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}
	if err := w.processor.RunGroupHygiene(ctx, ids); err != nil {
		w.log.Error("group hygiene failed", "error", err)
	}
}

// exportReport ships yesterday's ledger rows once per day.
func (w *worker) exportReport(ctx context.Context) {
	if w.reports == nil {
		return
	}
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour)
	day := yesterday.Format("2006-01-02")
	if day == w.lastReportDay {
		return
	}
	details, err := w.store.DetailsBetween(ctx, yesterday, yesterday.AddDate(0, 0, 1))
	if err != nil {
		w.log.Error("report query failed", "error", err)
		return
	}
	if _, err := w.reports.ExportDailySettlements(ctx, yesterday, details); err != nil {
		w.log.Error("report export failed", "error", err)
		return
	}
	w.lastReportDay = day
}

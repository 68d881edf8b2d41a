package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fidelizapay/fideliza-backend/internal/cashback"
	"github.com/fidelizapay/fideliza-backend/internal/cron"
	"github.com/fidelizapay/fideliza-backend/internal/eventledger"
	"github.com/fidelizapay/fideliza-backend/internal/gateways"
	"github.com/fidelizapay/fideliza-backend/internal/invoices"
	"github.com/fidelizapay/fideliza-backend/internal/notify"
	"github.com/fidelizapay/fideliza-backend/internal/reconcile"
	"github.com/fidelizapay/fideliza-backend/internal/subscriptions"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/db"
	"github.com/fidelizapay/fideliza-backend/pkg/env"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
	"github.com/fidelizapay/fideliza-backend/pkg/metrics"
	"github.com/fidelizapay/fideliza-backend/pkg/migrate"
	"github.com/fidelizapay/fideliza-backend/pkg/pubsub"
	"github.com/fidelizapay/fideliza-backend/pkg/redis"
)

const lockKeyFormat = "fz:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	var notifier notify.Notifier
	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Warn(context.Background(), "pubsub unavailable; cashback notifications will only be logged")
		notifier = notify.NewNotifier(nil, logg)
	} else {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		notifier = notify.NewNotifier(pubsubClient.NotificationPublisher(), logg)
	}

	ledger, err := eventledger.NewService(eventledger.ServiceParams{
		Repo:   eventledger.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event ledger", err)
		os.Exit(1)
	}
	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		Repo:   invoices.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoice service", err)
		os.Exit(1)
	}
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:        subscriptions.NewRepository(dbClient.DB()),
		InvoiceRepo: invoices.NewRepository(dbClient.DB()),
		Logger:      logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}
	cashbackService, err := cashback.NewService(cashback.ServiceParams{
		Repo:   cashback.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cashback service", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(reconcile.ServiceParams{
		Adapters:      gateways.NewRegistry(cfg.Gateways, logg),
		Ledger:        ledger,
		Invoices:      invoiceService,
		Subscriptions: subscriptionService,
		Cashback:      cashbackService,
		Tx:            dbClient,
		Cache:         redisClient,
		Notifier:      notifier,
		Metrics:       metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		Logger:        logg,
		DedupTTL:      cfg.Reconcile.DedupTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	pollJob, err := cron.NewPollInvoicesJob(cron.PollInvoicesJobParams{
		Invoices:  invoiceService,
		Statuses:  gateways.NewStatusClients(cfg.Gateways, cfg.Reconcile.StatusTimeout),
		Reconcile: reconcileService,
		Config:    cfg.Reconcile,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create poll job", err)
		os.Exit(1)
	}
	sweepJob, err := cron.NewSweepEventsJob(cron.SweepEventsJobParams{
		Ledger:    ledger,
		Reconcile: reconcileService,
		Config:    cfg.Reconcile,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Ledger: ledger,
		Config: cfg.Reconcile,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Reconcile.PollInterval)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(pollJob, sweepJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Reconcile.PollInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	go serveMetrics(ctx, logg)

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(appEnv string) string {
	if appEnv == "" {
		appEnv = "local"
	}
	return fmt.Sprintf(lockKeyFormat, appEnv)
}

// serveMetrics exposes the job counters for scraping. The worker has no
// other HTTP surface.
func serveMetrics(ctx context.Context, logg *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := ":" + env.Get("FIDELIZA_METRICS_PORT", "9090")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics server stopped", err)
	}
}

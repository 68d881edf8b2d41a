package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fidelizapay/fideliza-backend/api/controllers"
	"github.com/fidelizapay/fideliza-backend/api/routes"
	"github.com/fidelizapay/fideliza-backend/internal/cashback"
	"github.com/fidelizapay/fideliza-backend/internal/eventledger"
	"github.com/fidelizapay/fideliza-backend/internal/gateways"
	"github.com/fidelizapay/fideliza-backend/internal/invoices"
	"github.com/fidelizapay/fideliza-backend/internal/notify"
	"github.com/fidelizapay/fideliza-backend/internal/reconcile"
	"github.com/fidelizapay/fideliza-backend/internal/subscriptions"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/db"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
	"github.com/fidelizapay/fideliza-backend/pkg/metrics"
	"github.com/fidelizapay/fideliza-backend/pkg/migrate"
	"github.com/fidelizapay/fideliza-backend/pkg/pubsub"
	"github.com/fidelizapay/fideliza-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	pingers := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}

	// Pub/Sub is optional in local environments without GCP credentials.
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
		pingers["pubsub"] = pubsubClient
		notifier = notify.NewNotifier(pubsubClient.NotificationPublisher(), logg)
	}

	reconcileService, err := buildReconcileService(cfg, logg, dbClient, redisClient, notifier)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:    cfg,
			Logger:    logg,
			Reconcile: reconcileService,
			Redis:     redisClient,
			Pingers:   pingers,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildReconcileService(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	notifier notify.Notifier,
) (reconcile.Service, error) {
	ledger, err := eventledger.NewService(eventledger.ServiceParams{
		Repo:   eventledger.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}
	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		Repo:   invoices.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:        subscriptions.NewRepository(dbClient.DB()),
		InvoiceRepo: invoices.NewRepository(dbClient.DB()),
		Logger:      logg,
	})
	if err != nil {
		return nil, err
	}
	cashbackService, err := cashback.NewService(cashback.ServiceParams{
		Repo:   cashback.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	return reconcile.NewService(reconcile.ServiceParams{
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
}

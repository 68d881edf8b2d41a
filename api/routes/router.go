package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fidelizapay/fideliza-backend/api/controllers"
	"github.com/fidelizapay/fideliza-backend/api/middleware"
	"github.com/fidelizapay/fideliza-backend/internal/reconcile"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
	"github.com/fidelizapay/fideliza-backend/pkg/redis"
)

// RouterParams carries everything the HTTP surface depends on. Nil pingers
// are skipped by the readiness check.
type RouterParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	Reconcile reconcile.Service
	Redis     *redis.Client
	Pingers   map[string]controllers.Pinger
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Pingers))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookRateLimit(params.Redis, cfg.Reconcile.WebhookRateLimit, cfg.Reconcile.WebhookRateWindow, logg)).
			Post("/{gateway}", controllers.GatewayWebhook(params.Reconcile, cfg.Reconcile, logg))
	})

	r.Route("/api/admin/v1/reconcile", func(r chi.Router) {
		r.Post("/reprocess", controllers.AdminReprocessEvent(params.Reconcile, logg))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

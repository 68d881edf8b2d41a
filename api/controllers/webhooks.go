package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fidelizapay/fideliza-backend/api/responses"
	"github.com/fidelizapay/fideliza-backend/internal/reconcile"
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// maxWebhookBody bounds provider payloads; the largest real ones are a few KB.
const maxWebhookBody = 1 << 20

// GatewayWebhook is the single ingress for all provider notifications. The
// HTTP status comes from the error taxonomy: outcomes a provider retry cannot
// improve answer 200 so the gateway stops redelivering.
func GatewayWebhook(svc reconcile.Service, cfg config.ReconcileConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		gateway, err := enums.ParseGateway(chi.URLParam(r, "gateway"))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "unknown gateway"))
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "read webhook body"))
			return
		}

		if logg != nil {
			ctx = logg.WithGateway(ctx, gateway.String())
		}
		if cfg.WebhookTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.WebhookTimeout)
			defer cancel()
		}

		receipt, err := svc.HandleWebhook(ctx, gateway, r.Header, body)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{
			"outcome":         receipt.Outcome,
			"credits_applied": len(receipt.Credits),
		})
	}
}

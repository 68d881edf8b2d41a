package controllers

import (
	"net/http"

	"github.com/fidelizapay/fideliza-backend/api/responses"
	"github.com/fidelizapay/fideliza-backend/api/validators"
	"github.com/fidelizapay/fideliza-backend/internal/reconcile"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

type ReprocessEventBody struct {
	Gateway         string `json:"gateway" validate:"required,oneof=pagarme mercadopago openpix paghiper"`
	ExternalEventID string `json:"external_event_id" validate:"required,min=1,max=256"`
}

// AdminReprocessEvent reopens a committed gateway event and runs it through
// the pipeline again. Used by operators after fixing whatever produced the
// original outcome, typically a missing invoice.
func AdminReprocessEvent(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body ReprocessEventBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		gateway, err := enums.ParseGateway(body.Gateway)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown gateway"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"gateway":           gateway.String(),
				"external_event_id": body.ExternalEventID,
			})
			logg.Info(ctx, "manual event reprocess requested")
		}

		receipt, err := svc.Reprocess(ctx, gateway, body.ExternalEventID)
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

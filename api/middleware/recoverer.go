package middleware

import (
	"fmt"
	"net/http"

	"github.com/fidelizapay/fideliza-backend/api/responses"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// Recoverer converts handler panics into a logged 500. A panic mid-webhook
// leaves the event uncommitted in the ledger, so the provider's retry will
// pick it up again.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("panic: %v", rec)
					ctx := r.Context()
					if logg != nil {
						ctx = logg.WithFields(ctx, map[string]any{"panic": rec})
						logg.Error(ctx, "panic.recovered", err)
					}
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

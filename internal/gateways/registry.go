package gateways

import (
	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// Registry resolves the adapter for a gateway slug taken off the wire.
type Registry struct {
	adapters map[enums.Gateway]Adapter
}

func NewRegistry(cfg config.GatewaysConfig, logg *logger.Logger) *Registry {
	freshness := cfg.SignatureFreshness
	adapters := []Adapter{
		NewPagarmeAdapter(cfg.Pagarme(), freshness, logg),
		NewMercadoPagoAdapter(cfg.MercadoPago(), freshness, logg),
		NewOpenPixAdapter(cfg.OpenPix(), logg),
		NewPagHiperAdapter(logg),
	}
	byGateway := make(map[enums.Gateway]Adapter, len(adapters))
	for _, adapter := range adapters {
		byGateway[adapter.Gateway()] = adapter
	}
	return &Registry{adapters: byGateway}
}

// Resolve returns the adapter for the given gateway. Unknown slugs surface as
// CodeNotFound so the webhook boundary answers 404 instead of acknowledging.
func (r *Registry) Resolve(gateway enums.Gateway) (Adapter, error) {
	adapter, ok := r.adapters[gateway]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no adapter registered for gateway "+gateway.String())
	}
	return adapter, nil
}

// Gateways lists the registered gateways. Order is not guaranteed; callers
// needing a stable order should sort.
func (r *Registry) Gateways() []enums.Gateway {
	out := make([]enums.Gateway, 0, len(r.adapters))
	for gw := range r.adapters {
		out = append(out, gw)
	}
	return out
}

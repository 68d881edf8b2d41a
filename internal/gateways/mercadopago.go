package gateways

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fidelizapay/fideliza-backend/pkg/config"
	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

const (
	mercadoPagoSignatureHeader = "X-Signature"
	mercadoPagoRequestIDHeader = "X-Request-Id"
)

// MercadoPagoAdapter handles PIX processor A. The X-Signature header carries
// "ts=<unix>,v1=<hmac>" and the digest covers request id + ts + body.
type MercadoPagoAdapter struct {
	secret    string
	freshness time.Duration
	logg      *logger.Logger
	now       func() time.Time
}

func NewMercadoPagoAdapter(cfg config.GatewayConfig, freshness time.Duration, logg *logger.Logger) *MercadoPagoAdapter {
	return &MercadoPagoAdapter{
		secret:    strings.TrimSpace(cfg.WebhookSecret),
		freshness: freshness,
		logg:      logg,
		now:       time.Now,
	}
}

func (a *MercadoPagoAdapter) Gateway() enums.Gateway {
	return enums.GatewayMercadoPago
}

func (a *MercadoPagoAdapter) VerifySignature(header http.Header, body []byte) error {
	if a.secret == "" {
		if a.logg != nil {
			a.logg.Warn(context.Background(), "mercadopago webhook secret not configured; rejecting event")
		}
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "mercadopago webhook secret not configured")
	}
	raw := header.Get(mercadoPagoSignatureHeader)
	if raw == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "mercadopago signature header missing")
	}
	requestID := strings.TrimSpace(header.Get(mercadoPagoRequestIDHeader))
	if requestID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "mercadopago request id header missing")
	}
	pairs := parseSignatureHeader(raw)
	ts, ok := parseUnixOrRFC3339(pairs["ts"])
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "mercadopago signature timestamp missing")
	}
	if !withinFreshness(ts, a.freshness, a.now) {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "mercadopago signature timestamp outside freshness window")
	}
	expected := hmacSHA256Hex(a.secret, []byte(requestID), []byte(pairs["ts"]), body)
	if !hmacEqualHex(expected, pairs["v1"]) {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "mercadopago signature mismatch")
	}
	return nil
}

type mercadoPagoEnvelope struct {
	ID     json.Number `json:"id"`
	Action string      `json:"action"`
	Date   string      `json:"date_created"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *MercadoPagoAdapter) Normalize(header http.Header, body []byte) (*PaymentEvent, error) {
	var envelope mercadoPagoEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decode mercadopago event")
	}

	kind, ok := mercadoPagoEventKind(envelope.Action)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "mercadopago action "+envelope.Action+" is not actionable")
	}
	chargeID := strings.TrimSpace(envelope.Data.ID)
	if chargeID == "" {
		// Mercado Pago sends connectivity probes without a payment id.
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "mercadopago event has no payment id")
	}

	occurredAt, ok := parseUnixOrRFC3339(envelope.Date)
	if !ok {
		occurredAt = a.now().UTC()
	}
	eventID := strings.TrimSpace(envelope.ID.String())
	if eventID == "" || eventID == "0" {
		eventID = syntheticEventID(a.Gateway(), chargeID, envelope.Action, occurredAt)
	}

	return &PaymentEvent{
		Gateway:          a.Gateway(),
		ExternalEventID:  eventID,
		ExternalChargeID: chargeID,
		Kind:             kind,
		OccurredAt:       occurredAt,
		RawPayload:       body,
	}, nil
}

func mercadoPagoEventKind(action string) (enums.PaymentEventKind, bool) {
	switch action {
	case "payment.approved":
		return enums.PaymentEventChargeSucceeded, true
	case "payment.rejected":
		return enums.PaymentEventChargeFailed, true
	case "payment.expired":
		return enums.PaymentEventChargeExpired, true
	case "payment.cancelled":
		return enums.PaymentEventChargeCanceled, true
	default:
		return "", false
	}
}

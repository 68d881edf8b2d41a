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

const pagarmeSignatureHeader = "X-Pagarme-Signature"

// PagarmeAdapter handles the card processor. Its signature header carries
// "t=<unix>,v1=<hmac>" where the digest covers "<t>.<body>".
type PagarmeAdapter struct {
	secret    string
	freshness time.Duration
	logg      *logger.Logger
	now       func() time.Time
}

func NewPagarmeAdapter(cfg config.GatewayConfig, freshness time.Duration, logg *logger.Logger) *PagarmeAdapter {
	return &PagarmeAdapter{
		secret:    strings.TrimSpace(cfg.WebhookSecret),
		freshness: freshness,
		logg:      logg,
		now:       time.Now,
	}
}

func (a *PagarmeAdapter) Gateway() enums.Gateway {
	return enums.GatewayPagarme
}

func (a *PagarmeAdapter) VerifySignature(header http.Header, body []byte) error {
	if a.secret == "" {
		if a.logg != nil {
			a.logg.Warn(context.Background(), "pagarme webhook secret not configured; rejecting event")
		}
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "pagarme webhook secret not configured")
	}
	raw := header.Get(pagarmeSignatureHeader)
	if raw == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "pagarme signature header missing")
	}
	pairs := parseSignatureHeader(raw)
	ts, ok := parseUnixOrRFC3339(pairs["t"])
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "pagarme signature timestamp missing")
	}
	if !withinFreshness(ts, a.freshness, a.now) {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "pagarme signature timestamp outside freshness window")
	}
	expected := hmacSHA256Hex(a.secret, []byte(pairs["t"]), []byte("."), body)
	if !hmacEqualHex(expected, pairs["v1"]) {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "pagarme signature mismatch")
	}
	return nil
}

type pagarmeEnvelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func (a *PagarmeAdapter) Normalize(header http.Header, body []byte) (*PaymentEvent, error) {
	var envelope pagarmeEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decode pagarme event")
	}

	kind, ok := pagarmeEventKind(envelope.Type)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "pagarme event type "+envelope.Type+" is not actionable")
	}
	chargeID := strings.TrimSpace(envelope.Data.Object.ID)
	if chargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "pagarme event has no charge id")
	}

	occurredAt, ok := parseUnixOrRFC3339(envelope.CreatedAt)
	if !ok {
		occurredAt = a.now().UTC()
	}
	eventID := strings.TrimSpace(envelope.ID)
	if eventID == "" {
		eventID = syntheticEventID(a.Gateway(), chargeID, envelope.Type, occurredAt)
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

// CardDetails pulls the display-only instrument metadata off a card
// processor payload. Missing fields come back empty; callers treat the pair
// as optional.
func CardDetails(raw []byte) (brand, last4 string) {
	var envelope struct {
		Data struct {
			Object struct {
				LastTransaction struct {
					Card struct {
						Brand    string `json:"brand"`
						LastFour string `json:"last_four_digits"`
					} `json:"card"`
				} `json:"last_transaction"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", ""
	}
	card := envelope.Data.Object.LastTransaction.Card
	return strings.ToLower(card.Brand), card.LastFour
}

func pagarmeEventKind(eventType string) (enums.PaymentEventKind, bool) {
	switch eventType {
	case "charge.paid":
		return enums.PaymentEventChargeSucceeded, true
	case "charge.payment_failed":
		return enums.PaymentEventChargeFailed, true
	case "charge.expired":
		return enums.PaymentEventChargeExpired, true
	case "charge.canceled":
		return enums.PaymentEventChargeCanceled, true
	default:
		return "", false
	}
}

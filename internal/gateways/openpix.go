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

const openPixSignatureHeader = "X-Webhook-Signature"

// OpenPixAdapter handles PIX processor B. The signature header is a plain
// hex HMAC-SHA256 of the raw body; no timestamp is signed, so replay defense
// falls to the dedup ledger.
type OpenPixAdapter struct {
	secret string
	logg   *logger.Logger
	now    func() time.Time
}

func NewOpenPixAdapter(cfg config.GatewayConfig, logg *logger.Logger) *OpenPixAdapter {
	return &OpenPixAdapter{
		secret: strings.TrimSpace(cfg.WebhookSecret),
		logg:   logg,
		now:    time.Now,
	}
}

func (a *OpenPixAdapter) Gateway() enums.Gateway {
	return enums.GatewayOpenPix
}

func (a *OpenPixAdapter) VerifySignature(header http.Header, body []byte) error {
	if a.secret == "" {
		if a.logg != nil {
			a.logg.Warn(context.Background(), "openpix webhook secret not configured; rejecting event")
		}
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "openpix webhook secret not configured")
	}
	provided := header.Get(openPixSignatureHeader)
	if provided == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "openpix signature header missing")
	}
	expected := hmacSHA256Hex(a.secret, body)
	if !hmacEqualHex(expected, provided) {
		return pkgerrors.New(pkgerrors.CodeInvalidSignature, "openpix signature mismatch")
	}
	return nil
}

type openPixEnvelope struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	CreatedAt string `json:"createdAt"`
	Data      struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (a *OpenPixAdapter) Normalize(header http.Header, body []byte) (*PaymentEvent, error) {
	var envelope openPixEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decode openpix event")
	}

	kind, ok := openPixEventKind(envelope.Type)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "openpix event type "+envelope.Type+" is not actionable")
	}
	chargeID := strings.TrimSpace(envelope.Data.ID)
	if chargeID == "" {
		// The dashboard "test webhook" button sends an empty data object.
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "openpix event has no charge id")
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

func openPixEventKind(eventType string) (enums.PaymentEventKind, bool) {
	switch eventType {
	case "CHARGE_COMPLETED":
		return enums.PaymentEventChargeSucceeded, true
	case "CHARGE_EXPIRED":
		return enums.PaymentEventChargeExpired, true
	case "CHARGE_FAILED":
		return enums.PaymentEventChargeFailed, true
	case "CHARGE_CANCELED":
		return enums.PaymentEventChargeCanceled, true
	default:
		return "", false
	}
}

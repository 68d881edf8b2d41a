package gateways

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
	pkgerrors "github.com/fidelizapay/fideliza-backend/pkg/errors"
	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

// PagHiperAdapter handles the PIX aggregator. The provider documents no
// webhook signature scheme, so verification is a no-op and correctness rests
// entirely on the dedup ledger and the invoice state guards.
type PagHiperAdapter struct {
	logg *logger.Logger
	now  func() time.Time
}

func NewPagHiperAdapter(logg *logger.Logger) *PagHiperAdapter {
	return &PagHiperAdapter{logg: logg, now: time.Now}
}

func (a *PagHiperAdapter) Gateway() enums.Gateway {
	return enums.GatewayPagHiper
}

func (a *PagHiperAdapter) VerifySignature(header http.Header, body []byte) error {
	return nil
}

type pagHiperEnvelope struct {
	TransactionID  string `json:"transaction_id"`
	Status         string `json:"status"`
	StatusDate     string `json:"status_date"`
	NotificationID string `json:"notification_id"`
}

func (a *PagHiperAdapter) Normalize(header http.Header, body []byte) (*PaymentEvent, error) {
	var envelope pagHiperEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "decode paghiper event")
	}

	kind, ok := pagHiperEventKind(envelope.Status)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "paghiper status "+envelope.Status+" is not actionable")
	}
	chargeID := strings.TrimSpace(envelope.TransactionID)
	if chargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotActionable, "paghiper event has no transaction id")
	}

	occurredAt, okTS := parseUnixOrRFC3339(envelope.StatusDate)
	if !okTS {
		occurredAt = a.now().UTC()
	}
	eventID := strings.TrimSpace(envelope.NotificationID)
	if eventID == "" {
		eventID = syntheticEventID(a.Gateway(), chargeID, envelope.Status, occurredAt)
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

func pagHiperEventKind(status string) (enums.PaymentEventKind, bool) {
	switch strings.ToLower(status) {
	case "paid", "completed":
		return enums.PaymentEventChargeSucceeded, true
	case "refused":
		return enums.PaymentEventChargeFailed, true
	case "expired":
		return enums.PaymentEventChargeExpired, true
	case "canceled":
		return enums.PaymentEventChargeCanceled, true
	default:
		return "", false
	}
}

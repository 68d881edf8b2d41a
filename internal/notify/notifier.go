package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/fidelizapay/fideliza-backend/pkg/logger"
)

const publishTimeout = 10 * time.Second

// CashbackCredited is the message emitted after a credit lands, consumed by
// the email/WhatsApp messaging service.
type CashbackCredited struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	UserID        uuid.UUID `json:"user_id"`
	StoreID       uuid.UUID `json:"store_id"`
	InvoiceID     uuid.UUID `json:"invoice_id"`
	AmountCents   int64     `json:"amount_cents"`
	CreditedAt    time.Time `json:"credited_at"`
}

// Notifier publishes post-commit domain notifications. Callers must treat it
// as fire-and-forget: a publish failure never rolls back the financial
// transition that triggered it.
type Notifier interface {
	CashbackCredited(ctx context.Context, event CashbackCredited)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) *gcppubsub.PublishResult
}

type notifier struct {
	pub  publisher
	logg *logger.Logger
}

// NewNotifier wraps a Pub/Sub publisher. A nil publisher yields a notifier
// that only logs, so deployments without Pub/Sub still run.
func NewNotifier(pub *gcppubsub.Publisher, logg *logger.Logger) Notifier {
	if pub == nil {
		return &notifier{logg: logg}
	}
	return &notifier{pub: pub, logg: logg}
}

func (n *notifier) CashbackCredited(ctx context.Context, event CashbackCredited) {
	fields := map[string]any{
		"transaction_id": event.TransactionID.String(),
		"user_id":        event.UserID.String(),
		"amount_cents":   event.AmountCents,
	}
	if n.pub == nil {
		n.logWarn(ctx, fields, "notification publisher not configured; dropping cashback.credited")
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		n.logError(ctx, fields, fmt.Errorf("marshal cashback.credited: %w", err))
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	result := n.pub.Publish(publishCtx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type":  "cashback.credited",
			"user_id":     event.UserID.String(),
			"store_id":    event.StoreID.String(),
			"credited_at": event.CreditedAt.Format(time.RFC3339Nano),
		},
	})
	if _, err := result.Get(publishCtx); err != nil {
		n.logError(ctx, fields, fmt.Errorf("publish cashback.credited: %w", err))
		return
	}

	if n.logg != nil {
		n.logg.Info(n.logg.WithFields(ctx, fields), "cashback.credited published")
	}
}

func (n *notifier) logWarn(ctx context.Context, fields map[string]any, msg string) {
	if n.logg == nil {
		return
	}
	n.logg.Warn(n.logg.WithFields(ctx, fields), msg)
}

func (n *notifier) logError(ctx context.Context, fields map[string]any, err error) {
	if n.logg == nil {
		return
	}
	n.logg.Error(n.logg.WithFields(ctx, fields), "cashback notification failed", err)
}

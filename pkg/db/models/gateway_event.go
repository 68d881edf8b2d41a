package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// GatewayEvent is the durable idempotency record for one provider
// notification. Rows are insert-only; processed_at and outcome are the only
// fields written after creation. A NULL processed_at marks an attempt that
// died mid-processing and is eligible for the sweep.
type GatewayEvent struct {
	ID               uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Gateway          enums.Gateway          `gorm:"column:gateway;not null;uniqueIndex:idx_gateway_events_dedup,priority:1"`
	ExternalEventID  string                 `gorm:"column:external_event_id;not null;uniqueIndex:idx_gateway_events_dedup,priority:2"`
	ExternalChargeID string                 `gorm:"column:external_charge_id;index"`
	Kind             enums.PaymentEventKind `gorm:"column:kind;not null"`
	RawPayload       json.RawMessage        `gorm:"column:raw_payload;type:jsonb"`
	ReceivedAt       time.Time              `gorm:"column:received_at;not null;autoCreateTime"`
	ProcessedAt      *time.Time             `gorm:"column:processed_at"`
	Outcome          *enums.EventOutcome    `gorm:"column:outcome"`
}

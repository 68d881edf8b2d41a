package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// Invoice is one billable cycle of a store subscription. Status is mutated
// exclusively by the invoice state machine; paid is terminal apart from the
// card display metadata attached at the paid transition.
type Invoice struct {
	ID               uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID   uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	StoreID          uuid.UUID           `gorm:"column:store_id;type:uuid;not null;index"`
	AmountCents      int64               `gorm:"column:amount_cents;not null"`
	// PeriodEnd is the billing-cycle boundary this invoice pays for; the
	// period advancer keys its idempotency check on it.
	PeriodEnd        time.Time           `gorm:"column:period_end;not null"`
	Gateway          enums.Gateway       `gorm:"column:gateway;not null;uniqueIndex:idx_invoices_gateway_charge,priority:1"`
	ExternalChargeID *string             `gorm:"column:external_charge_id;uniqueIndex:idx_invoices_gateway_charge,priority:2"`
	Status           enums.InvoiceStatus `gorm:"column:status;not null;default:'pending'"`
	PaidAt           *time.Time          `gorm:"column:paid_at"`
	CardBrand        *string             `gorm:"column:card_brand"`
	CardLast4        *string             `gorm:"column:card_last4"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

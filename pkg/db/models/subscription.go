package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// Subscription persists a store's recurring commission plan. Period fields
// are mutated only by the period advancer, strictly after the triggering
// invoice is confirmed paid.
type Subscription struct {
	ID                 uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StoreID            uuid.UUID                `gorm:"column:store_id;type:uuid;not null;index"`
	PlanID             uuid.UUID                `gorm:"column:plan_id;type:uuid;not null"`
	Status             enums.SubscriptionStatus `gorm:"column:status;not null;default:'active'"`
	CurrentPeriodStart time.Time                `gorm:"column:current_period_start;not null"`
	CurrentPeriodEnd   time.Time                `gorm:"column:current_period_end;not null"`
	NextInvoiceDate    *time.Time               `gorm:"column:next_invoice_date"`
	CanceledAt         *time.Time               `gorm:"column:canceled_at"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// CashbackTransaction is one client's accrual at one store, pending until the
// commission payment that funds it is confirmed. The approved transition and
// the balance credit happen in the same unit of work or not at all.
type CashbackTransaction struct {
	ID          uuid.UUID            `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID            `gorm:"column:user_id;type:uuid;not null;index"`
	StoreID     uuid.UUID            `gorm:"column:store_id;type:uuid;not null;index"`
	InvoiceID   uuid.UUID            `gorm:"column:invoice_id;type:uuid;not null;index"`
	AmountCents int64                `gorm:"column:amount_cents;not null"`
	Status      enums.CashbackStatus `gorm:"column:status;not null;default:'pending'"`
	ApprovedAt  *time.Time           `gorm:"column:approved_at"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

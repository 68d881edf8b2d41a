package models

import (
	"time"

	"github.com/google/uuid"
)

// CashbackBalance is the per user+store accrued credit. Amount columns are
// only ever changed through single-statement atomic increments.
type CashbackBalance struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID             uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_cashback_balances_user_store,priority:1"`
	StoreID            uuid.UUID `gorm:"column:store_id;type:uuid;not null;uniqueIndex:idx_cashback_balances_user_store,priority:2"`
	AvailableCents     int64     `gorm:"column:available_cents;not null;default:0"`
	TotalCreditedCents int64     `gorm:"column:total_credited_cents;not null;default:0"`
	TotalUsedCents     int64     `gorm:"column:total_used_cents;not null;default:0"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

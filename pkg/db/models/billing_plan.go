package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fidelizapay/fideliza-backend/pkg/enums"
)

// BillingPlan defines the recurring commission a store pays and the cashback
// rate its clients accrue.
type BillingPlan struct {
	ID           uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string                `gorm:"column:name;not null"`
	Price        decimal.Decimal       `gorm:"column:price;type:numeric(12,2);not null"`
	Interval     enums.BillingInterval `gorm:"column:interval;not null;default:'monthly'"`
	CashbackRate decimal.Decimal       `gorm:"column:cashback_rate;type:numeric(5,4);not null"`
	Active       bool                  `gorm:"column:active;not null;default:true"`
	CreatedAt    time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

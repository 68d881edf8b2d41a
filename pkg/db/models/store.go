package models

import (
	"time"

	"github.com/google/uuid"
)

// Store is the merchant aggregate. The reconciliation engine only reads
// store IDs; profile fields belong to the storefront subsystem.
type Store struct {
	ID                 uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name               string    `gorm:"column:name;not null"`
	SubscriptionActive bool      `gorm:"column:subscription_active;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

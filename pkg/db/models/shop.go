package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Shop is the tenant a shop owner brokers sales through.
type Shop struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID        uuid.UUID       `gorm:"column:owner_id;type:uuid;not null;index:idx_shops_owner"`
	Name           string          `gorm:"column:name;not null"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shop) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

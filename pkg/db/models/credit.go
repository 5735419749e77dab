package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Credit is store credit the shop grants a buyer, applied later against that
// buyer's transactions as CREDIT_OFFSET allocations. The unapplied remainder
// is always derived from the allocation rows.
type Credit struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ShopID      uuid.UUID       `gorm:"column:shop_id;type:uuid;not null;index:idx_credits_shop_buyer,priority:1"`
	BuyerID     uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null;index:idx_credits_shop_buyer,priority:2"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(15,2);not null"`
	Description *string         `gorm:"column:description"`
	CreatedBy   uuid.UUID       `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (c *Credit) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

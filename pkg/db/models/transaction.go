package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Transaction is a brokered sale from a farmer to a buyer through a shop.
// FarmerEarning always equals TotalAmount minus CommissionAmount.
type Transaction struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ShopID           uuid.UUID               `gorm:"column:shop_id;type:uuid;not null;index:idx_transactions_shop_date,priority:1"`
	FarmerID         uuid.UUID               `gorm:"column:farmer_id;type:uuid;not null;index:idx_transactions_farmer"`
	BuyerID          uuid.UUID               `gorm:"column:buyer_id;type:uuid;not null;index:idx_transactions_buyer"`
	Quantity         decimal.Decimal         `gorm:"column:quantity;type:numeric(15,3);not null"`
	UnitPrice        decimal.Decimal         `gorm:"column:unit_price;type:numeric(15,2);not null"`
	TotalAmount      decimal.Decimal         `gorm:"column:total_amount;type:numeric(15,2);not null"`
	CommissionRate   decimal.Decimal         `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CommissionAmount decimal.Decimal         `gorm:"column:commission_amount;type:numeric(15,2);not null"`
	FarmerEarning    decimal.Decimal         `gorm:"column:farmer_earning;type:numeric(15,2);not null"`
	Status           enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null"`
	// SettledFrom is the status held before settlement marked the row settled.
	SettledFrom     *enums.TransactionStatus `gorm:"column:settled_from;type:transaction_status"`
	TransactionDate time.Time                `gorm:"column:transaction_date;not null;index:idx_transactions_shop_date,priority:2"`
	Notes           *string                  `gorm:"column:notes"`
	CreatedBy       uuid.UUID                `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt       time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Expense is a shop expense or advance owed by a user that can be offset
// against that user's transactions. The remaining amount is always derived.
type Expense struct {
	ID          uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ShopID      uuid.UUID           `gorm:"column:shop_id;type:uuid;not null;index:idx_expenses_shop"`
	UserID      uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index:idx_expenses_user_status,priority:1"`
	Amount      decimal.Decimal     `gorm:"column:amount;type:numeric(15,2);not null"`
	Type        enums.ExpenseType   `gorm:"column:type;type:expense_type;not null"`
	Status      enums.ExpenseStatus `gorm:"column:status;type:expense_status;not null;index:idx_expenses_user_status,priority:2"`
	Description *string             `gorm:"column:description"`
	CreatedBy   uuid.UUID           `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt   time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *Expense) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ExpenseRepayment records the part of a FARMER to SHOP repayment that paid
// down one expense or advance.
type ExpenseRepayment struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ExpenseID uuid.UUID       `gorm:"column:expense_id;type:uuid;not null;index:idx_expense_repayments_expense"`
	PaymentID uuid.UUID       `gorm:"column:payment_id;type:uuid;not null;index:idx_expense_repayments_payment"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(15,2);not null"`
	RepaidAt  time.Time       `gorm:"column:repaid_at;not null"`
	CreatedBy uuid.UUID       `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (r *ExpenseRepayment) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

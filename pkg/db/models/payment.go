package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Payment records money moving between two parties. Amount is immutable once PAID.
type Payment struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ShopID         uuid.UUID           `gorm:"column:shop_id;type:uuid;not null;index:idx_payments_shop_status,priority:1"`
	TransactionID  *uuid.UUID          `gorm:"column:transaction_id;type:uuid;index:idx_payments_transaction"`
	CounterpartyID *uuid.UUID          `gorm:"column:counterparty_id;type:uuid;index:idx_payments_counterparty"`
	BulkPaymentID  *uuid.UUID          `gorm:"column:bulk_payment_id;type:uuid;index:idx_payments_bulk"`
	PayerType      enums.PaymentParty  `gorm:"column:payer_type;type:payment_party;not null"`
	PayeeType      enums.PaymentParty  `gorm:"column:payee_type;type:payment_party;not null"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(15,2);not null"`
	Method         enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Status         enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;index:idx_payments_shop_status,priority:2"`
	PaymentDate    time.Time           `gorm:"column:payment_date;not null"`
	Notes          *string             `gorm:"column:notes"`
	ForceOverride  bool                `gorm:"column:force_override;not null;default:false"`
	CreatedBy      uuid.UUID           `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Payment) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// IsRepayment reports whether the payment returns money from a farmer to the shop.
func (p Payment) IsRepayment() bool {
	return p.PayerType == enums.PaymentPartyFarmer
}

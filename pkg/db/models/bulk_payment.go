package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// BulkPayment is the committed header of a multi-line payment batch.
// Rejected batches are never persisted.
type BulkPayment struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	ShopID         uuid.UUID              `gorm:"column:shop_id;type:uuid;not null;uniqueIndex:ux_bulk_payments_shop_key,priority:1"`
	IdempotencyKey string                 `gorm:"column:idempotency_key;not null;uniqueIndex:ux_bulk_payments_shop_key,priority:2"`
	RequestHash    string                 `gorm:"column:request_hash;not null"`
	State          enums.BulkPaymentState `gorm:"column:state;type:bulk_payment_state;not null"`
	PayerType      enums.PaymentParty     `gorm:"column:payer_type;type:payment_party;not null"`
	PayeeType      enums.PaymentParty     `gorm:"column:payee_type;type:payment_party;not null"`
	Method         enums.PaymentMethod    `gorm:"column:method;type:payment_method;not null"`
	PaymentStatus  enums.PaymentStatus    `gorm:"column:payment_status;type:payment_status;not null"`
	TotalAmount    decimal.Decimal        `gorm:"column:total_amount;type:numeric(15,2);not null"`
	LineCount      int                    `gorm:"column:line_count;not null"`
	Notes          *string                `gorm:"column:notes"`
	CreatedBy      uuid.UUID              `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (b *BulkPayment) BeforeCreate(*gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

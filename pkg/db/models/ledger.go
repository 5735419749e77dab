package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// LedgerAccount holds the running balance per (user, balance type) and is the
// row locked while a snapshot is appended.
type LedgerAccount struct {
	UserID         uuid.UUID         `gorm:"column:user_id;type:uuid;primaryKey"`
	BalanceType    enums.BalanceType `gorm:"column:balance_type;type:balance_type;primaryKey"`
	CurrentBalance decimal.Decimal   `gorm:"column:current_balance;type:numeric(15,2);not null"`
	LastSequence   int64             `gorm:"column:last_sequence;not null;default:0"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// BalanceSnapshot is an immutable entry in a user's balance history.
type BalanceSnapshot struct {
	ID              uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID                  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_balance_snapshots_sequence,priority:1"`
	BalanceType     enums.BalanceType          `gorm:"column:balance_type;type:balance_type;not null;uniqueIndex:ux_balance_snapshots_sequence,priority:2"`
	Sequence        int64                      `gorm:"column:sequence;not null;uniqueIndex:ux_balance_snapshots_sequence,priority:3"`
	PreviousBalance decimal.Decimal            `gorm:"column:previous_balance;type:numeric(15,2);not null"`
	AmountChange    decimal.Decimal            `gorm:"column:amount_change;type:numeric(15,2);not null"`
	NewBalance      decimal.Decimal            `gorm:"column:new_balance;type:numeric(15,2);not null"`
	TransactionType enums.BalanceChangeType    `gorm:"column:transaction_type;type:balance_change_type;not null"`
	ReferenceID     uuid.UUID                  `gorm:"column:reference_id;type:uuid;not null;index:idx_balance_snapshots_reference"`
	ReferenceType   enums.BalanceReferenceType `gorm:"column:reference_type;not null"`
	Description     *string                    `gorm:"column:description"`
	CreatedAt       time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (BalanceSnapshot) TableName() string {
	return "ledger_balance_snapshots"
}

func (s *BalanceSnapshot) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

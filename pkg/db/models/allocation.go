package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Allocation applies part of a source (payment, expense, credit) to one transaction.
// Rows are append-only; a reversal is a second ADJUSTMENT row with a negated
// amount that points at the original through ReversalOfID.
type Allocation struct {
	ID              uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	SourceType      enums.AllocationSourceType `gorm:"column:source_type;type:allocation_source_type;not null;index:idx_allocations_source,priority:1"`
	SourceID        uuid.UUID                  `gorm:"column:source_id;type:uuid;not null;index:idx_allocations_source,priority:2"`
	TransactionID   uuid.UUID                  `gorm:"column:transaction_id;type:uuid;not null;index:idx_allocations_transaction"`
	AllocatedAmount decimal.Decimal            `gorm:"column:allocated_amount;type:numeric(15,2);not null"`
	AllocationDate  time.Time                  `gorm:"column:allocation_date;not null"`
	Notes           *string                    `gorm:"column:notes"`
	ReversalOfID    *uuid.UUID                 `gorm:"column:reversal_of_id;type:uuid;uniqueIndex:ux_allocations_reversal_of"`
	CreatedBy       uuid.UUID                  `gorm:"column:created_by;type:uuid;not null"`
	CreatedAt       time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (a *Allocation) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// IsReversal reports whether the row offsets an earlier allocation.
func (a Allocation) IsReversal() bool {
	return a.ReversalOfID != nil
}

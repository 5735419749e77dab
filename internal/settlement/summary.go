package settlement

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Tolerance is the rounding slack applied to every settlement comparison.
var Tolerance = decimal.New(1, -2)

// Breakdown splits the settled amount by instrument.
type Breakdown struct {
	SettledViaPayments    decimal.Decimal `json:"settled_via_payments"`
	PaymentCount          int             `json:"payment_count"`
	SettledViaExpenses    decimal.Decimal `json:"settled_via_expenses"`
	ExpenseOffsetCount    int             `json:"expense_offset_count"`
	SettledViaCredits     decimal.Decimal `json:"settled_via_credits"`
	CreditOffsetCount     int             `json:"credit_offset_count"`
	SettledViaAdjustments decimal.Decimal `json:"settled_via_adjustments"`
	AdjustmentCount       int             `json:"adjustment_count"`
}

// Entry is one allocation as seen from the transaction it settles.
type Entry struct {
	AllocationID   uuid.UUID                  `json:"allocation_id"`
	SettlementType enums.AllocationSourceType `json:"settlement_type"`
	SourceID       uuid.UUID                  `json:"source_id"`
	Amount         decimal.Decimal            `json:"amount"`
	SettledDate    time.Time                  `json:"settled_date"`
	Notes          *string                    `json:"notes,omitempty"`
	ReversalOfID   *uuid.UUID                 `json:"reversal_of_id,omitempty"`
}

// Summary is the derived settlement view of one transaction.
type Summary struct {
	TransactionID    uuid.UUID              `json:"transaction_id"`
	TotalAmount      decimal.Decimal        `json:"total_amount"`
	SettledAmount    decimal.Decimal        `json:"settled_amount"`
	PendingAmount    decimal.Decimal        `json:"pending_amount"`
	SettlementStatus enums.SettlementStatus `json:"settlement_status"`
	Breakdown        Breakdown              `json:"breakdown"`
	Settlements      []Entry                `json:"settlements"`
}

// ExpenseAllocation is one allocation as seen from the expense that funded it.
type ExpenseAllocation struct {
	AllocationID   uuid.UUID       `json:"allocation_id"`
	TransactionID  uuid.UUID       `json:"transaction_id"`
	Amount         decimal.Decimal `json:"amount"`
	AllocationDate time.Time       `json:"allocation_date"`
	Notes          *string         `json:"notes,omitempty"`
}

// ExpenseRepaid is one repayment as seen from the expense it paid down.
type ExpenseRepaid struct {
	RepaymentID uuid.UUID       `json:"repayment_id"`
	PaymentID   uuid.UUID       `json:"payment_id"`
	Amount      decimal.Decimal `json:"amount"`
	RepaidAt    time.Time       `json:"repaid_at"`
}

// ExpenseSummary is the derived allocation view of one expense or advance.
type ExpenseSummary struct {
	ExpenseID        uuid.UUID                     `json:"expense_id"`
	UserID           uuid.UUID                     `json:"user_id"`
	Type             enums.ExpenseType             `json:"type"`
	Status           enums.ExpenseStatus           `json:"status"`
	Amount           decimal.Decimal               `json:"amount"`
	AllocatedAmount  decimal.Decimal               `json:"allocated_amount"`
	RepaidAmount     decimal.Decimal               `json:"repaid_amount"`
	RemainingAmount  decimal.Decimal               `json:"remaining_amount"`
	AllocationStatus enums.ExpenseAllocationStatus `json:"allocation_status"`
	Allocations      []ExpenseAllocation           `json:"allocations"`
	Repayments       []ExpenseRepaid               `json:"repayments"`
}

// StatusFor classifies a transaction from its total and settled amounts.
func StatusFor(total, settled decimal.Decimal) enums.SettlementStatus {
	pending := total.Sub(settled)
	switch {
	case pending.LessThanOrEqual(Tolerance):
		return enums.SettlementFullySettled
	case settled.IsPositive() && settled.LessThan(total):
		return enums.SettlementPartiallySettled
	default:
		return enums.SettlementUnsettled
	}
}

// IsSettled reports whether pending is within tolerance of zero.
func IsSettled(pending decimal.Decimal) bool {
	return pending.LessThanOrEqual(Tolerance)
}

// SettledAmount sums the allocations that belong to transactionID, reversals included.
func SettledAmount(transactionID uuid.UUID, allocations []models.Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, alloc := range allocations {
		if alloc.TransactionID != transactionID {
			continue
		}
		total = total.Add(alloc.AllocatedAmount)
	}
	return total
}

// Summarize derives the settlement view of txn. Allocations for other
// transactions are ignored.
func Summarize(txn models.Transaction, allocations []models.Allocation) Summary {
	summary := Summary{
		TransactionID: txn.ID,
		TotalAmount:   txn.TotalAmount,
		Breakdown: Breakdown{
			SettledViaPayments:    decimal.Zero,
			SettledViaExpenses:    decimal.Zero,
			SettledViaCredits:     decimal.Zero,
			SettledViaAdjustments: decimal.Zero,
		},
		Settlements: make([]Entry, 0, len(allocations)),
	}

	settled := decimal.Zero
	for _, alloc := range allocations {
		if alloc.TransactionID != txn.ID {
			continue
		}
		settled = settled.Add(alloc.AllocatedAmount)

		b := &summary.Breakdown
		switch {
		case alloc.IsReversal(), alloc.SourceType == enums.AllocationSourceAdjustment:
			b.SettledViaAdjustments = b.SettledViaAdjustments.Add(alloc.AllocatedAmount)
			b.AdjustmentCount++
		case alloc.SourceType == enums.AllocationSourcePayment:
			b.SettledViaPayments = b.SettledViaPayments.Add(alloc.AllocatedAmount)
			b.PaymentCount++
		case alloc.SourceType == enums.AllocationSourceExpenseOffset:
			b.SettledViaExpenses = b.SettledViaExpenses.Add(alloc.AllocatedAmount)
			b.ExpenseOffsetCount++
		case alloc.SourceType == enums.AllocationSourceCreditOffset:
			b.SettledViaCredits = b.SettledViaCredits.Add(alloc.AllocatedAmount)
			b.CreditOffsetCount++
		}

		settlementType := alloc.SourceType
		if alloc.IsReversal() {
			settlementType = enums.AllocationSourceAdjustment
		}
		summary.Settlements = append(summary.Settlements, Entry{
			AllocationID:   alloc.ID,
			SettlementType: settlementType,
			SourceID:       alloc.SourceID,
			Amount:         alloc.AllocatedAmount,
			SettledDate:    alloc.AllocationDate,
			Notes:          alloc.Notes,
			ReversalOfID:   alloc.ReversalOfID,
		})
	}

	summary.SettledAmount = settled
	summary.PendingAmount = txn.TotalAmount.Sub(settled)
	summary.SettlementStatus = StatusFor(txn.TotalAmount, settled)
	return summary
}

// SummarizeExpense derives the allocation view of expense. Only
// EXPENSE_OFFSET allocations sourced from the expense, reversals of them, and
// repayments of the expense are counted.
func SummarizeExpense(expense models.Expense, allocations []models.Allocation, repayments []models.ExpenseRepayment) ExpenseSummary {
	summary := ExpenseSummary{
		ExpenseID:    expense.ID,
		UserID:       expense.UserID,
		Type:         expense.Type,
		Status:       expense.Status,
		Amount:       expense.Amount,
		RepaidAmount: decimal.Zero,
		Allocations:  make([]ExpenseAllocation, 0, len(allocations)),
		Repayments:   []ExpenseRepaid{},
	}

	allocated := decimal.Zero
	for _, alloc := range allocations {
		if alloc.SourceID != expense.ID {
			continue
		}
		if alloc.SourceType != enums.AllocationSourceExpenseOffset && !alloc.IsReversal() {
			continue
		}
		allocated = allocated.Add(alloc.AllocatedAmount)
		summary.Allocations = append(summary.Allocations, ExpenseAllocation{
			AllocationID:   alloc.ID,
			TransactionID:  alloc.TransactionID,
			Amount:         alloc.AllocatedAmount,
			AllocationDate: alloc.AllocationDate,
			Notes:          alloc.Notes,
		})
	}

	for _, repayment := range repayments {
		if repayment.ExpenseID != expense.ID {
			continue
		}
		summary.RepaidAmount = summary.RepaidAmount.Add(repayment.Amount)
		summary.Repayments = append(summary.Repayments, ExpenseRepaid{
			RepaymentID: repayment.ID,
			PaymentID:   repayment.PaymentID,
			Amount:      repayment.Amount,
			RepaidAt:    repayment.RepaidAt,
		})
	}

	summary.AllocatedAmount = allocated
	summary.RemainingAmount = expense.Amount.Sub(allocated).Sub(summary.RepaidAmount)
	consumed := allocated.Add(summary.RepaidAmount)
	switch {
	case !consumed.IsPositive():
		summary.AllocationStatus = enums.ExpenseUnallocated
	case summary.RemainingAmount.LessThanOrEqual(Tolerance):
		summary.AllocationStatus = enums.ExpenseFullyAllocated
	default:
		summary.AllocationStatus = enums.ExpensePartiallyAllocated
	}
	return summary
}

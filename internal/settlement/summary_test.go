package settlement

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

func allocation(sourceType enums.AllocationSourceType, txnID uuid.UUID, amount string) models.Allocation {
	return models.Allocation{
		ID:              uuid.New(),
		SourceType:      sourceType,
		SourceID:        uuid.New(),
		TransactionID:   txnID,
		AllocatedAmount: decimal.RequireFromString(amount),
		AllocationDate:  time.Now().UTC(),
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		total   string
		settled string
		want    enums.SettlementStatus
	}{
		{name: "nothing settled", total: "1000", settled: "0", want: enums.SettlementUnsettled},
		{name: "partial", total: "1000", settled: "600", want: enums.SettlementPartiallySettled},
		{name: "exact", total: "1000", settled: "1000", want: enums.SettlementFullySettled},
		{name: "within tolerance", total: "1000", settled: "999.99", want: enums.SettlementFullySettled},
		{name: "just outside tolerance", total: "1000", settled: "999.98", want: enums.SettlementPartiallySettled},
		{name: "net negative", total: "1000", settled: "-5", want: enums.SettlementUnsettled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatusFor(decimal.RequireFromString(tt.total), decimal.RequireFromString(tt.settled))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSummarizeBreakdown(t *testing.T) {
	txn := models.Transaction{ID: uuid.New(), TotalAmount: decimal.RequireFromString("1000")}

	payment := allocation(enums.AllocationSourcePayment, txn.ID, "600")
	reversalOf := payment.ID
	reversal := allocation(enums.AllocationSourceAdjustment, txn.ID, "-600")
	reversal.SourceID = payment.SourceID
	reversal.ReversalOfID = &reversalOf

	allocs := []models.Allocation{
		payment,
		allocation(enums.AllocationSourcePayment, txn.ID, "100"),
		allocation(enums.AllocationSourceExpenseOffset, txn.ID, "150"),
		allocation(enums.AllocationSourceCreditOffset, txn.ID, "50"),
		reversal,
		allocation(enums.AllocationSourcePayment, uuid.New(), "999"),
	}

	summary := Summarize(txn, allocs)

	dbtest.RequireDecimal(t, "300", summary.SettledAmount)
	dbtest.RequireDecimal(t, "700", summary.PendingAmount)
	assert.Equal(t, enums.SettlementPartiallySettled, summary.SettlementStatus)
	assert.Equal(t, 2, summary.Breakdown.PaymentCount)
	dbtest.RequireDecimal(t, "700", summary.Breakdown.SettledViaPayments)
	assert.Equal(t, 1, summary.Breakdown.ExpenseOffsetCount)
	dbtest.RequireDecimal(t, "150", summary.Breakdown.SettledViaExpenses)
	assert.Equal(t, 1, summary.Breakdown.CreditOffsetCount)
	dbtest.RequireDecimal(t, "50", summary.Breakdown.SettledViaCredits)
	assert.Equal(t, 1, summary.Breakdown.AdjustmentCount)
	dbtest.RequireDecimal(t, "-600", summary.Breakdown.SettledViaAdjustments)

	require.Len(t, summary.Settlements, 5)
	last := summary.Settlements[4]
	assert.Equal(t, enums.AllocationSourceAdjustment, last.SettlementType)
	require.NotNil(t, last.ReversalOfID)
	assert.Equal(t, payment.ID, *last.ReversalOfID)
}

func TestSummarizeReconciles(t *testing.T) {
	txn := models.Transaction{ID: uuid.New(), TotalAmount: decimal.RequireFromString("1234.56")}
	var allocs []models.Allocation
	for _, amount := range []string{"100.10", "200.20", "-100.10", "0.01", "934.35"} {
		allocs = append(allocs, allocation(enums.AllocationSourcePayment, txn.ID, amount))
		summary := Summarize(txn, allocs)
		assert.True(t, summary.SettledAmount.Add(summary.PendingAmount).Equal(txn.TotalAmount))
	}
	summary := Summarize(txn, allocs)
	assert.Equal(t, enums.SettlementFullySettled, summary.SettlementStatus)
	dbtest.RequireDecimal(t, "0", summary.PendingAmount)
}

func TestSummarizeEmpty(t *testing.T) {
	txn := models.Transaction{ID: uuid.New(), TotalAmount: decimal.RequireFromString("500")}
	summary := Summarize(txn, nil)
	assert.Equal(t, enums.SettlementUnsettled, summary.SettlementStatus)
	dbtest.RequireDecimal(t, "500", summary.PendingAmount)
	assert.NotNil(t, summary.Settlements)
}

func TestSummarizeExpense(t *testing.T) {
	expense := models.Expense{ID: uuid.New(), Amount: decimal.RequireFromString("150"), Status: enums.ExpenseStatusPending}

	summary := SummarizeExpense(expense, nil, nil)
	assert.Equal(t, enums.ExpenseUnallocated, summary.AllocationStatus)
	dbtest.RequireDecimal(t, "150", summary.RemainingAmount)

	first := allocation(enums.AllocationSourceExpenseOffset, uuid.New(), "100")
	first.SourceID = expense.ID
	summary = SummarizeExpense(expense, []models.Allocation{first}, nil)
	assert.Equal(t, enums.ExpensePartiallyAllocated, summary.AllocationStatus)
	dbtest.RequireDecimal(t, "50", summary.RemainingAmount)

	second := allocation(enums.AllocationSourceExpenseOffset, uuid.New(), "50")
	second.SourceID = expense.ID
	unrelated := allocation(enums.AllocationSourceExpenseOffset, uuid.New(), "70")
	summary = SummarizeExpense(expense, []models.Allocation{first, second, unrelated}, nil)
	assert.Equal(t, enums.ExpenseFullyAllocated, summary.AllocationStatus)
	dbtest.RequireDecimal(t, "150", summary.AllocatedAmount)
	dbtest.RequireDecimal(t, "0", summary.RemainingAmount)
	assert.Len(t, summary.Allocations, 2)
}

func TestSummarizeExpenseCountsRepayments(t *testing.T) {
	expense := models.Expense{ID: uuid.New(), Amount: decimal.RequireFromString("200"), Status: enums.ExpenseStatusPending}
	offset := allocation(enums.AllocationSourceExpenseOffset, uuid.New(), "50")
	offset.SourceID = expense.ID
	repaid := models.ExpenseRepayment{ID: uuid.New(), ExpenseID: expense.ID, PaymentID: uuid.New(), Amount: decimal.RequireFromString("120")}
	other := models.ExpenseRepayment{ID: uuid.New(), ExpenseID: uuid.New(), PaymentID: uuid.New(), Amount: decimal.RequireFromString("40")}

	summary := SummarizeExpense(expense, []models.Allocation{offset}, []models.ExpenseRepayment{repaid, other})
	dbtest.RequireDecimal(t, "50", summary.AllocatedAmount)
	dbtest.RequireDecimal(t, "120", summary.RepaidAmount)
	dbtest.RequireDecimal(t, "30", summary.RemainingAmount)
	assert.Equal(t, enums.ExpensePartiallyAllocated, summary.AllocationStatus)
	assert.Len(t, summary.Repayments, 1)

	summary = SummarizeExpense(expense, nil, []models.ExpenseRepayment{
		repaid,
		{ID: uuid.New(), ExpenseID: expense.ID, PaymentID: uuid.New(), Amount: decimal.RequireFromString("80")},
	})
	dbtest.RequireDecimal(t, "0", summary.RemainingAmount)
	assert.Equal(t, enums.ExpenseFullyAllocated, summary.AllocationStatus)
}

package allocations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

func (f *engineFixture) creditInput(credit *models.Credit, targets ...Target) AllocateInput {
	in := f.paymentInput(&models.Payment{}, targets...)
	in.SourceType = enums.AllocationSourceCreditOffset
	in.SourceID = credit.ID
	return in
}

func (f *engineFixture) status(t *testing.T, txn *models.Transaction) models.Transaction {
	t.Helper()
	var stored models.Transaction
	require.NoError(t, f.conn.First(&stored, "id = ?", txn.ID).Error)
	return stored
}

func TestCreditOffsetExplicitTargets(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	txn := f.transaction(t, "1000", time.Now())
	credit := dbtest.MustCreateCredit(t, f.conn, f.shop, f.buyerID, "300")

	result, err := f.engine.Allocate(ctx, f.creditInput(credit, target(txn.ID, "200")))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAllocated, result.Outcome)
	assert.Equal(t, enums.AllocationSourceCreditOffset, result.Allocations[0].SourceType)
	dbtest.RequireDecimal(t, "100", result.SourceRemaining)
	dbtest.RequireDecimal(t, "800", f.pending(t, txn))
	dbtest.RequireDecimal(t, "800", f.balance(t, f.buyerID, enums.BalanceTypeBuyer))

	t.Run("cap is the credit amount", func(t *testing.T) {
		_, err := f.engine.Allocate(ctx, f.creditInput(credit, target(txn.ID, "400")))
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSourceOverAllocated))
	})

	t.Run("source cap only lowers", func(t *testing.T) {
		in := f.creditInput(credit, target(txn.ID, "400"))
		in.SourceCap = decimal.NewFromInt(5000)
		_, err := f.engine.Allocate(ctx, in)
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSourceOverAllocated))
	})

	t.Run("other buyer", func(t *testing.T) {
		foreign := dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmerID, uuid.New(), "500", time.Now())
		_, err := f.engine.Allocate(ctx, f.creditInput(credit, target(foreign.ID, "50")))
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
		dbtest.RequireDecimal(t, "500", f.pending(t, foreign))
	})

	t.Run("unknown credit", func(t *testing.T) {
		in := f.creditInput(&models.Credit{ID: uuid.New()}, target(txn.ID, "10"))
		_, err := f.engine.Allocate(ctx, in)
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	})

	// farmer earnings are untouched by a buyer credit
	dbtest.RequireDecimal(t, "900", f.balance(t, f.farmerID, enums.BalanceTypeFarmer))
	assert.Equal(t, int64(1), f.count(t, &models.Allocation{}))
}

func TestCreditOffsetImplicitWalksCreditBuyer(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := newEngineFixture(t)
	ctx := context.Background()

	otherBuyer := uuid.New()
	foreign := dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmerID, otherBuyer, "400", base.Add(-24*time.Hour))
	oldest := f.transaction(t, "100", base)
	newer := f.transaction(t, "200", base.Add(24*time.Hour))
	credit := dbtest.MustCreateCredit(t, f.conn, f.shop, f.buyerID, "250")

	result, err := f.engine.Allocate(ctx, AllocateInput{
		SourceType: enums.AllocationSourceCreditOffset,
		SourceID:   credit.ID,
		Actor:      f.owner,
	})
	require.NoError(t, err)
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, oldest.ID, result.Allocations[0].TransactionID)
	dbtest.RequireDecimal(t, "100", result.Allocations[0].AllocatedAmount)
	assert.Equal(t, newer.ID, result.Allocations[1].TransactionID)
	dbtest.RequireDecimal(t, "150", result.Allocations[1].AllocatedAmount)
	dbtest.RequireDecimal(t, "400", f.pending(t, foreign))
	dbtest.RequireDecimal(t, "50", f.balance(t, f.buyerID, enums.BalanceTypeBuyer))
	assert.Equal(t, enums.TransactionStatusSettled, f.status(t, oldest).Status)

	t.Run("scope of another buyer", func(t *testing.T) {
		second := dbtest.MustCreateCredit(t, f.conn, f.shop, f.buyerID, "10")
		_, err := f.engine.Allocate(ctx, AllocateInput{
			SourceType: enums.AllocationSourceCreditOffset,
			SourceID:   second.ID,
			Scope:      &Scope{ShopID: f.shop.ID, BuyerID: &otherBuyer},
			Actor:      f.owner,
		})
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	t.Run("spent credit", func(t *testing.T) {
		again, err := f.engine.Allocate(ctx, AllocateInput{
			SourceType: enums.AllocationSourceCreditOffset,
			SourceID:   credit.ID,
			Actor:      f.owner,
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeAlreadyAllocated, again.Outcome)
		dbtest.RequireDecimal(t, "0", again.SourceRemaining)
	})
}

func TestReverseRestoresStatusHeldBeforeSettlement(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	txn := f.transaction(t, "500", time.Now())
	require.NoError(t, f.conn.Model(txn).Update("status", enums.TransactionStatusPending).Error)

	result, err := f.engine.Allocate(ctx, f.paymentInput(f.payment(t, "500"), target(txn.ID, "500")))
	require.NoError(t, err)
	settled := f.status(t, txn)
	assert.Equal(t, enums.TransactionStatusSettled, settled.Status)
	require.NotNil(t, settled.SettledFrom)
	assert.Equal(t, enums.TransactionStatusPending, *settled.SettledFrom)

	_, err = f.engine.Reverse(ctx, ReverseInput{AllocationID: result.Allocations[0].ID, Actor: f.owner})
	require.NoError(t, err)
	reopened := f.status(t, txn)
	assert.Equal(t, enums.TransactionStatusPending, reopened.Status)
	assert.Nil(t, reopened.SettledFrom)
}

func (f *engineFixture) farmerExpense(t *testing.T, amount string, expenseType enums.ExpenseType, age time.Duration) *models.Expense {
	t.Helper()
	expense := dbtest.MustCreateExpense(t, f.conn, f.shop, f.farmerID, amount)
	require.NoError(t, f.conn.Model(expense).Updates(map[string]any{
		"type":       expenseType,
		"created_at": time.Now().Add(-age),
	}).Error)
	require.NoError(t, f.conn.First(expense, "id = ?", expense.ID).Error)
	return expense
}

func (f *engineFixture) repaymentPayment(t *testing.T, amount string) *models.Payment {
	t.Helper()
	farmer := f.farmerID
	payment := &models.Payment{
		ShopID:         f.shop.ID,
		CounterpartyID: &farmer,
		PayerType:      enums.PaymentPartyFarmer,
		PayeeType:      enums.PaymentPartyShop,
		Amount:         decimal.RequireFromString(amount),
		Method:         enums.PaymentMethodCash,
		Status:         enums.PaymentStatusPaid,
		PaymentDate:    time.Now().UTC(),
		CreatedBy:      f.shop.OwnerID,
	}
	require.NoError(t, f.conn.Create(payment).Error)
	return payment
}

func (f *engineFixture) applyRepayment(t *testing.T, payment *models.Payment) (*RepaymentResult, error) {
	t.Helper()
	var result *RepaymentResult
	err := f.client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		result, err = f.engine.ApplyRepaymentTx(context.Background(), tx, payment, f.owner)
		return err
	})
	return result, err
}

func TestApplyRepaymentCountsOffsetsAndCreditsRemainder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	txn := f.transaction(t, "1000", time.Now())
	older := f.farmerExpense(t, "50", enums.ExpenseTypeExpense, 3*time.Hour)
	advance := f.farmerExpense(t, "40", enums.ExpenseTypeAdvance, time.Hour)

	offset := f.paymentInput(&models.Payment{}, target(txn.ID, "20"))
	offset.SourceType = enums.AllocationSourceExpenseOffset
	offset.SourceID = older.ID
	_, err := f.engine.Allocate(ctx, offset)
	require.NoError(t, err)
	dbtest.RequireDecimal(t, "880", f.balance(t, f.farmerID, enums.BalanceTypeFarmer))

	result, err := f.applyRepayment(t, f.repaymentPayment(t, "100"))
	require.NoError(t, err)
	dbtest.RequireDecimal(t, "70", result.AppliedAmount)
	dbtest.RequireDecimal(t, "30", result.UnappliedAmount)
	require.Len(t, result.Repayments, 2)
	assert.Equal(t, older.ID, result.Repayments[0].ExpenseID)
	dbtest.RequireDecimal(t, "30", result.Repayments[0].Amount)
	assert.Equal(t, advance.ID, result.Repayments[1].ExpenseID)
	dbtest.RequireDecimal(t, "40", result.Repayments[1].Amount)
	for _, view := range result.Expenses {
		assert.Equal(t, enums.ExpenseStatusSettled, view.Status)
		dbtest.RequireDecimal(t, "0", view.RemainingAmount)
	}
	dbtest.RequireDecimal(t, "910", f.balance(t, f.farmerID, enums.BalanceTypeFarmer))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ?", enums.EventExpenseRepaid).
		Count(&events).Error)
	assert.Equal(t, int64(1), events)

	t.Run("offset capped by repayments", func(t *testing.T) {
		in := f.paymentInput(&models.Payment{}, target(txn.ID, "21"))
		in.SourceType = enums.AllocationSourceExpenseOffset
		in.SourceID = older.ID
		_, err := f.engine.Allocate(ctx, in)
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSourceOverAllocated))
	})
}

func TestApplyRepaymentWithNothingOwed(t *testing.T) {
	f := newEngineFixture(t)
	f.transaction(t, "1000", time.Now())

	result, err := f.applyRepayment(t, f.repaymentPayment(t, "25"))
	require.NoError(t, err)
	dbtest.RequireDecimal(t, "0", result.AppliedAmount)
	dbtest.RequireDecimal(t, "25", result.UnappliedAmount)
	assert.Empty(t, result.Repayments)
	dbtest.RequireDecimal(t, "925", f.balance(t, f.farmerID, enums.BalanceTypeFarmer))
	assert.Zero(t, f.count(t, &models.ExpenseRepayment{}))
}

func TestApplyRepaymentRejectsBuyerPayments(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.applyRepayment(t, f.payment(t, "25"))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	pending := f.repaymentPayment(t, "25")
	pending.Status = enums.PaymentStatusPending
	_, err = f.applyRepayment(t, pending)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

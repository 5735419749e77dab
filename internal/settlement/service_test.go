package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

func TestServiceGetSettlement(t *testing.T) {
	conn := dbtest.NewSQLite(t)
	shop := dbtest.MustCreateShop(t, conn, uuid.New())
	txn := dbtest.MustCreateTransaction(t, conn, shop, uuid.New(), uuid.New(), "1000", time.Now())
	payment := dbtest.MustCreatePayment(t, conn, shop, txn.BuyerID, "600")
	dbtest.MustCreateAllocation(t, conn, enums.AllocationSourcePayment, payment.ID, txn.ID, "600")

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	summary, err := svc.GetSettlement(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.SettlementPartiallySettled, summary.SettlementStatus)
	dbtest.RequireDecimal(t, "400", summary.PendingAmount)
	assert.Equal(t, 1, summary.Breakdown.PaymentCount)
}

func TestServiceGetSettlementNotFound(t *testing.T) {
	conn := dbtest.NewSQLite(t)
	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	_, err = svc.GetSettlement(context.Background(), uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	_, err = svc.GetSettlement(context.Background(), uuid.Nil)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestServiceGetExpenseAllocation(t *testing.T) {
	conn := dbtest.NewSQLite(t)
	shop := dbtest.MustCreateShop(t, conn, uuid.New())
	farmerID := uuid.New()
	txn := dbtest.MustCreateTransaction(t, conn, shop, farmerID, uuid.New(), "500", time.Now())
	expense := dbtest.MustCreateExpense(t, conn, shop, farmerID, "150")
	dbtest.MustCreateAllocation(t, conn, enums.AllocationSourceExpenseOffset, expense.ID, txn.ID, "100")

	svc, err := NewService(NewRepository(conn))
	require.NoError(t, err)

	summary, err := svc.GetExpenseAllocation(context.Background(), expense.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.ExpensePartiallyAllocated, summary.AllocationStatus)
	dbtest.RequireDecimal(t, "50", summary.RemainingAmount)
	require.Len(t, summary.Allocations, 1)
	assert.Equal(t, txn.ID, summary.Allocations[0].TransactionID)

	_, err = svc.GetExpenseAllocation(context.Background(), uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

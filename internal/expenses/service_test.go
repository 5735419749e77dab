package expenses

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/shops"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/dbtest"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
)

type fixture struct {
	conn   *gorm.DB
	svc    Service
	owner  *auth.Actor
	shop   *models.Shop
	farmer uuid.UUID
	buyer  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.NewClient(t)
	conn := client.DB()

	projector, err := ledger.NewProjector(ledger.NewRepository(conn))
	require.NoError(t, err)
	authz, err := shops.NewAuthorizer(shops.NewRepository(conn))
	require.NoError(t, err)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)

	engine, err := allocations.NewEngine(allocations.EngineParams{
		Config:     config.AllocationConfig{MaxAttempts: 1, Order: "fifo"},
		Tx:         client,
		Repo:       allocations.NewRepository(conn),
		Projector:  projector,
		Outbox:     publisher,
		Authorizer: authz,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(conn),
		Allocator:  engine,
		Outbox:     publisher,
		Authorizer: authz,
	})
	require.NoError(t, err)

	ownerID := uuid.New()
	return &fixture{
		conn:   conn,
		svc:    svc,
		owner:  &auth.Actor{UserID: ownerID, Role: enums.ActorRoleShopOwner},
		shop:   dbtest.MustCreateShop(t, conn, ownerID),
		farmer: uuid.New(),
		buyer:  uuid.New(),
	}
}

func (f *fixture) expense(t *testing.T, userID uuid.UUID, amount string) uuid.UUID {
	t.Helper()
	summary, err := f.svc.Create(context.Background(), CreateInput{
		ShopID: f.shop.ID,
		UserID: userID,
		Amount: decimal.RequireFromString(amount),
		Type:   enums.ExpenseTypeAdvance,
		Actor:  f.owner,
	})
	require.NoError(t, err)
	return summary.ExpenseID
}

func (f *fixture) offset(id, txnID uuid.UUID, amount string) (*OffsetResult, error) {
	return f.svc.Offset(context.Background(), OffsetInput{
		TransactionID: txnID,
		ExpenseID:     id,
		Amount:        decimal.RequireFromString(amount),
		Actor:         f.owner,
	})
}

func TestOffsetSettlesExpenseAndTransaction(t *testing.T) {
	f := newFixture(t)
	txn := dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmer, f.buyer, "150", time.Now())
	expense := f.expense(t, f.farmer, "150")

	result, err := f.offset(expense, txn.ID, "150")
	require.NoError(t, err)

	assert.Equal(t, enums.AllocationSourceExpenseOffset, result.Allocation.SourceType)
	dbtest.RequireDecimal(t, "150", result.Allocation.AllocatedAmount)
	assert.Equal(t, enums.SettlementFullySettled, result.Settlement.SettlementStatus)
	dbtest.RequireDecimal(t, "0", result.Settlement.PendingAmount)
	assert.Equal(t, 1, result.Settlement.Breakdown.ExpenseOffsetCount)
	assert.Equal(t, enums.ExpenseFullyAllocated, result.Expense.AllocationStatus)
	assert.Equal(t, enums.ExpenseStatusSettled, result.Expense.Status)

	var stored models.Expense
	require.NoError(t, f.conn.First(&stored, "id = ?", expense).Error)
	assert.Equal(t, enums.ExpenseStatusSettled, stored.Status)

	_, err = f.offset(expense, txn.ID, "1")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}

func TestOffsetPartialKeepsExpensePending(t *testing.T) {
	f := newFixture(t)
	first := dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmer, f.buyer, "100", time.Now())
	second := dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmer, f.buyer, "100", time.Now())
	expense := f.expense(t, f.buyer, "150")

	result, err := f.offset(expense, first.ID, "60")
	require.NoError(t, err)
	assert.Equal(t, enums.ExpensePartiallyAllocated, result.Expense.AllocationStatus)
	dbtest.RequireDecimal(t, "90", result.Expense.RemainingAmount)

	result, err = f.offset(expense, first.ID, "40")
	require.NoError(t, err)
	dbtest.RequireDecimal(t, "40", result.Allocation.AllocatedAmount)
	dbtest.RequireDecimal(t, "50", result.Expense.RemainingAmount)
	assert.Equal(t, enums.SettlementFullySettled, result.Settlement.SettlementStatus)

	_, err = f.offset(expense, second.ID, "60")
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSourceOverAllocated))

	summary, err := f.svc.Get(context.Background(), f.owner, expense)
	require.NoError(t, err)
	assert.Len(t, summary.Allocations, 2)
	assert.Equal(t, enums.ExpenseStatusPending, summary.Status)
}

func TestOffsetRejections(t *testing.T) {
	f := newFixture(t)
	txn := dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmer, f.buyer, "100", time.Now())

	t.Run("insufficient pending", func(t *testing.T) {
		expense := f.expense(t, f.farmer, "500")
		_, err := f.offset(expense, txn.ID, "120")
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientPending))
	})

	t.Run("stranger expense", func(t *testing.T) {
		expense := f.expense(t, uuid.New(), "50")
		_, err := f.offset(expense, txn.ID, "50")
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	})

	t.Run("unknown expense", func(t *testing.T) {
		_, err := f.offset(uuid.New(), txn.ID, "50")
		require.Error(t, err)
		assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	})

	var count int64
	require.NoError(t, f.conn.Model(&models.Allocation{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestListByUser(t *testing.T) {
	f := newFixture(t)
	f.expense(t, f.farmer, "10")
	f.expense(t, f.farmer, "20")
	f.expense(t, f.buyer, "30")

	summaries, err := f.svc.ListByUser(context.Background(), &auth.Actor{UserID: f.farmer, Role: enums.ActorRoleFarmer}, f.farmer, nil)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	for _, summary := range summaries {
		assert.Equal(t, enums.ExpenseUnallocated, summary.AllocationStatus)
	}

	_, err = f.svc.ListByUser(context.Background(), &auth.Actor{UserID: f.buyer, Role: enums.ActorRoleBuyer}, f.farmer, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
}

package credits

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
	conn      *gorm.DB
	svc       Service
	projector *ledger.Projector
	owner     *auth.Actor
	shop      *models.Shop
	farmer    uuid.UUID
	buyer     uuid.UUID
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
		conn:      conn,
		svc:       svc,
		projector: projector,
		owner:     &auth.Actor{UserID: ownerID, Role: enums.ActorRoleShopOwner},
		shop:      dbtest.MustCreateShop(t, conn, ownerID),
		farmer:    uuid.New(),
		buyer:     uuid.New(),
	}
}

func (f *fixture) txn(t *testing.T, total string, date time.Time) *models.Transaction {
	t.Helper()
	txn := dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmer, f.buyer, total, date)
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.projector.ProjectAll(context.Background(), tx, ledger.TransactionCreatedEffects(*txn))
		return err
	}))
	return txn
}

func (f *fixture) buyerBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	balance, err := f.projector.LockedBalance(context.Background(), f.conn, f.buyer, enums.BalanceTypeBuyer)
	require.NoError(t, err)
	return balance
}

func TestCreateCreditWithoutApplying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.Create(ctx, CreateInput{
		ShopID:      f.shop.ID,
		BuyerID:     f.buyer,
		Amount:      decimal.RequireFromString("120.005"),
		Description: "  returned crates ",
		Actor:       f.owner,
	})
	require.NoError(t, err)
	dbtest.RequireDecimal(t, "120.01", view.Credit.Amount)
	require.NotNil(t, view.Credit.Description)
	assert.Equal(t, "returned crates", *view.Credit.Description)
	dbtest.RequireDecimal(t, "120.01", view.RemainingAmount)
	assert.Nil(t, view.Applied)

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventCreditIssued, events[0].EventType)
	assert.Equal(t, enums.AggregateCredit, events[0].AggregateType)
}

func TestCreateCreditAutoApplyWalksBuyerTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older := f.txn(t, "100", time.Now().Add(-48*time.Hour))
	newer := f.txn(t, "100", time.Now())
	dbtest.MustCreateTransaction(t, f.conn, f.shop, f.farmer, uuid.New(), "500", time.Now().Add(-72*time.Hour))

	view, err := f.svc.Create(ctx, CreateInput{
		ShopID:    f.shop.ID,
		BuyerID:   f.buyer,
		Amount:    decimal.RequireFromString("150"),
		AutoApply: true,
		Actor:     f.owner,
	})
	require.NoError(t, err)
	require.NotNil(t, view.Applied)
	assert.Equal(t, allocations.OutcomeAllocated, view.Applied.Outcome)
	require.Len(t, view.Allocations, 2)
	assert.Equal(t, older.ID, view.Allocations[0].TransactionID)
	assert.Equal(t, enums.AllocationSourceCreditOffset, view.Allocations[0].SourceType)
	dbtest.RequireDecimal(t, "100", view.Allocations[0].AllocatedAmount)
	assert.Equal(t, newer.ID, view.Allocations[1].TransactionID)
	dbtest.RequireDecimal(t, "50", view.Allocations[1].AllocatedAmount)
	dbtest.RequireDecimal(t, "0", view.RemainingAmount)
	dbtest.RequireDecimal(t, "50", f.buyerBalance(t))

	got, err := f.svc.Get(ctx, f.owner, view.Credit.ID)
	require.NoError(t, err)
	dbtest.RequireDecimal(t, "150", got.AllocatedAmount)
}

func TestApplyCreditExplicitTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	txn := f.txn(t, "300", time.Now())
	view, err := f.svc.Create(ctx, CreateInput{ShopID: f.shop.ID, BuyerID: f.buyer, Amount: decimal.RequireFromString("100"), Actor: f.owner})
	require.NoError(t, err)

	result, err := f.svc.Apply(ctx, ApplyInput{
		CreditID: view.Credit.ID,
		Targets:  []allocations.Target{{TransactionID: txn.ID, Amount: decimal.RequireFromString("60")}},
		Actor:    f.owner,
	})
	require.NoError(t, err)
	assert.Equal(t, allocations.OutcomeAllocated, result.Outcome)
	dbtest.RequireDecimal(t, "40", result.SourceRemaining)
	dbtest.RequireDecimal(t, "240", f.buyerBalance(t))

	_, err = f.svc.Apply(ctx, ApplyInput{
		CreditID: view.Credit.ID,
		Targets:  []allocations.Target{{TransactionID: txn.ID, Amount: decimal.RequireFromString("150")}},
		Actor:    f.owner,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeSourceOverAllocated))

	listed, err := f.svc.ListByBuyer(ctx, f.owner, f.buyer)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	dbtest.RequireDecimal(t, "60", listed[0].AllocatedAmount)
}

func TestCreditRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, CreateInput{ShopID: f.shop.ID, BuyerID: f.buyer, Amount: decimal.Zero, Actor: f.owner})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = f.svc.Create(ctx, CreateInput{ShopID: f.shop.ID, Amount: decimal.RequireFromString("10"), Actor: f.owner})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	stranger := &auth.Actor{UserID: uuid.New(), Role: enums.ActorRoleShopOwner}
	_, err = f.svc.Create(ctx, CreateInput{ShopID: f.shop.ID, BuyerID: f.buyer, Amount: decimal.RequireFromString("10"), Actor: stranger})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = f.svc.Apply(ctx, ApplyInput{CreditID: uuid.New(), Actor: f.owner})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	assert.Zero(t, countRows(t, f.conn, &models.Credit{}))
}

func countRows(t *testing.T, conn *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(model).Count(&n).Error)
	return n
}

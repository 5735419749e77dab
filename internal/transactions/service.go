package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/ledger"
	"github.com/angelmondragon/kisaan-ledger/internal/settlement"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

type atomicRunner interface {
	Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type balanceProjector interface {
	ProjectAll(ctx context.Context, tx *gorm.DB, inputs []ledger.ProjectInput) ([]models.BalanceSnapshot, error)
}

type shopAuthorizer interface {
	RequireOwner(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*models.Shop, error)
	AuthorizeShopWrite(ctx context.Context, actor *auth.Actor, shopID uuid.UUID, parties ...uuid.UUID) (*models.Shop, error)
}

// Service records brokered sales and exposes their settlement state.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*View, error)
	Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*View, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*View, error)
	ListOutstanding(ctx context.Context, actor *auth.Actor, filter OutstandingFilter) ([]View, error)
}

// CreateInput records one sale. CommissionRate defaults to the shop's rate.
type CreateInput struct {
	ShopID          uuid.UUID
	FarmerID        uuid.UUID
	BuyerID         uuid.UUID
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	CommissionRate  *decimal.Decimal
	Status          enums.TransactionStatus
	TransactionDate time.Time
	Notes           string
	Actor           *auth.Actor
}

// UpdateStatusInput moves a transaction through its lifecycle.
type UpdateStatusInput struct {
	TransactionID uuid.UUID
	Status        enums.TransactionStatus
	Actor         *auth.Actor
}

// View is a transaction together with its derived settlement.
type View struct {
	Transaction models.Transaction `json:"transaction"`
	Settlement  settlement.Summary `json:"settlement"`
}

// ServiceParams wires the transactions service.
type ServiceParams struct {
	Repo       Repository
	Atomic     atomicRunner
	Projector  balanceProjector
	Outbox     outboxPublisher
	Authorizer shopAuthorizer
	Logger     *logger.Logger
}

type service struct {
	repo      Repository
	atomic    atomicRunner
	projector balanceProjector
	outbox    outboxPublisher
	authz     shopAuthorizer
	logg      *logger.Logger
	now       func() time.Time
}

var hundred = decimal.NewFromInt(100)

// NewService validates params and returns a transactions Service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if params.Atomic == nil {
		return nil, fmt.Errorf("atomic runner required")
	}
	if params.Projector == nil {
		return nil, fmt.Errorf("balance projector required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Authorizer == nil {
		return nil, fmt.Errorf("shop authorizer required")
	}
	return &service{
		repo:      params.Repo,
		atomic:    params.Atomic,
		projector: params.Projector,
		outbox:    params.Outbox,
		authz:     params.Authorizer,
		logg:      params.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*View, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	if input.FarmerID == uuid.Nil || input.BuyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "farmer and buyer are required")
	}
	if input.FarmerID == input.BuyerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "farmer and buyer must differ")
	}
	if !input.Quantity.IsPositive() || !input.UnitPrice.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity and unit price must be positive")
	}
	status := input.Status
	if status == "" {
		status = enums.TransactionStatusCompleted
	}
	if status != enums.TransactionStatusPending && status != enums.TransactionStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "new transactions are pending or completed")
	}

	shop, err := s.authz.RequireOwner(ctx, input.Actor, input.ShopID)
	if err != nil {
		return nil, err
	}

	rate := shop.CommissionRate
	if input.CommissionRate != nil {
		rate = *input.CommissionRate
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be between 0 and 100")
	}

	total := input.Quantity.Mul(input.UnitPrice).Round(2)
	commission := total.Mul(rate).Div(hundred).Round(2)
	date := input.TransactionDate
	if date.IsZero() {
		date = s.now()
	}
	var notes *string
	if trimmed := strings.TrimSpace(input.Notes); trimmed != "" {
		notes = &trimmed
	}

	txn := &models.Transaction{
		ID:               uuid.New(),
		ShopID:           shop.ID,
		FarmerID:         input.FarmerID,
		BuyerID:          input.BuyerID,
		Quantity:         input.Quantity,
		UnitPrice:        input.UnitPrice,
		TotalAmount:      total,
		CommissionRate:   rate,
		CommissionAmount: commission,
		FarmerEarning:    total.Sub(commission),
		Status:           status,
		TransactionDate:  date.UTC(),
		Notes:            notes,
		CreatedBy:        input.Actor.UserID,
	}

	err = s.atomic.Atomic(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, txn); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert transaction")
		}
		if _, err := s.projector.ProjectAll(ctx, tx, ledger.TransactionCreatedEffects(*txn)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "project sale")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionRecorded,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         actorRef(input.Actor),
			Data: payloads.TransactionRecordedEvent{
				TransactionID:    txn.ID,
				ShopID:           txn.ShopID,
				FarmerID:         txn.FarmerID,
				BuyerID:          txn.BuyerID,
				TotalAmount:      txn.TotalAmount,
				CommissionAmount: txn.CommissionAmount,
				FarmerEarning:    txn.FarmerEarning,
				Status:           txn.Status,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"transaction_id": txn.ID.String(),
			"shop_id":        txn.ShopID.String(),
			"total_amount":   txn.TotalAmount.String(),
		})
		s.logg.Info(logCtx, "transaction.recorded")
	}
	return &View{Transaction: *txn, Settlement: settlement.Summarize(*txn, nil)}, nil
}

func (s *service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*View, error) {
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	txn, err := s.find(ctx, s.repo, id, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.AuthorizeShopWrite(ctx, actor, txn.ShopID, txn.FarmerID, txn.BuyerID); err != nil {
		return nil, err
	}
	return s.view(ctx, s.repo, *txn)
}

// UpdateStatus applies a caller transition. Cancelling is refused while any
// net amount is settled, and it reverses the sale's balance effects.
func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*View, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction status")
	}
	current, err := s.find(ctx, s.repo, input.TransactionID, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.RequireOwner(ctx, input.Actor, current.ShopID); err != nil {
		return nil, err
	}

	var result *View
	err = s.atomic.Atomic(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		txn, err := s.find(ctx, repo, input.TransactionID, true)
		if err != nil {
			return err
		}
		if txn.Status == input.Status {
			result, err = s.view(ctx, repo, *txn)
			return err
		}
		if !txn.Status.CanTransitionTo(input.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction status transition not allowed").
				WithDetails(map[string]any{"from": txn.Status, "to": input.Status})
		}

		allocations, err := repo.ListAllocations(ctx, []uuid.UUID{txn.ID})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
		}
		if input.Status == enums.TransactionStatusCancelled {
			settled := settlement.SettledAmount(txn.ID, allocations)
			if settled.Abs().GreaterThan(settlement.Tolerance) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction has settled amounts; reverse them first").
					WithDetails(map[string]any{"settled_amount": settled})
			}
			if _, err := s.projector.ProjectAll(ctx, tx, ledger.TransactionCancelledEffects(*txn)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "project cancellation")
			}
		}

		from := txn.Status
		if err := repo.UpdateStatus(ctx, txn.ID, input.Status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
		}
		txn.Status = input.Status

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventTransactionStatusChanged,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         actorRef(input.Actor),
			Data: payloads.TransactionStatusChangedEvent{
				TransactionID: txn.ID,
				ShopID:        txn.ShopID,
				FarmerID:      txn.FarmerID,
				BuyerID:       txn.BuyerID,
				From:          from,
				To:            txn.Status,
			},
		}); err != nil {
			return err
		}
		result = &View{Transaction: *txn, Settlement: settlement.Summarize(*txn, allocations)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListOutstanding returns the open transactions of the filter that still have
// a pending amount.
func (s *service) ListOutstanding(ctx context.Context, actor *auth.Actor, filter OutstandingFilter) ([]View, error) {
	if _, err := s.authz.RequireOwner(ctx, actor, filter.ShopID); err != nil {
		return nil, err
	}
	txns, err := s.repo.ListOpen(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	ids := make([]uuid.UUID, 0, len(txns))
	for _, txn := range txns {
		ids = append(ids, txn.ID)
	}
	allocations, err := s.repo.ListAllocations(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}

	views := make([]View, 0, len(txns))
	for _, txn := range txns {
		summary := settlement.Summarize(txn, allocations)
		if summary.PendingAmount.GreaterThan(settlement.Tolerance) {
			views = append(views, View{Transaction: txn, Settlement: summary})
		}
	}
	return views, nil
}

func (s *service) find(ctx context.Context, repo Repository, id uuid.UUID, lock bool) (*models.Transaction, error) {
	txn, err := repo.FindByID(ctx, id, lock)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func (s *service) view(ctx context.Context, repo Repository, txn models.Transaction) (*View, error) {
	allocations, err := repo.ListAllocations(ctx, []uuid.UUID{txn.ID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	return &View{Transaction: txn, Settlement: settlement.Summarize(txn, allocations)}, nil
}

func actorRef(actor *auth.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: string(actor.Role)}
}

package expenses

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/allocations"
	"github.com/angelmondragon/kisaan-ledger/internal/settlement"
	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/payloads"
)

type allocator interface {
	Atomic(ctx context.Context, fn func(tx *gorm.DB) error) error
	AllocateTx(ctx context.Context, tx *gorm.DB, in allocations.AllocateInput) (*allocations.Result, error)
	Observe(ctx context.Context, result *allocations.Result)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type shopAuthorizer interface {
	RequireOwner(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*models.Shop, error)
	AuthorizeShopWrite(ctx context.Context, actor *auth.Actor, shopID uuid.UUID, parties ...uuid.UUID) (*models.Shop, error)
	AuthorizeUserView(ctx context.Context, actor *auth.Actor, userID uuid.UUID) error
}

// Service records expenses and advances and offsets them against transactions.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*settlement.ExpenseSummary, error)
	Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*settlement.ExpenseSummary, error)
	ListByUser(ctx context.Context, actor *auth.Actor, userID uuid.UUID, status *enums.ExpenseStatus) ([]settlement.ExpenseSummary, error)
	Offset(ctx context.Context, input OffsetInput) (*OffsetResult, error)
}

// CreateInput records an expense, advance or manual adjustment owed by UserID.
type CreateInput struct {
	ShopID      uuid.UUID
	UserID      uuid.UUID
	Amount      decimal.Decimal
	Type        enums.ExpenseType
	Description string
	Actor       *auth.Actor
}

// OffsetInput applies Amount of an expense against one transaction.
type OffsetInput struct {
	TransactionID uuid.UUID
	ExpenseID     uuid.UUID
	Amount        decimal.Decimal
	Notes         string
	Actor         *auth.Actor
}

// OffsetResult reports the allocation and both updated views.
type OffsetResult struct {
	Allocation models.Allocation         `json:"allocation"`
	Settlement settlement.Summary        `json:"settlement"`
	Expense    settlement.ExpenseSummary `json:"expense"`
}

// ServiceParams wires the expenses service.
type ServiceParams struct {
	Repo       Repository
	Allocator  allocator
	Outbox     outboxPublisher
	Authorizer shopAuthorizer
	Logger     *logger.Logger
}

type service struct {
	repo      Repository
	allocator allocator
	outbox    outboxPublisher
	authz     shopAuthorizer
	logg      *logger.Logger
}

// NewService validates params and returns an expenses Service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("expenses repository required")
	}
	if params.Allocator == nil {
		return nil, fmt.Errorf("allocator required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Authorizer == nil {
		return nil, fmt.Errorf("shop authorizer required")
	}
	return &service{
		repo:      params.Repo,
		allocator: params.Allocator,
		outbox:    params.Outbox,
		authz:     params.Authorizer,
		logg:      params.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*settlement.ExpenseSummary, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	amount := input.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	expenseType := input.Type
	if expenseType == "" {
		expenseType = enums.ExpenseTypeExpense
	}
	if !expenseType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid expense type")
	}
	shop, err := s.authz.RequireOwner(ctx, input.Actor, input.ShopID)
	if err != nil {
		return nil, err
	}

	var description *string
	if trimmed := strings.TrimSpace(input.Description); trimmed != "" {
		description = &trimmed
	}
	expense := &models.Expense{
		ID:          uuid.New(),
		ShopID:      shop.ID,
		UserID:      input.UserID,
		Amount:      amount,
		Type:        expenseType,
		Status:      enums.ExpenseStatusPending,
		Description: description,
		CreatedBy:   input.Actor.UserID,
	}

	err = s.allocator.Atomic(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, expense); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert expense")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventExpenseRecorded,
			AggregateType: enums.AggregateExpense,
			AggregateID:   expense.ID,
			Actor:         actorRef(input.Actor),
			Data: payloads.ExpenseRecordedEvent{
				ExpenseID: expense.ID,
				ShopID:    expense.ShopID,
				UserID:    expense.UserID,
				Amount:    expense.Amount,
				Type:      expense.Type,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	summary := settlement.SummarizeExpense(*expense, nil, nil)
	return &summary, nil
}

func (s *service) Get(ctx context.Context, actor *auth.Actor, id uuid.UUID) (*settlement.ExpenseSummary, error) {
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	expense, err := s.find(ctx, s.repo, id, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.AuthorizeShopWrite(ctx, actor, expense.ShopID, expense.UserID); err != nil {
		return nil, err
	}
	rows, repayments, err := s.loadConsumption(ctx, s.repo, []uuid.UUID{expense.ID})
	if err != nil {
		return nil, err
	}
	summary := settlement.SummarizeExpense(*expense, rows, repayments)
	return &summary, nil
}

func (s *service) ListByUser(ctx context.Context, actor *auth.Actor, userID uuid.UUID, status *enums.ExpenseStatus) ([]settlement.ExpenseSummary, error) {
	if err := s.authz.AuthorizeUserView(ctx, actor, userID); err != nil {
		return nil, err
	}
	expenses, err := s.repo.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expenses")
	}
	ids := make([]uuid.UUID, 0, len(expenses))
	for _, expense := range expenses {
		ids = append(ids, expense.ID)
	}
	rows, repayments, err := s.loadConsumption(ctx, s.repo, ids)
	if err != nil {
		return nil, err
	}
	out := make([]settlement.ExpenseSummary, 0, len(expenses))
	for _, expense := range expenses {
		out = append(out, settlement.SummarizeExpense(expense, rows, repayments))
	}
	return out, nil
}

// Offset locks the expense, checks it can still cover Amount and hands the
// allocation to the engine inside the same database transaction.
func (s *service) Offset(ctx context.Context, input OffsetInput) (*OffsetResult, error) {
	if err := auth.RequireActor(input.Actor); err != nil {
		return nil, err
	}
	amount := input.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if input.TransactionID == uuid.Nil || input.ExpenseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction and expense are required")
	}

	preview, err := s.find(ctx, s.repo, input.ExpenseID, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.authz.RequireOwner(ctx, input.Actor, preview.ShopID); err != nil {
		return nil, err
	}

	var (
		result    *OffsetResult
		committed *allocations.Result
	)
	err = s.allocator.Atomic(ctx, func(tx *gorm.DB) error {
		var err error
		result, committed, err = s.offset(ctx, tx, input, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.allocator.Observe(ctx, committed)

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"expense_id":     input.ExpenseID.String(),
			"transaction_id": input.TransactionID.String(),
			"amount":         amount.String(),
			"remaining":      result.Expense.RemainingAmount.String(),
		})
		s.logg.Info(logCtx, "expense.offset")
	}
	return result, nil
}

func (s *service) offset(ctx context.Context, tx *gorm.DB, input OffsetInput, amount decimal.Decimal) (*OffsetResult, *allocations.Result, error) {
	repo := s.repo.WithTx(tx)
	expense, err := s.find(ctx, repo, input.ExpenseID, true)
	if err != nil {
		return nil, nil, err
	}
	if expense.Status != enums.ExpenseStatusPending {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "expense is already settled").
			WithDetails(map[string]any{"expense_id": expense.ID, "status": expense.Status})
	}

	sourceRows, repayments, err := s.loadConsumption(ctx, repo, []uuid.UUID{expense.ID})
	if err != nil {
		return nil, nil, err
	}
	before := settlement.SummarizeExpense(*expense, sourceRows, repayments)
	if amount.GreaterThan(before.RemainingAmount.Add(settlement.Tolerance)) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeSourceOverAllocated, "expense does not cover the requested offset").
			WithDetails(map[string]any{
				"expense_id":       expense.ID,
				"amount":           expense.Amount,
				"allocated_amount": before.AllocatedAmount,
				"repaid_amount":    before.RepaidAmount,
				"requested":        amount,
			})
	}

	txn, err := repo.FindTransaction(ctx, input.TransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	if txn.ShopID != expense.ShopID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "expense belongs to another shop")
	}
	if expense.UserID != txn.FarmerID && expense.UserID != txn.BuyerID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "expense user is not a party to the transaction")
	}

	// Targets are cumulative per source and transaction.
	desired := amount
	for _, row := range sourceRows {
		if row.TransactionID == txn.ID {
			desired = desired.Add(row.AllocatedAmount)
		}
	}
	allocated, err := s.allocator.AllocateTx(ctx, tx, allocations.AllocateInput{
		SourceType:  enums.AllocationSourceExpenseOffset,
		SourceID:    expense.ID,
		ShopID:      expense.ShopID,
		TotalAmount: desired,
		Targets:     []allocations.Target{{TransactionID: txn.ID, Amount: desired}},
		Actor:       input.Actor,
		Notes:       input.Notes,
	})
	if err != nil {
		return nil, nil, err
	}
	if allocated.Outcome != allocations.OutcomeAllocated || len(allocated.Allocations) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeConflict, "offset produced no allocation")
	}

	sourceRows, err = repo.ListAllocations(ctx, []uuid.UUID{expense.ID})
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense allocations")
	}
	after := settlement.SummarizeExpense(*expense, sourceRows, repayments)
	if after.RemainingAmount.LessThanOrEqual(settlement.Tolerance) {
		if err := repo.UpdateStatus(ctx, expense.ID, enums.ExpenseStatusSettled); err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle expense")
		}
		after.Status = enums.ExpenseStatusSettled
	}

	txnRows, err := repo.ListTransactionAllocations(ctx, txn.ID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction allocations")
	}

	transactionIDs := []uuid.UUID{txn.ID}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventExpenseOffset,
		AggregateType: enums.AggregateExpense,
		AggregateID:   expense.ID,
		Actor:         actorRef(input.Actor),
		Data: payloads.ExpenseOffsetEvent{
			ExpenseID:       expense.ID,
			ShopID:          expense.ShopID,
			UserID:          expense.UserID,
			AllocatedAmount: after.AllocatedAmount,
			RemainingAmount: after.RemainingAmount,
			Status:          after.AllocationStatus,
			TransactionIDs:  transactionIDs,
		},
	}); err != nil {
		return nil, nil, err
	}

	return &OffsetResult{
		Allocation: allocated.Allocations[0],
		Settlement: settlement.Summarize(*txn, txnRows),
		Expense:    after,
	}, allocated, nil
}

func (s *service) find(ctx context.Context, repo Repository, id uuid.UUID, lock bool) (*models.Expense, error) {
	expense, err := repo.FindByID(ctx, id, lock)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "expense not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense")
	}
	return expense, nil
}

// loadConsumption returns the offsets and repayments that draw down the expenses.
func (s *service) loadConsumption(ctx context.Context, repo Repository, expenseIDs []uuid.UUID) ([]models.Allocation, []models.ExpenseRepayment, error) {
	rows, err := repo.ListAllocations(ctx, expenseIDs)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense allocations")
	}
	repayments, err := repo.ListRepayments(ctx, expenseIDs)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense repayments")
	}
	return rows, repayments, nil
}

func actorRef(actor *auth.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, ShopID: actor.ShopID, Role: string(actor.Role)}
}

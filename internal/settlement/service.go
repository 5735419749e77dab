package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

// Service serves read-only settlement views. Nothing here is cached; every
// call loads the allocation rows and derives the view.
type Service interface {
	GetSettlement(ctx context.Context, transactionID uuid.UUID) (*Summary, error)
	GetExpenseAllocation(ctx context.Context, expenseID uuid.UUID) (*ExpenseSummary, error)
	WithTx(tx *gorm.DB) Service
}

type service struct {
	repo Repository
}

// NewService wires the settlement read service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) GetSettlement(ctx context.Context, transactionID uuid.UUID) (*Summary, error) {
	if transactionID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	txn, err := s.repo.FindTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	allocations, err := s.repo.ListByTransaction(ctx, transactionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	summary := Summarize(*txn, allocations)
	return &summary, nil
}

func (s *service) GetExpenseAllocation(ctx context.Context, expenseID uuid.UUID) (*ExpenseSummary, error) {
	if expenseID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expense id required")
	}
	expense, err := s.repo.FindExpense(ctx, expenseID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "expense not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load expense")
	}
	allocations, err := s.repo.ListBySource(ctx, expenseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load allocations")
	}
	repayments, err := s.repo.ListRepayments(ctx, expenseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load repayments")
	}
	summary := SummarizeExpense(*expense, allocations, repayments)
	return &summary, nil
}

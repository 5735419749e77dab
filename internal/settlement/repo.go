package settlement

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
)

// Repository loads the rows the aggregator derives views from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindExpense(ctx context.Context, id uuid.UUID) (*models.Expense, error)
	ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Allocation, error)
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]models.Allocation, error)
	ListRepayments(ctx context.Context, expenseID uuid.UUID) ([]models.ExpenseRepayment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindExpense(ctx context.Context, id uuid.UUID) (*models.Expense, error) {
	var expense models.Expense
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}

func (r *repository) ListByTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.Allocation, error) {
	var rows []models.Allocation
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBySource returns every allocation whose source_id matches, reversals included.
func (r *repository) ListBySource(ctx context.Context, sourceID uuid.UUID) ([]models.Allocation, error) {
	var rows []models.Allocation
	if err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListRepayments(ctx context.Context, expenseID uuid.UUID) ([]models.ExpenseRepayment, error) {
	var rows []models.ExpenseRepayment
	if err := r.db.WithContext(ctx).
		Where("expense_id = ?", expenseID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

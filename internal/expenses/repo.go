package expenses

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Repository persists expenses and reads their allocation rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, expense *models.Expense) error
	FindByID(ctx context.Context, id uuid.UUID, lock bool) (*models.Expense, error)
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID uuid.UUID, status *enums.ExpenseStatus) ([]models.Expense, error)
	ListAllocations(ctx context.Context, expenseIDs []uuid.UUID) ([]models.Allocation, error)
	ListTransactionAllocations(ctx context.Context, transactionID uuid.UUID) ([]models.Allocation, error)
	ListRepayments(ctx context.Context, expenseIDs []uuid.UUID) ([]models.ExpenseRepayment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.ExpenseStatus) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an expenses repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, expense *models.Expense) error {
	return r.db.WithContext(ctx).Create(expense).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, lock bool) (*models.Expense, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var expense models.Expense
	if err := q.Where("id = ?", id).First(&expense).Error; err != nil {
		return nil, err
	}
	return &expense, nil
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, status *enums.ExpenseStatus) ([]models.Expense, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var rows []models.Expense
	if err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAllocations returns every row sourced from the expenses, reversals included.
func (r *repository) ListAllocations(ctx context.Context, expenseIDs []uuid.UUID) ([]models.Allocation, error) {
	if len(expenseIDs) == 0 {
		return nil, nil
	}
	var rows []models.Allocation
	if err := r.db.WithContext(ctx).
		Where("source_id IN ?", expenseIDs).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListTransactionAllocations(ctx context.Context, transactionID uuid.UUID) ([]models.Allocation, error) {
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

func (r *repository) ListRepayments(ctx context.Context, expenseIDs []uuid.UUID) ([]models.ExpenseRepayment, error) {
	if len(expenseIDs) == 0 {
		return nil, nil
	}
	var rows []models.ExpenseRepayment
	if err := r.db.WithContext(ctx).
		Where("expense_id IN ?", expenseIDs).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.ExpenseStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Expense{}).
		Where("id = ?", id).
		Update("status", status).Error
}

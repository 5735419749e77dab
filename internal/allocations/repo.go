package allocations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Scope narrows implicit allocation to one shop and optionally one party.
type Scope struct {
	ShopID   uuid.UUID
	FarmerID *uuid.UUID
	BuyerID  *uuid.UUID
}

// Repository persists allocation records and reads the rows they depend on.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindTransactions(ctx context.Context, ids []uuid.UUID, lock bool) ([]models.Transaction, error)
	ListCandidates(ctx context.Context, scope Scope, lock bool) ([]models.Transaction, error)

	ListByTransactions(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error)
	ListBySource(ctx context.Context, sourceID uuid.UUID) ([]models.Allocation, error)
	FindAllocation(ctx context.Context, id uuid.UUID, lock bool) (*models.Allocation, error)
	FindReversalOf(ctx context.Context, id uuid.UUID) (*models.Allocation, error)
	Create(ctx context.Context, rows []*models.Allocation) error

	FindPayment(ctx context.Context, id uuid.UUID, lock bool) (*models.Payment, error)
	FindExpense(ctx context.Context, id uuid.UUID, lock bool) (*models.Expense, error)
	FindCredit(ctx context.Context, id uuid.UUID, lock bool) (*models.Credit, error)
	UpdateExpenseStatus(ctx context.Context, id uuid.UUID, status enums.ExpenseStatus) error
	UpdateTransactionSettled(ctx context.Context, id uuid.UUID, from enums.TransactionStatus) error
	ReopenTransaction(ctx context.Context, id uuid.UUID, to enums.TransactionStatus) error

	ListPendingExpenses(ctx context.Context, shopID, userID uuid.UUID, lock bool) ([]models.Expense, error)
	ListRepayments(ctx context.Context, expenseIDs []uuid.UUID) ([]models.ExpenseRepayment, error)
	CreateRepayments(ctx context.Context, rows []*models.ExpenseRepayment) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an allocation repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) query(ctx context.Context, lock bool) *gorm.DB {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// FindTransactions loads the transactions ordered by id so locks are always
// taken in the same order.
func (r *repository) FindTransactions(ctx context.Context, ids []uuid.UUID, lock bool) ([]models.Transaction, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Transaction
	if err := r.query(ctx, lock).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCandidates returns the non-cancelled transactions of scope ordered by id.
func (r *repository) ListCandidates(ctx context.Context, scope Scope, lock bool) ([]models.Transaction, error) {
	q := r.query(ctx, lock).
		Where("shop_id = ?", scope.ShopID).
		Where("status <> ?", enums.TransactionStatusCancelled)
	if scope.FarmerID != nil {
		q = q.Where("farmer_id = ?", *scope.FarmerID)
	}
	if scope.BuyerID != nil {
		q = q.Where("buyer_id = ?", *scope.BuyerID)
	}
	var rows []models.Transaction
	if err := q.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpdateTransactionSettled marks the transaction settled and remembers the
// status it held before, so a reversal can restore it.
func (r *repository) UpdateTransactionSettled(ctx context.Context, id uuid.UUID, from enums.TransactionStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": enums.TransactionStatusSettled, "settled_from": from}).Error
}

func (r *repository) ReopenTransaction(ctx context.Context, id uuid.UUID, to enums.TransactionStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": to, "settled_from": nil}).Error
}

func (r *repository) ListByTransactions(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error) {
	if len(transactionIDs) == 0 {
		return nil, nil
	}
	var rows []models.Allocation
	if err := r.db.WithContext(ctx).
		Where("transaction_id IN ?", transactionIDs).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListBySource returns every row carrying sourceID, reversals included.
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

func (r *repository) FindAllocation(ctx context.Context, id uuid.UUID, lock bool) (*models.Allocation, error) {
	var row models.Allocation
	if err := r.query(ctx, lock).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindReversalOf(ctx context.Context, id uuid.UUID) (*models.Allocation, error) {
	var row models.Allocation
	if err := r.db.WithContext(ctx).Where("reversal_of_id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) Create(ctx context.Context, rows []*models.Allocation) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

func (r *repository) FindPayment(ctx context.Context, id uuid.UUID, lock bool) (*models.Payment, error) {
	var row models.Payment
	if err := r.query(ctx, lock).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindExpense(ctx context.Context, id uuid.UUID, lock bool) (*models.Expense, error) {
	var row models.Expense
	if err := r.query(ctx, lock).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) FindCredit(ctx context.Context, id uuid.UUID, lock bool) (*models.Credit, error) {
	var row models.Credit
	if err := r.query(ctx, lock).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) UpdateExpenseStatus(ctx context.Context, id uuid.UUID, status enums.ExpenseStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Expense{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// ListPendingExpenses returns the user's pending expenses in the shop, oldest
// first. Locks are taken in the same order.
func (r *repository) ListPendingExpenses(ctx context.Context, shopID, userID uuid.UUID, lock bool) ([]models.Expense, error) {
	var rows []models.Expense
	if err := r.query(ctx, lock).
		Where("shop_id = ? AND user_id = ? AND status = ?", shopID, userID, enums.ExpenseStatusPending).
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

func (r *repository) CreateRepayments(ctx context.Context, rows []*models.ExpenseRepayment) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Repository manages ledger accounts, balance snapshots and the source rows
// balances are recomputed from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	LockAccount(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) (*models.LedgerAccount, error)
	FindAccount(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) (*models.LedgerAccount, error)
	AdvanceAccount(ctx context.Context, account *models.LedgerAccount) error
	InsertSnapshot(ctx context.Context, snapshot *models.BalanceSnapshot) error

	ListSnapshots(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType, beforeSequence int64, limit int) ([]models.BalanceSnapshot, error)
	ListChain(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) ([]models.BalanceSnapshot, error)
	LatestSnapshotAt(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType, at time.Time) (*models.BalanceSnapshot, error)
	ListByReference(ctx context.Context, referenceType enums.BalanceReferenceType, referenceID uuid.UUID) ([]models.BalanceSnapshot, error)

	ListPartyTransactions(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) ([]models.Transaction, error)
	ListAllocationsFor(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error)
	ListPaymentsByID(ctx context.Context, ids []uuid.UUID) ([]models.Payment, error)
	ListExpensesByID(ctx context.Context, ids []uuid.UUID) ([]models.Expense, error)
	ListPaidPayments(ctx context.Context, counterpartyID uuid.UUID) ([]models.Payment, error)
	ListUserExpenses(ctx context.Context, userID uuid.UUID) ([]models.Expense, error)
	ListAllocationsBySources(ctx context.Context, sourceIDs []uuid.UUID) ([]models.Allocation, error)
	ListRepaymentsByExpenses(ctx context.Context, expenseIDs []uuid.UUID) ([]models.ExpenseRepayment, error)
	ListRepaymentsByPayments(ctx context.Context, paymentIDs []uuid.UUID) ([]models.ExpenseRepayment, error)
	ListAccountUsers(ctx context.Context, afterUserID uuid.UUID, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// LockAccount creates the account row when missing and returns it locked FOR UPDATE.
func (r *repository) LockAccount(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) (*models.LedgerAccount, error) {
	db := r.db.WithContext(ctx)
	seed := models.LedgerAccount{
		UserID:      userID,
		BalanceType: balanceType,
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, err
	}

	var account models.LedgerAccount
	if err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND balance_type = ?", userID, balanceType).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccount(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) (*models.LedgerAccount, error) {
	var account models.LedgerAccount
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND balance_type = ?", userID, balanceType).
		First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) AdvanceAccount(ctx context.Context, account *models.LedgerAccount) error {
	return r.db.WithContext(ctx).
		Model(&models.LedgerAccount{}).
		Where("user_id = ? AND balance_type = ?", account.UserID, account.BalanceType).
		Updates(map[string]any{
			"current_balance": account.CurrentBalance,
			"last_sequence":   account.LastSequence,
			"updated_at":      time.Now().UTC(),
		}).Error
}

func (r *repository) InsertSnapshot(ctx context.Context, snapshot *models.BalanceSnapshot) error {
	return r.db.WithContext(ctx).Create(snapshot).Error
}

// ListSnapshots returns up to limit snapshots newest first. A beforeSequence
// of zero starts at the latest row.
func (r *repository) ListSnapshots(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType, beforeSequence int64, limit int) ([]models.BalanceSnapshot, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ? AND balance_type = ?", userID, balanceType)
	if beforeSequence > 0 {
		query = query.Where("sequence < ?", beforeSequence)
	}
	var rows []models.BalanceSnapshot
	if err := query.Order("sequence DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListChain(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) ([]models.BalanceSnapshot, error) {
	var rows []models.BalanceSnapshot
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND balance_type = ?", userID, balanceType).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) LatestSnapshotAt(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType, at time.Time) (*models.BalanceSnapshot, error) {
	var snapshot models.BalanceSnapshot
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND balance_type = ? AND created_at <= ?", userID, balanceType, at.UTC()).
		Order("sequence DESC").
		First(&snapshot).Error; err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (r *repository) ListByReference(ctx context.Context, referenceType enums.BalanceReferenceType, referenceID uuid.UUID) ([]models.BalanceSnapshot, error) {
	var rows []models.BalanceSnapshot
	if err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceID).
		Order("user_id ASC").
		Order("balance_type ASC").
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListPartyTransactions(ctx context.Context, userID uuid.UUID, balanceType enums.BalanceType) ([]models.Transaction, error) {
	column := "buyer_id"
	if balanceType == enums.BalanceTypeFarmer {
		column = "farmer_id"
	}
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where(column+" = ?", userID).
		Order("transaction_date ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListAllocationsFor(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error) {
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

func (r *repository) ListPaymentsByID(ctx context.Context, ids []uuid.UUID) ([]models.Payment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Payment
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListExpensesByID(ctx context.Context, ids []uuid.UUID) ([]models.Expense, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.Expense
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListPaidPayments(ctx context.Context, counterpartyID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("counterparty_id = ? AND status = ?", counterpartyID, enums.PaymentStatusPaid).
		Order("payment_date ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListUserExpenses(ctx context.Context, userID uuid.UUID) ([]models.Expense, error) {
	var rows []models.Expense
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListAllocationsBySources(ctx context.Context, sourceIDs []uuid.UUID) ([]models.Allocation, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	var rows []models.Allocation
	if err := r.db.WithContext(ctx).Where("source_id IN ?", sourceIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListRepaymentsByExpenses(ctx context.Context, expenseIDs []uuid.UUID) ([]models.ExpenseRepayment, error) {
	return r.listRepayments(ctx, "expense_id", expenseIDs)
}

func (r *repository) ListRepaymentsByPayments(ctx context.Context, paymentIDs []uuid.UUID) ([]models.ExpenseRepayment, error) {
	return r.listRepayments(ctx, "payment_id", paymentIDs)
}

func (r *repository) listRepayments(ctx context.Context, column string, ids []uuid.UUID) ([]models.ExpenseRepayment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.ExpenseRepayment
	if err := r.db.WithContext(ctx).Where(column+" IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAccountUsers pages through the distinct users holding an account.
func (r *repository) ListAccountUsers(ctx context.Context, afterUserID uuid.UUID, limit int) ([]uuid.UUID, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerAccount{}).Distinct("user_id")
	if afterUserID != uuid.Nil {
		query = query.Where("user_id > ?", afterUserID)
	}
	var ids []uuid.UUID
	if err := query.Order("user_id ASC").Limit(limit).Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// Repository persists payments and bulk payment headers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID, lock bool) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PaymentStatus) error
	ListOutstanding(ctx context.Context, shopID uuid.UUID) ([]models.Payment, error)
	ListByBulk(ctx context.Context, bulkID uuid.UUID) ([]models.Payment, error)

	CreateBulk(ctx context.Context, bulk *models.BulkPayment) error
	FindBulkByKey(ctx context.Context, shopID uuid.UUID, key string) (*models.BulkPayment, error)

	FindTransactions(ctx context.Context, ids []uuid.UUID, lock bool) ([]models.Transaction, error)
	ListOpenTransactions(ctx context.Context, shopID uuid.UUID) ([]models.Transaction, error)
	ListTransactionAllocations(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error)
	ListSourceAllocations(ctx context.Context, sourceIDs []uuid.UUID) ([]models.Allocation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payments repository bound to db.
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

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, lock bool) (*models.Payment, error) {
	var payment models.Payment
	if err := r.query(ctx, lock).Where("id = ?", id).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.PaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// ListOutstanding returns the shop's PENDING payments and PAID payments that
// may still carry an unallocated remainder.
func (r *repository) ListOutstanding(ctx context.Context, shopID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Where("status IN ?", []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusPaid}).
		Order("payment_date ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByBulk(ctx context.Context, bulkID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("bulk_payment_id = ?", bulkID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) CreateBulk(ctx context.Context, bulk *models.BulkPayment) error {
	return r.db.WithContext(ctx).Create(bulk).Error
}

func (r *repository) FindBulkByKey(ctx context.Context, shopID uuid.UUID, key string) (*models.BulkPayment, error) {
	var bulk models.BulkPayment
	if err := r.db.WithContext(ctx).
		Where("shop_id = ? AND idempotency_key = ?", shopID, key).
		First(&bulk).Error; err != nil {
		return nil, err
	}
	return &bulk, nil
}

// FindTransactions loads the transactions in id order so concurrent writers
// lock them in the same order.
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

func (r *repository) ListOpenTransactions(ctx context.Context, shopID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Where("status <> ?", enums.TransactionStatusCancelled).
		Order("transaction_date ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListTransactionAllocations(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error) {
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

func (r *repository) ListSourceAllocations(ctx context.Context, sourceIDs []uuid.UUID) ([]models.Allocation, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	var rows []models.Allocation
	if err := r.db.WithContext(ctx).
		Where("source_id IN ?", sourceIDs).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

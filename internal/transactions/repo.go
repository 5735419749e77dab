package transactions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
)

// OutstandingFilter narrows ListOpen to one shop and optionally one party.
type OutstandingFilter struct {
	ShopID   uuid.UUID
	FarmerID *uuid.UUID
	BuyerID  *uuid.UUID
}

// Repository persists transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uuid.UUID, lock bool) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) error
	ListOpen(ctx context.Context, filter OutstandingFilter) ([]models.Transaction, error)
	ListAllocations(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transactions repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID, lock bool) (*models.Transaction, error) {
	q := r.db.WithContext(ctx)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var txn models.Transaction
	if err := q.Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.TransactionStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ?", id).
		Update("status", status).Error
}

// ListOpen returns the filter's non-cancelled transactions oldest first.
func (r *repository) ListOpen(ctx context.Context, filter OutstandingFilter) ([]models.Transaction, error) {
	q := r.db.WithContext(ctx).
		Where("shop_id = ?", filter.ShopID).
		Where("status <> ?", enums.TransactionStatusCancelled)
	if filter.FarmerID != nil {
		q = q.Where("farmer_id = ?", *filter.FarmerID)
	}
	if filter.BuyerID != nil {
		q = q.Where("buyer_id = ?", *filter.BuyerID)
	}
	var rows []models.Transaction
	if err := q.Order("transaction_date ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListAllocations(ctx context.Context, transactionIDs []uuid.UUID) ([]models.Allocation, error) {
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

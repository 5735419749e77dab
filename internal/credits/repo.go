package credits

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
)

// Repository persists buyer credits and reads the allocations drawn from them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, credit *models.Credit) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Credit, error)
	ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Credit, error)
	ListAllocations(ctx context.Context, creditIDs []uuid.UUID) ([]models.Allocation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a credits repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, credit *models.Credit) error {
	return r.db.WithContext(ctx).Create(credit).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Credit, error) {
	var credit models.Credit
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&credit).Error; err != nil {
		return nil, err
	}
	return &credit, nil
}

func (r *repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Credit, error) {
	var rows []models.Credit
	if err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListAllocations returns every row sourced from the credits, reversals included.
func (r *repository) ListAllocations(ctx context.Context, creditIDs []uuid.UUID) ([]models.Allocation, error) {
	if len(creditIDs) == 0 {
		return nil, nil
	}
	var rows []models.Allocation
	if err := r.db.WithContext(ctx).
		Where("source_id IN ?", creditIDs).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

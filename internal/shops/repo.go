package shops

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/internal/repo"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
)

// Repository reads shops and the party links the authorizer checks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	Create(ctx context.Context, shop *models.Shop) error
	OwnerDealsWith(ctx context.Context, ownerID, userID uuid.UUID) (bool, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a shops repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{base: r.base.Bind(tx)}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.base.DB(ctx).Where("id = ?", id).First(&shop).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *repository) Create(ctx context.Context, shop *models.Shop) error {
	return r.base.DB(ctx).Create(shop).Error
}

// OwnerDealsWith reports whether userID is a farmer or buyer on any transaction
// of a shop owned by ownerID.
func (r *repository) OwnerDealsWith(ctx context.Context, ownerID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.base.DB(ctx).
		Model(&models.Transaction{}).
		Joins("JOIN shops ON shops.id = transactions.shop_id").
		Where("shops.owner_id = ?", ownerID).
		Where("transactions.farmer_id = ? OR transactions.buyer_id = ?", userID, userID).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

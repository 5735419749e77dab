package shops

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

// Authorizer answers whether an actor may act on a shop's ledger.
type Authorizer interface {
	// RequireOwner passes only for the shop owner or an admin.
	RequireOwner(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*models.Shop, error)
	// AuthorizeShopWrite passes for the owner, an admin, or one of parties acting for themselves.
	AuthorizeShopWrite(ctx context.Context, actor *auth.Actor, shopID uuid.UUID, parties ...uuid.UUID) (*models.Shop, error)
	// AuthorizeUserView passes for the user themselves, an admin, or an owner whose shop trades with the user.
	AuthorizeUserView(ctx context.Context, actor *auth.Actor, userID uuid.UUID) error
}

type authorizer struct {
	repo Repository
}

// NewAuthorizer wires an Authorizer over repo.
func NewAuthorizer(repo Repository) (Authorizer, error) {
	if repo == nil {
		return nil, fmt.Errorf("shops repository required")
	}
	return &authorizer{repo: repo}, nil
}

func (a *authorizer) loadShop(ctx context.Context, shopID uuid.UUID) (*models.Shop, error) {
	if shopID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop id required")
	}
	shop, err := a.repo.FindByID(ctx, shopID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shop not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop")
	}
	return shop, nil
}

func (a *authorizer) RequireOwner(ctx context.Context, actor *auth.Actor, shopID uuid.UUID) (*models.Shop, error) {
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	shop, err := a.loadShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || shop.OwnerID == actor.UserID {
		return shop, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "caller does not own shop")
}

func (a *authorizer) AuthorizeShopWrite(ctx context.Context, actor *auth.Actor, shopID uuid.UUID, parties ...uuid.UUID) (*models.Shop, error) {
	if err := auth.RequireActor(actor); err != nil {
		return nil, err
	}
	shop, err := a.loadShop(ctx, shopID)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || shop.OwnerID == actor.UserID {
		return shop, nil
	}
	for _, party := range parties {
		if party != uuid.Nil && party == actor.UserID {
			return shop, nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeForbidden, "caller may not write to shop ledger")
}

func (a *authorizer) AuthorizeUserView(ctx context.Context, actor *auth.Actor, userID uuid.UUID) error {
	if err := auth.RequireActor(actor); err != nil {
		return err
	}
	if actor.IsAdmin() || actor.UserID == userID {
		return nil
	}
	ok, err := a.repo.OwnerDealsWith(ctx, actor.UserID, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check shop relationship")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeForbidden, "caller may not view user ledger")
	}
	return nil
}

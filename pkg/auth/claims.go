package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/kisaan-ledger/pkg/errors"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID uuid.UUID
	ShopID *uuid.UUID
	Role   enums.ActorRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT presented by callers.
type AccessTokenClaims struct {
	UserID uuid.UUID       `json:"user_id"`
	ShopID *uuid.UUID      `json:"shop_id,omitempty"`
	Role   enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// Actor is the authenticated party passed explicitly into every core operation.
type Actor struct {
	UserID uuid.UUID
	ShopID *uuid.UUID
	Role   enums.ActorRole
}

// ActorFromClaims converts verified claims into an Actor.
func ActorFromClaims(claims *AccessTokenClaims) *Actor {
	if claims == nil {
		return nil
	}
	return &Actor{UserID: claims.UserID, ShopID: claims.ShopID, Role: claims.Role}
}

// IsAdmin reports whether the actor carries the admin role.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == enums.ActorRoleAdmin
}

// Valid reports whether the actor identifies a user with a known role.
func (a *Actor) Valid() bool {
	return a != nil && a.UserID != uuid.Nil && a.Role.IsValid()
}

// RequireActor rejects a missing or malformed actor with UNAUTHORIZED.
func RequireActor(actor *Actor) error {
	if !actor.Valid() {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	return nil
}

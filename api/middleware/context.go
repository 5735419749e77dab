package middleware

import (
	"context"

	"github.com/angelmondragon/kisaan-ledger/pkg/auth"
)

type contextKey string

const (
	ctxActor contextKey = "actor"
)

// WithActor injects the authenticated actor into the context.
func WithActor(ctx context.Context, actor *auth.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}

// ActorFromContext returns the actor seeded by Auth, or nil.
func ActorFromContext(ctx context.Context) *auth.Actor {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(ctxActor).(*auth.Actor); ok {
		return v
	}
	return nil
}

func UserIDFromContext(ctx context.Context) string {
	if actor := ActorFromContext(ctx); actor != nil {
		return actor.UserID.String()
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if actor := ActorFromContext(ctx); actor != nil {
		return string(actor.Role)
	}
	return ""
}

func ShopIDFromContext(ctx context.Context) string {
	if actor := ActorFromContext(ctx); actor != nil && actor.ShopID != nil {
		return actor.ShopID.String()
	}
	return ""
}

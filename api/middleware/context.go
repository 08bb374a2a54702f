package middleware

import (
	"context"

	"github.com/angelmondragon/library-backend/internal/access"
)

// ActorFromContext returns the authenticated caller, if any.
func ActorFromContext(ctx context.Context) (access.Actor, bool) {
	if ctx == nil {
		return access.Actor{}, false
	}
	return access.ActorFromContext(ctx)
}

func UserIDFromContext(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ""
	}
	return actor.UserID.String()
}

func RoleFromContext(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ""
	}
	return string(actor.Role)
}

// WithActor injects the caller into the context. Tests use it to skip Auth.
func WithActor(ctx context.Context, actor access.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return access.WithActor(ctx, actor)
}

package httpapi

import (
	"context"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

type authContextKey string

const authUserKey authContextKey = "authUser"

// AuthUser represents the authenticated user in context.
type AuthUser struct {
	user.Actor
	SessionID uuid.UUID
}

func withAuthUser(ctx context.Context, u *AuthUser) context.Context {
	if u == nil {
		return ctx
	}
	return context.WithValue(ctx, authUserKey, u)
}

func authUserFromContext(ctx context.Context) *AuthUser {
	if v, ok := ctx.Value(authUserKey).(*AuthUser); ok {
		return v
	}
	return nil
}

// actorFrom returns the caller. Handlers run behind requireAuth.
func actorFrom(ctx context.Context) user.Actor {
	if u := authUserFromContext(ctx); u != nil {
		return u.Actor
	}
	return user.Actor{}
}

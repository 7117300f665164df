package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for sessions.
type Repository interface {
	Create(ctx context.Context, session *Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByID(ctx context.Context, sessionID uuid.UUID) error
	DeleteByTokenHash(ctx context.Context, tokenHash string) error
	// DeleteByUser revokes every session of a user.
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)
	UpdateLastSeen(ctx context.Context, sessionID uuid.UUID, at time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

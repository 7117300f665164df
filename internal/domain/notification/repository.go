package notification

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows a user's inbox.
type Filter struct {
	UserID     uuid.UUID
	UnreadOnly bool
}

// Repository defines the interface for notification persistence
type Repository interface {
	Create(ctx context.Context, notification *Notification) error
	GetByID(ctx context.Context, notificationID uuid.UUID) (*Notification, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Notification, error)
	MarkRead(ctx context.Context, notification *Notification) error
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
}

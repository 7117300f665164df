package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// Fanout persists one notification per recipient inside the caller's
// transaction, skipping the acting user.
func Fanout(ctx context.Context, repo notification.Repository, recipients []uuid.UUID, skip uuid.UUID, typ notification.Type, payload interface{}) ([]*notification.Notification, error) {
	out := make([]*notification.Notification, 0, len(recipients))
	for _, id := range recipients {
		if id == skip {
			continue
		}
		n, err := notification.New(id, typ, payload)
		if err != nil {
			return nil, fmt.Errorf("build notification: %w", err)
		}
		if err := repo.Create(ctx, n); err != nil {
			return nil, fmt.Errorf("create notification: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Service is the read side of a user's notification inbox.
type Service struct {
	repo   notification.Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo notification.Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("service", "notification").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Inbox is a page of notifications with the unread total.
type Inbox struct {
	Notifications []*notification.Notification `json:"notifications"`
	Unread        int                          `json:"unread"`
}

func (s *Service) List(ctx context.Context, actor user.Actor, unreadOnly bool, limit, offset int) (*Inbox, error) {
	items, err := s.repo.List(ctx, notification.Filter{UserID: actor.UserID, UnreadOnly: unreadOnly}, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.repo.CountUnread(ctx, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("count unread notifications: %w", err)
	}
	if items == nil {
		items = []*notification.Notification{}
	}
	return &Inbox{Notifications: items, Unread: unread}, nil
}

// MarkRead marks one of the caller's notifications as read. Marking an
// already read notification succeeds without change.
func (s *Service) MarkRead(ctx context.Context, actor user.Actor, notificationID uuid.UUID) (*notification.Notification, error) {
	n, err := s.repo.GetByID(ctx, notificationID)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	if n == nil || n.UserID != actor.UserID {
		return nil, apperr.NotFound("notification.not_found", "notification not found")
	}
	if !n.MarkRead(s.now()) {
		return n, nil
	}
	if err := s.repo.MarkRead(ctx, n); err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}

func (s *Service) UnreadCount(ctx context.Context, actor user.Actor) (int, error) {
	return s.repo.CountUnread(ctx, actor.UserID)
}

package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
)

type notificationRepo struct {
	st *state
}

func (r *notificationRepo) Create(_ context.Context, n *notification.Notification) error {
	n.ID = r.st.id()
	r.st.notifications = append(r.st.notifications, n.Clone())
	return nil
}

func (r *notificationRepo) GetByID(_ context.Context, notificationID uuid.UUID) (*notification.Notification, error) {
	for _, n := range r.st.notifications {
		if n.NotificationID == notificationID {
			return n.Clone(), nil
		}
	}
	return nil, nil
}

func (r *notificationRepo) List(_ context.Context, filter notification.Filter, limit, offset int) ([]*notification.Notification, error) {
	var out []*notification.Notification
	for i := len(r.st.notifications) - 1; i >= 0; i-- {
		n := r.st.notifications[i]
		if n.UserID != filter.UserID || (filter.UnreadOnly && n.IsRead()) {
			continue
		}
		out = append(out, n.Clone())
	}
	start, end := paginate(len(out), limit, offset)
	return out[start:end], nil
}

func (r *notificationRepo) MarkRead(_ context.Context, n *notification.Notification) error {
	for _, cur := range r.st.notifications {
		if cur.NotificationID == n.NotificationID {
			cur.ReadAt = n.ReadAt
			return nil
		}
	}
	return fmt.Errorf("notification %s does not exist", n.NotificationID)
}

func (r *notificationRepo) CountUnread(_ context.Context, userID uuid.UUID) (int, error) {
	count := 0
	for _, n := range r.st.notifications {
		if n.UserID == userID && !n.IsRead() {
			count++
		}
	}
	return count, nil
}

// NotificationRepository serves notifications outside a transaction.
type NotificationRepository struct {
	store *Store
}

func (s *Store) NotificationRepository() *NotificationRepository {
	return &NotificationRepository{store: s}
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	return r.store.view(func(st *state) error { return (&notificationRepo{st: st}).Create(ctx, n) })
}

func (r *NotificationRepository) GetByID(ctx context.Context, notificationID uuid.UUID) (*notification.Notification, error) {
	var out *notification.Notification
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&notificationRepo{st: st}).GetByID(ctx, notificationID)
		return err
	})
	return out, err
}

func (r *NotificationRepository) List(ctx context.Context, filter notification.Filter, limit, offset int) ([]*notification.Notification, error) {
	var out []*notification.Notification
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&notificationRepo{st: st}).List(ctx, filter, limit, offset)
		return err
	})
	return out, err
}

func (r *NotificationRepository) MarkRead(ctx context.Context, n *notification.Notification) error {
	return r.store.view(func(st *state) error { return (&notificationRepo{st: st}).MarkRead(ctx, n) })
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var out int
	err := r.store.view(func(st *state) error {
		var err error
		out, err = (&notificationRepo{st: st}).CountUnread(ctx, userID)
		return err
	})
	return out, err
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
)

const notificationColumns = `id, notification_id, user_id, type, payload, read_at, created_at`

// NotificationRepository implements notification.Repository.
type NotificationRepository struct {
	db DBTX
}

func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	payload := []byte(n.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO notifications (notification_id, user_id, type, payload, read_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, n.NotificationID, n.UserID, n.Type, payload, n.ReadAt, n.CreatedAt)
	if err := row.Scan(&n.ID); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, notificationID uuid.UUID) (*notification.Notification, error) {
	row := r.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE notification_id=$1`, notificationID)
	return scanNotification(row)
}

func (r *NotificationRepository) List(ctx context.Context, filter notification.Filter, limit, offset int) ([]*notification.Notification, error) {
	var w where
	w.add("user_id=?", filter.UserID)
	if filter.UnreadOnly {
		w.addRaw("read_at IS NULL")
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications` + w.String() + ` ORDER BY id DESC` + w.page(limit, offset)
	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []*notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) MarkRead(ctx context.Context, n *notification.Notification) error {
	_, err := r.db.Exec(ctx, `UPDATE notifications SET read_at=$1 WHERE notification_id=$2`, n.ReadAt, n.NotificationID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read_at IS NULL`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return n, nil
}

func scanNotification(row pgx.Row) (*notification.Notification, error) {
	var n notification.Notification
	if err := row.Scan(&n.ID, &n.NotificationID, &n.UserID, &n.Type, &n.Payload, &n.ReadAt, &n.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan notification: %w", err)
	}
	return &n, nil
}

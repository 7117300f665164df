package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mediation-hub/mediation-hub/internal/domain/session"
)

// SessionRepository implements session.Repository.
type SessionRepository struct {
	db DBTX
}

func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO sessions
		(session_id, token_hash, user_id, created_at, expires_at, last_seen_at, user_agent, ip_address)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`, s.SessionID, s.TokenHash, s.UserID, s.CreatedAt, s.ExpiresAt, s.LastSeenAt, s.UserAgent, s.IPAddress).Scan(&s.ID)
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, session_id, token_hash, user_id, created_at, expires_at, last_seen_at, user_agent, ip_address
		FROM sessions WHERE token_hash=$1
	`, tokenHash)
	var s session.Session
	if err := row.Scan(&s.ID, &s.SessionID, &s.TokenHash, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt, &s.UserAgent, &s.IPAddress); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) DeleteByID(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE session_id=$1`, sessionID)
	return err
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE token_hash=$1`, tokenHash)
	return err
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *SessionRepository) UpdateLastSeen(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET last_seen_at=$1 WHERE session_id=$2`, at, sessionID)
	return err
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

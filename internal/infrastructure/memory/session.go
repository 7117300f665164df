package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/session"
)

// SessionRepository keeps sessions in process.
type SessionRepository struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[string]*session.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*session.Session)}
}

func (r *SessionRepository) Create(_ context.Context, s *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.ID = r.nextID
	cp := *s
	r.sessions[s.TokenHash] = &cp
	return nil
}

func (r *SessionRepository) GetByTokenHash(_ context.Context, tokenHash string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tokenHash]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *SessionRepository) DeleteByID(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.sessions {
		if s.SessionID == sessionID {
			delete(r.sessions, k)
		}
	}
	return nil
}

func (r *SessionRepository) DeleteByTokenHash(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, tokenHash)
	return nil
}

func (r *SessionRepository) DeleteByUser(_ context.Context, userID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, k)
			n++
		}
	}
	return n, nil
}

func (r *SessionRepository) UpdateLastSeen(_ context.Context, sessionID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.SessionID == sessionID {
			t := at
			s.LastSeenAt = &t
		}
	}
	return nil
}

func (r *SessionRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, s := range r.sessions {
		if s.IsExpired(now) {
			delete(r.sessions, k)
			n++
		}
	}
	return n, nil
}

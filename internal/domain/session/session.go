package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is a bearer token issued at login. Only the token hash is stored.
type Session struct {
	ID         int64      `json:"id"`
	SessionID  uuid.UUID  `json:"sessionId"`
	TokenHash  string     `json:"-"`
	UserID     uuid.UUID  `json:"userId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
	UserAgent  *string    `json:"userAgent,omitempty"`
	IPAddress  *string    `json:"ipAddress,omitempty"`
}

// Issue creates a session for userID and returns it with the plain token.
func Issue(userID uuid.UUID, ttl time.Duration, userAgent, ipAddress *string, now time.Time) (*Session, string, error) {
	if ttl <= 0 {
		return nil, "", fmt.Errorf("session ttl must be positive")
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return &Session{
		SessionID:  uuid.New(),
		TokenHash:  HashToken(token),
		UserID:     userID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: &now,
		UserAgent:  userAgent,
		IPAddress:  ipAddress,
	}, token, nil
}

// HashToken is the at-rest form of a token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Remaining is the time left before expiry, never negative.
func (s *Session) Remaining(now time.Time) time.Duration {
	if d := s.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

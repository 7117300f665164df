package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	domainSession "github.com/mediation-hub/mediation-hub/internal/domain/session"
	domainUser "github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// Service handles authentication.
type Service struct {
	userRepo    domainUser.Repository
	sessionRepo domainSession.Repository
	sessionTTL  time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

// NewService creates an auth service.
func NewService(userRepo domainUser.Repository, sessionRepo domainSession.Repository, sessionTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		sessionTTL:  sessionTTL,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With().Str("service", "auth").Logger(),
	}
}

// LoginResult contains login response.
type LoginResult struct {
	User    *domainUser.User
	Session *domainSession.Session
	Token   string
}

func invalidCredentials() error {
	return apperr.Unauthorized("auth.invalid_credentials", "invalid username or password")
}

// Login authenticates a user and creates a session.
func (s *Service) Login(ctx context.Context, username, password string, userAgent, ipAddress *string) (*LoginResult, error) {
	u, err := s.userRepo.GetByUsername(ctx, domainUser.NormalizeUsername(username))
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil || !domainUser.VerifyPassword(u.PasswordHash, password) {
		return nil, invalidCredentials()
	}
	if !u.IsActive() {
		return nil, apperr.Forbidden("auth.user_disabled", "user is disabled")
	}

	sess, token, err := domainSession.Issue(u.UserID, s.sessionTTL, userAgent, ipAddress, s.now())
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info().Str("user_id", u.UserID.String()).Msg("user login")
	return &LoginResult{User: u, Session: sess, Token: token}, nil
}

// Authenticate validates a session token and returns the user.
func (s *Service) Authenticate(ctx context.Context, token string) (*domainUser.User, *domainSession.Session, error) {
	if token == "" {
		return nil, nil, apperr.Unauthorized("auth.missing_token", "missing token")
	}
	sess, err := s.sessionRepo.GetByTokenHash(ctx, domainSession.HashToken(token))
	if err != nil {
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, nil, apperr.Unauthorized("auth.invalid_token", "session not found")
	}
	now := s.now()
	if sess.IsExpired(now) {
		if err := s.sessionRepo.DeleteByID(ctx, sess.SessionID); err != nil {
			s.logger.Warn().Err(err).Msg("failed to delete expired session")
		}
		return nil, nil, apperr.Unauthorized("auth.session_expired", "session expired")
	}
	u, err := s.userRepo.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil || !u.IsActive() {
		return nil, nil, apperr.Unauthorized("auth.user_inactive", "user not active")
	}
	if err := s.sessionRepo.UpdateLastSeen(ctx, sess.SessionID, now); err != nil {
		s.logger.Warn().Err(err).Msg("failed to update session last seen")
	}
	return u, sess, nil
}

// Logout deletes a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessionRepo.DeleteByTokenHash(ctx, domainSession.HashToken(token))
}

// PurgeExpired removes expired sessions.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.sessionRepo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug().Int("count", n).Msg("expired sessions purged")
	}
	return n, nil
}

// RunJanitor purges expired sessions every interval until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got %s", interval)
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		if _, err := s.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("session purge failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule session purge: %w", err)
	}
	c.Start()
	s.logger.Debug().Dur("interval", interval).Msg("session janitor started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

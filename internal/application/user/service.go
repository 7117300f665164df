package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
	domainSession "github.com/mediation-hub/mediation-hub/internal/domain/session"
	domain "github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// Service handles user management.
type Service struct {
	repo     domain.Repository
	sessions domainSession.Repository
	auditSvc *appAudit.Service
	logger   zerolog.Logger
}

// NewService creates a user service.
func NewService(repo domain.Repository, sessions domainSession.Repository, auditSvc *appAudit.Service, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		auditSvc: auditSvc,
		logger:   logger.With().Str("service", "user").Logger(),
	}
}

// CreateInput defines user creation input.
type CreateInput struct {
	Username    string
	DisplayName string
	Password    string
	Role        domain.Role
	Status      domain.Status
}

// UpdateInput defines user update input.
type UpdateInput struct {
	DisplayName *string
	Role        *domain.Role
	Status      *domain.Status
}

func invalid(key string, err error) error {
	return apperr.Validation(key, err.Error())
}

func (s *Service) build(input CreateInput) (*domain.User, error) {
	username := domain.NormalizeUsername(input.Username)
	if err := domain.ValidateUsername(username); err != nil {
		return nil, invalid("user.invalid_username", err)
	}
	if err := domain.ValidatePassword(input.Password, username); err != nil {
		return nil, invalid("user.weak_password", err)
	}
	if err := domain.ValidateRole(input.Role); err != nil {
		return nil, invalid("user.invalid_role", err)
	}
	if input.Status == "" {
		input.Status = domain.StatusActive
	}
	if err := domain.ValidateStatus(input.Status); err != nil {
		return nil, invalid("user.invalid_status", err)
	}
	hash, err := domain.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	return &domain.User{
		UserID:       uuid.New(),
		Username:     username,
		DisplayName:  input.DisplayName,
		PasswordHash: hash,
		Role:         input.Role,
		Status:       input.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *Service) create(ctx context.Context, u *domain.User) error {
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, domain.ErrDuplicateUsername) {
			return apperr.Conflict("user.duplicate_username", "username already exists").WithParam("username", u.Username)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Bootstrap creates the first admin. It fails once any user exists.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (*domain.User, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil, apperr.InvalidState("bootstrap already completed")
	}
	u, err := s.build(CreateInput{Username: username, Password: password, Role: domain.RoleAdmin})
	if err != nil {
		return nil, err
	}
	if err := s.create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.UserID.String()).Msg("bootstrap admin created")
	s.audit(ctx, "bootstrap:"+u.Username, u, audit.ActionCreate, "bootstrap")
	return u, nil
}

func (s *Service) CreateUser(ctx context.Context, actor domain.Actor, input CreateInput) (*domain.User, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("user.admin_only", "only admins manage users")
	}
	u, err := s.build(input)
	if err != nil {
		return nil, err
	}
	if err := s.create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", u.UserID.String()).Str("username", u.Username).Msg("user created")
	s.audit(ctx, actor.ActorString(), u, audit.ActionCreate, "")
	return u, nil
}

// UpdateUser changes profile, role or status. Disabling a user revokes
// their sessions.
func (s *Service) UpdateUser(ctx context.Context, actor domain.Actor, userID uuid.UUID, input UpdateInput) (*domain.User, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("user.admin_only", "only admins manage users")
	}
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, apperr.NotFound("user.not_found", "user not found").WithParam("userId", userID.String())
	}
	if input.DisplayName != nil {
		u.DisplayName = *input.DisplayName
	}
	if input.Role != nil {
		if err := domain.ValidateRole(*input.Role); err != nil {
			return nil, invalid("user.invalid_role", err)
		}
		u.Role = *input.Role
	}
	disabled := false
	if input.Status != nil {
		if err := domain.ValidateStatus(*input.Status); err != nil {
			return nil, invalid("user.invalid_status", err)
		}
		disabled = u.IsActive() && *input.Status == domain.StatusDisabled
		u.Status = *input.Status
	}
	if u.UserID == actor.UserID && (!u.IsAdmin() || !u.IsActive()) {
		return nil, apperr.Validation("user.self_demotion", "admins cannot demote or disable themselves")
	}
	u.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if disabled {
		n, err := s.sessions.DeleteByUser(ctx, u.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", u.UserID.String()).Msg("failed to revoke sessions")
		} else {
			s.logger.Info().Str("user_id", u.UserID.String()).Int("sessions", n).Msg("user disabled")
		}
	}
	s.audit(ctx, actor.ActorString(), u, audit.ActionUpdate, "")
	return u, nil
}

func (s *Service) SetPassword(ctx context.Context, userID uuid.UUID, password string) error {
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return apperr.NotFound("user.not_found", "user not found").WithParam("userId", userID.String())
	}
	if err := domain.ValidatePassword(password, u.Username); err != nil {
		return invalid("user.weak_password", err)
	}
	hash, err := domain.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	u.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, u)
}

// GetUser returns a user. Non-admins may only look themselves up.
func (s *Service) GetUser(ctx context.Context, actor domain.Actor, userID uuid.UUID) (*domain.User, error) {
	if !actor.IsAdmin() && actor.UserID != userID {
		return nil, apperr.Forbidden("user.forbidden", "cannot view other users")
	}
	u, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, apperr.NotFound("user.not_found", "user not found").WithParam("userId", userID.String())
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, actor domain.Actor, filter domain.Filter, limit, offset int) ([]*domain.User, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("user.admin_only", "only admins manage users")
	}
	users, err := s.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Service) audit(ctx context.Context, actor string, u *domain.User, action audit.Action, reason string) {
	if s.auditSvc == nil {
		return
	}
	s.auditSvc.Log(ctx, &audit.AuditEntry{
		EntityType: audit.EntityUser,
		EntityID:   u.UserID.String(),
		Action:     action,
		Actor:      actor,
		NewValues:  map[string]interface{}{"username": u.Username, "role": u.Role, "status": u.Status},
		Reason:     reason,
	})
}

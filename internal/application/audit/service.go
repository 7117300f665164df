package audit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
)

// Service handles audit log operations
type Service struct {
	repo    audit.Repository
	logger  zerolog.Logger
	signKey []byte
}

// NewService creates a new audit service
func NewService(repo audit.Repository, logger zerolog.Logger, signKey []byte) *Service {
	return &Service{
		repo:    repo,
		signKey: signKey,
		logger:  logger.With().Str("service", "audit").Logger(),
	}
}

// Log creates a new audit log entry asynchronously
func (s *Service) Log(ctx context.Context, entry *audit.AuditEntry) {
	go func() {
		if err := s.LogSync(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Error().Err(err).
				Str("entityType", string(entry.EntityType)).
				Str("entityId", entry.EntityID).
				Str("action", string(entry.Action)).
				Msg("failed to create audit log")
		}
	}()
}

// LogSync creates a new audit log entry synchronously
func (s *Service) LogSync(ctx context.Context, entry *audit.AuditEntry) error {
	auditLog, err := audit.NewAuditLog(entry)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}

	if len(s.signKey) > 0 {
		sig, err := audit.SignAuditLog(auditLog, s.signKey)
		if err != nil {
			return fmt.Errorf("failed to sign audit log: %w", err)
		}
		auditLog.Signature = sig
	}

	if err := s.repo.Create(ctx, auditLog); err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}

	s.logger.Debug().
		Str("auditId", auditLog.AuditID.String()).
		Str("entityType", string(auditLog.EntityType)).
		Str("entityId", auditLog.EntityID).
		Str("action", string(auditLog.Action)).
		Str("actor", auditLog.Actor).
		Msg("audit log created")

	if auditLog.RiskLevel == audit.RiskLevelHigh {
		s.logger.Warn().
			Str("auditId", auditLog.AuditID.String()).
			Str("entityType", string(auditLog.EntityType)).
			Str("entityId", auditLog.EntityID).
			Str("action", string(auditLog.Action)).
			Str("actor", auditLog.Actor).
			Msg("high-risk operation recorded")
	}
	return nil
}

// QueryParams represents query parameters for audit logs
type QueryParams struct {
	EntityType *string
	EntityID   *string
	Action     *string
	Actor      *string
	RiskLevel  *string
	StartTime  *time.Time
	EndTime    *time.Time
	Cursor     *string
	Limit      int
}

// QueryResult represents the result of an audit log query
type QueryResult struct {
	Logs       []*audit.AuditLog `json:"logs"`
	Pagination Pagination        `json:"pagination"`
}

type Pagination struct {
	Cursor  *string `json:"cursor,omitempty"`
	HasMore bool    `json:"hasMore"`
	Count   int     `json:"count"`
}

// Query retrieves audit logs based on parameters
func (s *Service) Query(ctx context.Context, params QueryParams) (*QueryResult, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	if params.Limit > 200 {
		params.Limit = 200
	}

	var cursor *audit.Cursor
	if params.Cursor != nil && *params.Cursor != "" {
		c, err := decodeCursor(*params.Cursor)
		if err != nil {
			return nil, apperr.Validation("audit.invalid_cursor", "invalid cursor")
		}
		cursor = c
	}

	filter := audit.QueryFilter{
		EntityID:  params.EntityID,
		Actor:     params.Actor,
		StartTime: params.StartTime,
		EndTime:   params.EndTime,
	}
	if params.EntityType != nil {
		et := audit.EntityType(*params.EntityType)
		filter.EntityType = &et
	}
	if params.Action != nil {
		a := audit.Action(*params.Action)
		filter.Action = &a
	}
	if params.RiskLevel != nil {
		rl := audit.RiskLevel(*params.RiskLevel)
		filter.RiskLevel = &rl
	}

	logs, nextCursor, err := s.repo.Query(ctx, filter, cursor, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	if logs == nil {
		logs = []*audit.AuditLog{}
	}

	result := &QueryResult{
		Logs: logs,
		Pagination: Pagination{
			Count:   len(logs),
			HasMore: nextCursor != nil,
		},
	}
	if nextCursor != nil {
		encoded, err := encodeCursor(nextCursor)
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to encode cursor")
		} else {
			result.Pagination.Cursor = &encoded
		}
	}
	return result, nil
}

// VerifyResult reports the integrity of one entry.
type VerifyResult struct {
	AuditID  uuid.UUID `json:"auditId"`
	Verified bool      `json:"verified"`
}

// Verify checks the stored signature of an audit entry.
func (s *Service) Verify(ctx context.Context, auditID uuid.UUID) (*VerifyResult, error) {
	log, err := s.repo.GetByID(ctx, auditID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	if log == nil {
		return nil, apperr.NotFound("audit.not_found", "audit log not found")
	}
	ok, err := audit.VerifyAuditLogSignature(log, s.signKey)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	if !ok {
		s.logger.Warn().Str("auditId", auditID.String()).Msg("audit log signature verification failed")
	}
	return &VerifyResult{AuditID: auditID, Verified: ok}, nil
}

func encodeCursor(c *audit.Cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(data), nil
}

func decodeCursor(s string) (*audit.Cursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var c audit.Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

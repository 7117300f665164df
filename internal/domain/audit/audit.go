package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityType is the kind of record an audit entry refers to.
type EntityType string

const (
	EntityMediation EntityType = "MEDIATION"
	EntitySubChat   EntityType = "SUB_CHAT"
	EntityLedger    EntityType = "LEDGER"
	EntityUser      EntityType = "USER"
)

// Action is what happened to the entity.
type Action string

const (
	ActionCreate         Action = "CREATE"
	ActionAssignMediator Action = "ASSIGN_MEDIATOR"
	ActionResolve        Action = "RESOLVE"
	ActionCancel         Action = "CANCEL"
	ActionDeposit        Action = "DEPOSIT"
	ActionUpdate         Action = "UPDATE"
	ActionLogin          Action = "LOGIN"
	ActionLogout         Action = "LOGOUT"
)

type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "LOW"
	RiskLevelMedium RiskLevel = "MEDIUM"
	RiskLevelHigh   RiskLevel = "HIGH"
)

// AuditLog is a signed, append-only record of a sensitive operation.
type AuditLog struct {
	ID         int64           `json:"id"`
	AuditID    uuid.UUID       `json:"auditId"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Action     Action          `json:"action"`
	Actor      string          `json:"actor"`
	ActorID    *uuid.UUID      `json:"actorId,omitempty"`
	NewValues  json.RawMessage `json:"newValues,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	RiskLevel  RiskLevel       `json:"riskLevel"`
	Signature  []byte          `json:"signature,omitempty"`
	RequestID  string          `json:"requestId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// AuditEntry is the input for a new audit log.
type AuditEntry struct {
	EntityType EntityType
	EntityID   string
	Action     Action
	Actor      string
	ActorID    *uuid.UUID
	NewValues  interface{}
	Reason     string
	RequestID  string
}

// QueryFilter narrows audit queries.
type QueryFilter struct {
	EntityType *EntityType
	EntityID   *string
	Action     *Action
	Actor      *string
	RiskLevel  *RiskLevel
	StartTime  *time.Time
	EndTime    *time.Time
}

// Cursor is a keyset pagination position.
type Cursor struct {
	CreatedAt time.Time `json:"ts"`
	ID        int64     `json:"id"`
}

// Repository defines audit log persistence.
type Repository interface {
	Create(ctx context.Context, entry *AuditLog) error
	GetByID(ctx context.Context, auditID uuid.UUID) (*AuditLog, error)
	// Query returns entries newest first and the cursor for the next page.
	Query(ctx context.Context, filter QueryFilter, cursor *Cursor, limit int) ([]*AuditLog, *Cursor, error)
}

// DetermineRiskLevel classifies an operation.
func DetermineRiskLevel(entityType EntityType, action Action) RiskLevel {
	switch {
	case action == ActionResolve || action == ActionCancel:
		return RiskLevelHigh
	case entityType == EntityLedger:
		return RiskLevelHigh
	case entityType == EntityUser || action == ActionAssignMediator:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// NewAuditLog builds an unsigned log from entry.
func NewAuditLog(entry *AuditEntry) (*AuditLog, error) {
	log := &AuditLog{
		AuditID:    uuid.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Actor:      entry.Actor,
		ActorID:    entry.ActorID,
		Reason:     entry.Reason,
		RequestID:  entry.RequestID,
		RiskLevel:  DetermineRiskLevel(entry.EntityType, entry.Action),
		CreatedAt:  time.Now().UTC().Truncate(time.Microsecond),
	}
	if entry.NewValues != nil {
		data, err := json.Marshal(entry.NewValues)
		if err != nil {
			return nil, err
		}
		log.NewValues = data
	}
	return log, nil
}

package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
)

// AuditRepository keeps audit logs in process, oldest first.
type AuditRepository struct {
	mu   sync.Mutex
	logs []*audit.AuditLog
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(_ context.Context, entry *audit.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = int64(len(r.logs) + 1)
	cp := *entry
	r.logs = append(r.logs, &cp)
	return nil
}

func (r *AuditRepository) GetByID(_ context.Context, auditID uuid.UUID) (*audit.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.AuditID == auditID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *AuditRepository) Query(_ context.Context, filter audit.QueryFilter, cursor *audit.Cursor, limit int) ([]*audit.AuditLog, *audit.Cursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.AuditLog
	for i := len(r.logs) - 1; i >= 0; i-- {
		l := r.logs[i]
		if cursor != nil && !before(l, cursor) {
			continue
		}
		if !matches(l, filter) {
			continue
		}
		if limit > 0 && len(out) == limit {
			last := out[len(out)-1]
			return out, &audit.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil, nil
}

func before(l *audit.AuditLog, c *audit.Cursor) bool {
	if l.CreatedAt.Equal(c.CreatedAt) {
		return l.ID < c.ID
	}
	return l.CreatedAt.Before(c.CreatedAt)
}

func matches(l *audit.AuditLog, f audit.QueryFilter) bool {
	switch {
	case f.EntityType != nil && l.EntityType != *f.EntityType:
		return false
	case f.EntityID != nil && l.EntityID != *f.EntityID:
		return false
	case f.Action != nil && l.Action != *f.Action:
		return false
	case f.Actor != nil && l.Actor != *f.Actor:
		return false
	case f.RiskLevel != nil && l.RiskLevel != *f.RiskLevel:
		return false
	case f.StartTime != nil && l.CreatedAt.Before(*f.StartTime):
		return false
	case f.EndTime != nil && l.CreatedAt.After(*f.EndTime):
		return false
	}
	return true
}

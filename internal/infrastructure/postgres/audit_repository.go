package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
)

const auditColumns = `id, audit_id, entity_type, entity_id, action, actor, actor_id, new_values, reason, risk_level, signature, request_id, created_at`

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, entry *audit.AuditLog) error {
	var newValues []byte
	if len(entry.NewValues) > 0 {
		newValues = entry.NewValues
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO audit_logs
		(audit_id, entity_type, entity_id, action, actor, actor_id, new_values, reason, risk_level, signature, request_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id
	`, entry.AuditID, entry.EntityType, entry.EntityID, entry.Action, entry.Actor, entry.ActorID, newValues,
		entry.Reason, entry.RiskLevel, entry.Signature, entry.RequestID, entry.CreatedAt).Scan(&entry.ID)
}

func (r *AuditRepository) GetByID(ctx context.Context, auditID uuid.UUID) (*audit.AuditLog, error) {
	row := r.db.QueryRow(ctx, `SELECT `+auditColumns+` FROM audit_logs WHERE audit_id=$1`, auditID)
	return scanAudit(row)
}

func (r *AuditRepository) Query(ctx context.Context, filter audit.QueryFilter, cursor *audit.Cursor, limit int) ([]*audit.AuditLog, *audit.Cursor, error) {
	var w where
	if filter.EntityType != nil {
		w.add("entity_type=?", *filter.EntityType)
	}
	if filter.EntityID != nil {
		w.add("entity_id=?", *filter.EntityID)
	}
	if filter.Action != nil {
		w.add("action=?", *filter.Action)
	}
	if filter.Actor != nil {
		w.add("actor=?", *filter.Actor)
	}
	if filter.RiskLevel != nil {
		w.add("risk_level=?", *filter.RiskLevel)
	}
	if filter.StartTime != nil {
		w.add("created_at >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		w.add("created_at <= ?", *filter.EndTime)
	}
	if cursor != nil {
		w.add("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	// One extra row tells whether another page exists.
	fetch := 0
	if limit > 0 {
		fetch = limit + 1
	}
	query := `SELECT ` + auditColumns + ` FROM audit_logs` + w.String() + ` ORDER BY created_at DESC, id DESC` + w.page(fetch, 0)
	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var logs []*audit.AuditLog
	for rows.Next() {
		log, err := scanAudit(rows)
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *audit.Cursor
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
		last := logs[len(logs)-1]
		next = &audit.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return logs, next, nil
}

func scanAudit(row pgx.Row) (*audit.AuditLog, error) {
	var log audit.AuditLog
	var newValues []byte
	if err := row.Scan(&log.ID, &log.AuditID, &log.EntityType, &log.EntityID, &log.Action, &log.Actor, &log.ActorID,
		&newValues, &log.Reason, &log.RiskLevel, &log.Signature, &log.RequestID, &log.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	log.NewValues = newValues
	return &log, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
)

const mediationColumns = `id, mediation_id, product_title, seller_id, buyer_id, mediator_id, overseers,
	bid_amount, bid_currency, escrowed_amount, escrowed_currency, escrow_held, mediator_fee, fee_currency,
	status, seller_confirmed_start, buyer_confirmed_start,
	dispute_opened_by, dispute_opened_at, dispute_reason, resolution_notes, winner_id, loser_id, cancellation_reason,
	version, created_at, updated_at`

// MediationRepository implements mediation.Repository.
type MediationRepository struct {
	db DBTX
}

func NewMediationRepository(db DBTX) *MediationRepository {
	return &MediationRepository{db: db}
}

func (r *MediationRepository) Create(ctx context.Context, m *mediation.Mediation) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO mediations
		(mediation_id, product_title, seller_id, buyer_id, mediator_id, overseers,
		 bid_amount, bid_currency, escrowed_amount, escrowed_currency, escrow_held, mediator_fee, fee_currency,
		 status, seller_confirmed_start, buyer_confirmed_start,
		 dispute_opened_by, dispute_opened_at, dispute_reason, resolution_notes, winner_id, loser_id, cancellation_reason,
		 version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		RETURNING id
	`, m.MediationID, m.ProductTitle, m.SellerID, m.BuyerID, m.MediatorID, overseersOrEmpty(m.Overseers),
		m.BidAmount, m.BidCurrency, m.EscrowedAmount, m.EscrowedCurrency, m.EscrowHeld, m.MediatorFee, m.FeeCurrency,
		m.Status, m.SellerConfirmedStart, m.BuyerConfirmedStart,
		m.DisputeOpenedBy, m.DisputeOpenedAt, m.DisputeReason, m.ResolutionNotes, m.WinnerID, m.LoserID, m.CancellationReason,
		m.Version, m.CreatedAt, m.UpdatedAt)
	if err := row.Scan(&m.ID); err != nil {
		return fmt.Errorf("insert mediation: %w", err)
	}
	return nil
}

func (r *MediationRepository) GetByID(ctx context.Context, mediationID uuid.UUID) (*mediation.Mediation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+mediationColumns+` FROM mediations WHERE mediation_id=$1`, mediationID)
	return scanMediation(row)
}

// GetForUpdate locks the row until the surrounding transaction ends.
func (r *MediationRepository) GetForUpdate(ctx context.Context, mediationID uuid.UUID) (*mediation.Mediation, error) {
	row := r.db.QueryRow(ctx, `SELECT `+mediationColumns+` FROM mediations WHERE mediation_id=$1 FOR UPDATE`, mediationID)
	return scanMediation(row)
}

func (r *MediationRepository) Update(ctx context.Context, m *mediation.Mediation, expectedVersion int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE mediations SET
			mediator_id=$1, overseers=$2,
			escrowed_amount=$3, escrowed_currency=$4, escrow_held=$5, mediator_fee=$6, fee_currency=$7,
			status=$8, seller_confirmed_start=$9, buyer_confirmed_start=$10,
			dispute_opened_by=$11, dispute_opened_at=$12, dispute_reason=$13, resolution_notes=$14,
			winner_id=$15, loser_id=$16, cancellation_reason=$17,
			version=$18, updated_at=$19
		WHERE mediation_id=$20 AND version=$21
	`, m.MediatorID, overseersOrEmpty(m.Overseers),
		m.EscrowedAmount, m.EscrowedCurrency, m.EscrowHeld, m.MediatorFee, m.FeeCurrency,
		m.Status, m.SellerConfirmedStart, m.BuyerConfirmedStart,
		m.DisputeOpenedBy, m.DisputeOpenedAt, m.DisputeReason, m.ResolutionNotes,
		m.WinnerID, m.LoserID, m.CancellationReason,
		m.Version, m.UpdatedAt,
		m.MediationID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update mediation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mediation.ErrVersionConflict
	}
	return nil
}

func (r *MediationRepository) List(ctx context.Context, filter mediation.Filter, limit, offset int) ([]*mediation.Mediation, error) {
	var w where
	if filter.ParticipantID != nil {
		w.add("(seller_id=? OR buyer_id=? OR mediator_id=? OR ?=ANY(overseers))", *filter.ParticipantID)
	}
	if filter.Status != nil {
		w.add("status=?", *filter.Status)
	}
	if filter.Unassigned {
		w.addRaw("mediator_id IS NULL")
	}
	query := `SELECT ` + mediationColumns + ` FROM mediations` + w.String() + ` ORDER BY created_at DESC, id DESC`
	query += w.page(limit, offset)

	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list mediations: %w", err)
	}
	defer rows.Close()
	var out []*mediation.Mediation
	for rows.Next() {
		m, err := scanMediation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MediationRepository) AppendHistory(ctx context.Context, entries []mediation.HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO mediation_history (mediation_id, from_status, to_status, action, actor_id, reason, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, e.MediationID, e.FromStatus, e.ToStatus, e.Action, e.ActorID, e.Reason, e.CreatedAt)
	}
	results := r.db.SendBatch(ctx, batch)
	for range entries {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert history: %w", err)
		}
	}
	return results.Close()
}

func (r *MediationRepository) ListHistory(ctx context.Context, mediationID uuid.UUID) ([]mediation.HistoryEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, mediation_id, from_status, to_status, action, actor_id, reason, created_at
		FROM mediation_history WHERE mediation_id=$1 ORDER BY id ASC
	`, mediationID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []mediation.HistoryEntry
	for rows.Next() {
		var e mediation.HistoryEntry
		if err := rows.Scan(&e.ID, &e.MediationID, &e.FromStatus, &e.ToStatus, &e.Action, &e.ActorID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func overseersOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

func scanMediation(row pgx.Row) (*mediation.Mediation, error) {
	var m mediation.Mediation
	err := row.Scan(&m.ID, &m.MediationID, &m.ProductTitle, &m.SellerID, &m.BuyerID, &m.MediatorID, &m.Overseers,
		&m.BidAmount, &m.BidCurrency, &m.EscrowedAmount, &m.EscrowedCurrency, &m.EscrowHeld, &m.MediatorFee, &m.FeeCurrency,
		&m.Status, &m.SellerConfirmedStart, &m.BuyerConfirmedStart,
		&m.DisputeOpenedBy, &m.DisputeOpenedAt, &m.DisputeReason, &m.ResolutionNotes, &m.WinnerID, &m.LoserID, &m.CancellationReason,
		&m.Version, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan mediation: %w", err)
	}
	return &m, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
)

// LedgerRepository implements ledger.Repository.
type LedgerRepository struct {
	db DBTX
}

func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) GetForUpdate(ctx context.Context, userID uuid.UUID, currency string) (*ledger.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, currency, balance, pending_balance, escrow_balance, updated_at
		FROM ledger_accounts WHERE user_id=$1 AND currency=$2 FOR UPDATE
	`, userID, currency)
	return scanAccount(row)
}

// Save inserts a new account or overwrites a locked one. A concurrent insert
// of the same account surfaces as a conflict.
func (r *LedgerRepository) Save(ctx context.Context, a *ledger.Account) error {
	if a.ID == 0 {
		row := r.db.QueryRow(ctx, `
			INSERT INTO ledger_accounts (user_id, currency, balance, pending_balance, escrow_balance, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (user_id, currency) DO NOTHING
			RETURNING id
		`, a.UserID, a.Currency, a.Balance, a.PendingBalance, a.EscrowBalance, a.UpdatedAt)
		if err := row.Scan(&a.ID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperr.Conflict("ledger.concurrent_update", "the account was created concurrently, retry")
			}
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE ledger_accounts SET balance=$1, pending_balance=$2, escrow_balance=$3, updated_at=$4
		WHERE id=$5
	`, a.Balance, a.PendingBalance, a.EscrowBalance, a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return nil
}

func (r *LedgerRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*ledger.Account, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, currency, balance, pending_balance, escrow_balance, updated_at
		FROM ledger_accounts WHERE user_id=$1 ORDER BY currency
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	var out []*ledger.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *LedgerRepository) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	row := r.db.QueryRow(ctx, `
		INSERT INTO ledger_entries (entry_id, user_id, currency, kind, amount, mediation_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, e.EntryID, e.UserID, e.Currency, e.Kind, e.Amount, e.MediationID, e.CreatedAt)
	if err := row.Scan(&e.ID); err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *LedgerRepository) ListEntries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	var w where
	w.add("user_id=?", userID)
	query := `SELECT id, entry_id, user_id, currency, kind, amount, mediation_id, created_at FROM ledger_entries` +
		w.String() + ` ORDER BY id DESC` + w.page(limit, offset)
	rows, err := r.db.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	var out []*ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.EntryID, &e.UserID, &e.Currency, &e.Kind, &e.Amount, &e.MediationID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.Currency, &a.Balance, &a.PendingBalance, &a.EscrowBalance, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediation-hub/mediation-hub/internal/application/txn"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/chat"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
	"github.com/mediation-hub/mediation-hub/internal/domain/mediation"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// NewPool creates a pgx connection pool and verifies it can reach the server.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// TxRunner implements txn.Runner on a pgx pool. Rows that a transaction
// mutates are locked with SELECT ... FOR UPDATE by the repositories.
type TxRunner struct {
	pool *pgxpool.Pool
}

func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

func (r *TxRunner) WithTx(ctx context.Context, fn func(txn.Stores) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(stores{db: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

type stores struct {
	db DBTX
}

func (s stores) Mediations() mediation.Repository       { return NewMediationRepository(s.db) }
func (s stores) Ledger() ledger.Repository               { return NewLedgerRepository(s.db) }
func (s stores) Chats() chat.Repository                  { return NewChatRepository(s.db) }
func (s stores) Notifications() notification.Repository { return NewNotificationRepository(s.db) }
func (s stores) Users() user.Repository                  { return NewUserRepository(s.db) }

// classify turns lock and constraint failures raised by concurrent writers
// into conflicts. Other errors pass through.
func classify(err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected:
		return apperr.Wrap(apperr.KindConflict, "concurrent_update", "the record was changed concurrently, retry", err)
	case codeCheckViolation:
		return apperr.Wrap(apperr.KindConflict, "constraint_violation", "the change violates a stored invariant", err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// where accumulates positional filter clauses.
type where struct {
	clauses []string
	args    []interface{}
}

// add appends cond. Each ? takes the next arg; with a single arg every ?
// refers to it.
func (w *where) add(cond string, args ...interface{}) {
	var b strings.Builder
	next := 0
	shared := ""
	for _, r := range cond {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		if len(args) == 1 {
			if shared == "" {
				w.args = append(w.args, args[0])
				shared = "$" + itoa(len(w.args))
			}
			b.WriteString(shared)
			continue
		}
		w.args = append(w.args, args[next])
		next++
		b.WriteString("$" + itoa(len(w.args)))
	}
	w.clauses = append(w.clauses, b.String())
}

func (w *where) addRaw(cond string) {
	w.clauses = append(w.clauses, cond)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// page appends LIMIT/OFFSET. A non-positive limit means no limit.
func (w *where) page(limit, offset int) string {
	out := ""
	if limit > 0 {
		w.args = append(w.args, limit)
		out += " LIMIT $" + itoa(len(w.args))
	}
	if offset > 0 {
		w.args = append(w.args, offset)
		out += " OFFSET $" + itoa(len(w.args))
	}
	return out
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	appAudit "github.com/mediation-hub/mediation-hub/internal/application/audit"
	appNotification "github.com/mediation-hub/mediation-hub/internal/application/notification"
	"github.com/mediation-hub/mediation-hub/internal/application/txn"
	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
	"github.com/mediation-hub/mediation-hub/internal/domain/audit"
	"github.com/mediation-hub/mediation-hub/internal/domain/ledger"
	"github.com/mediation-hub/mediation-hub/internal/domain/notification"
	"github.com/mediation-hub/mediation-hub/internal/domain/realtime"
	"github.com/mediation-hub/mediation-hub/internal/domain/user"
)

// Service exposes balances and the admin deposit operation.
type Service struct {
	tx         txn.Runner
	dispatcher realtime.Dispatcher
	auditSvc   *appAudit.Service
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(tx txn.Runner, dispatcher realtime.Dispatcher, auditSvc *appAudit.Service, logger zerolog.Logger) *Service {
	return &Service{
		tx:         tx,
		dispatcher: dispatcher,
		auditSvc:   auditSvc,
		logger:     logger.With().Str("service", "ledger").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// DepositInput credits a user's spendable balance.
type DepositInput struct {
	UserID   uuid.UUID
	Currency string
	Amount   decimal.Decimal
	Note     string
}

// Deposit credits the spendable balance of a user. It never touches escrow
// or pending funds.
func (s *Service) Deposit(ctx context.Context, actor user.Actor, input DepositInput) (*ledger.Account, error) {
	if !actor.IsAdmin() {
		return nil, apperr.Forbidden("ledger.admin_only", "admin role required")
	}
	currency := ledger.NormalizeCurrency(input.Currency)
	if err := ledger.ValidateCurrency(currency); err != nil {
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, apperr.Validation("ledger.non_positive_amount", "amount must be positive").WithParam("amount", input.Amount.String())
	}
	amount := input.Amount.Round(2)

	var (
		account *ledger.Account
		commit  realtime.Commit
	)
	now := s.now()
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		target, err := st.Users().GetByID(ctx, input.UserID)
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if target == nil {
			return apperr.NotFound("user.not_found", "user not found").WithParam("userId", input.UserID.String())
		}
		accounts, err := Post(ctx, st.Ledger(), nil, []ledger.Posting{
			{UserID: target.UserID, Currency: currency, Kind: ledger.EntryDeposit, Amount: amount},
		}, now)
		if err != nil {
			return err
		}
		notifications, err := appNotification.Fanout(ctx, st.Notifications(), []uuid.UUID{target.UserID}, uuid.Nil, notification.TypeBalanceDeposit, map[string]string{
			"currency": currency,
			"amount":   amount.String(),
		})
		if err != nil {
			return err
		}
		account = accounts[0]
		commit = realtime.Commit{Accounts: accounts, Notifications: notifications}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(ctx, commit)
	s.auditSvc.Log(ctx, &audit.AuditEntry{
		EntityType: audit.EntityLedger,
		EntityID:   input.UserID.String() + ":" + currency,
		Action:     audit.ActionDeposit,
		Actor:      actor.ActorString(),
		ActorID:    &actor.UserID,
		NewValues:  map[string]string{"amount": amount.String(), "currency": currency},
		Reason:     input.Note,
	})
	s.logger.Info().
		Str("userId", input.UserID.String()).
		Str("currency", currency).
		Str("amount", amount.String()).
		Msg("deposit posted")
	return account, nil
}

// Balances returns the caller's accounts.
func (s *Service) Balances(ctx context.Context, userID uuid.UUID) ([]*ledger.Account, error) {
	var out []*ledger.Account
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		var err error
		out, err = st.Ledger().ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if out == nil {
		out = []*ledger.Account{}
	}
	return out, nil
}

// Entries returns the caller's journal, newest first.
func (s *Service) Entries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	err := s.tx.WithTx(ctx, func(st txn.Stores) error {
		var err error
		out, err = st.Ledger().ListEntries(ctx, userID, limit, offset)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	if out == nil {
		out = []*ledger.Entry{}
	}
	return out, nil
}

package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
)

// Account holds one user's funds in one currency.
//
// Balance is spendable. EscrowBalance is the buyer-side reservation against
// open mediations and is never spendable. PendingBalance is the seller-side
// amount expected once an escrow settles in their favour.
type Account struct {
	ID             int64           `json:"-"`
	UserID         uuid.UUID       `json:"userId"`
	Currency       string          `json:"currency"`
	Balance        decimal.Decimal `json:"balance"`
	PendingBalance decimal.Decimal `json:"pendingBalance"`
	EscrowBalance  decimal.Decimal `json:"escrowBalance"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewAccount returns an empty account.
func NewAccount(userID uuid.UUID, currency string) *Account {
	return &Account{
		UserID:    userID,
		Currency:  NormalizeCurrency(currency),
		UpdatedAt: time.Now().UTC(),
	}
}

func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// ValidateCurrency accepts three-letter ISO style codes.
func ValidateCurrency(c string) error {
	if len(c) != 3 {
		return apperr.Validation("ledger.invalid_currency", "currency must be a three letter code").WithParam("currency", c)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return apperr.Validation("ledger.invalid_currency", "currency must be a three letter code").WithParam("currency", c)
		}
	}
	return nil
}

func requirePositive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("ledger.non_positive_amount", "amount must be positive").WithParam("amount", amount.String())
	}
	return nil
}

// Hold moves amount from the spendable balance into escrow.
func (a *Account) Hold(amount decimal.Decimal) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if a.Balance.LessThan(amount) {
		return apperr.InsufficientFunds("ledger.insufficient_funds", "balance does not cover the escrow amount").
			WithParam("required", amount.String()).
			WithParam("available", a.Balance.String()).
			WithParam("currency", a.Currency)
	}
	a.Balance = a.Balance.Sub(amount)
	a.EscrowBalance = a.EscrowBalance.Add(amount)
	return nil
}

// ReleaseHold removes amount from escrow. It refuses to go negative, which is
// what makes a second release of the same escrow fail.
func (a *Account) ReleaseHold(amount decimal.Decimal) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	if a.EscrowBalance.LessThan(amount) {
		return apperr.Conflict("ledger.escrow_already_released", "escrow balance does not cover the release").
			WithParam("amount", amount.String())
	}
	a.EscrowBalance = a.EscrowBalance.Sub(amount)
	return nil
}

// Credit adds amount to the spendable balance.
func (a *Account) Credit(amount decimal.Decimal) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	return nil
}

func (a *Account) AddPending(amount decimal.Decimal) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	a.PendingBalance = a.PendingBalance.Add(amount)
	return nil
}

// ClearPending removes amount from the pending balance, clamping at zero.
func (a *Account) ClearPending(amount decimal.Decimal) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	a.PendingBalance = a.PendingBalance.Sub(amount)
	if a.PendingBalance.IsNegative() {
		a.PendingBalance = decimal.Zero
	}
	return nil
}

// Clone returns an independent copy.
func (a *Account) Clone() *Account {
	cp := *a
	return &cp
}

// EntryKind classifies a journal entry.
type EntryKind string

const (
	EntryEscrowHold    EntryKind = "ESCROW_HOLD"
	EntryEscrowRelease EntryKind = "ESCROW_RELEASE"
	EntryPendingAdd    EntryKind = "PENDING_ADD"
	EntryPendingClear  EntryKind = "PENDING_CLEAR"
	EntryPayout        EntryKind = "PAYOUT"
	EntryFee           EntryKind = "FEE"
	EntryRefund        EntryKind = "REFUND"
	EntryDeposit       EntryKind = "DEPOSIT"
)

// Posting is one movement against one account.
type Posting struct {
	UserID   uuid.UUID
	Currency string
	Kind     EntryKind
	Amount   decimal.Decimal
}

// ApplyTo performs the posting on the account.
func (p Posting) ApplyTo(a *Account) error {
	switch p.Kind {
	case EntryEscrowHold:
		return a.Hold(p.Amount)
	case EntryEscrowRelease:
		return a.ReleaseHold(p.Amount)
	case EntryPendingAdd:
		return a.AddPending(p.Amount)
	case EntryPendingClear:
		return a.ClearPending(p.Amount)
	case EntryPayout, EntryFee, EntryRefund, EntryDeposit:
		return a.Credit(p.Amount)
	default:
		return apperr.Validation("ledger.unknown_posting", "unknown posting kind").WithParam("kind", string(p.Kind))
	}
}

// Entry is an immutable journal line written with every account movement.
type Entry struct {
	ID          int64           `json:"id"`
	EntryID     uuid.UUID       `json:"entryId"`
	UserID      uuid.UUID       `json:"userId"`
	Currency    string          `json:"currency"`
	Kind        EntryKind       `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	MediationID *uuid.UUID      `json:"mediationId,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// NewEntry records a posting.
func NewEntry(p Posting, mediationID *uuid.UUID, at time.Time) *Entry {
	return &Entry{
		EntryID:     uuid.New(),
		UserID:      p.UserID,
		Currency:    p.Currency,
		Kind:        p.Kind,
		Amount:      p.Amount,
		MediationID: mediationID,
		CreatedAt:   at,
	}
}

// AccountKey identifies an account.
type AccountKey struct {
	UserID   uuid.UUID
	Currency string
}

// Less orders keys for lock acquisition.
func (k AccountKey) Less(o AccountKey) bool {
	if c := strings.Compare(k.UserID.String(), o.UserID.String()); c != 0 {
		return c < 0
	}
	return k.Currency < o.Currency
}

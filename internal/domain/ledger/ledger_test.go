package ledger

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediation-hub/mediation-hub/internal/domain/apperr"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHoldMovesFundsIntoEscrow(t *testing.T) {
	a := NewAccount(uuid.New(), "tnd")
	require.Equal(t, "TND", a.Currency)
	require.NoError(t, a.Credit(d("150")))

	require.NoError(t, a.Hold(d("100")))
	assert.True(t, a.Balance.Equal(d("50")))
	assert.True(t, a.EscrowBalance.Equal(d("100")))
}

func TestHoldInsufficientFundsLeavesAccountUntouched(t *testing.T) {
	a := NewAccount(uuid.New(), "TND")
	require.NoError(t, a.Credit(d("99.99")))

	err := a.Hold(d("100"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInsufficientFunds, apperr.KindOf(err))
	assert.True(t, a.Balance.Equal(d("99.99")))
	assert.True(t, a.EscrowBalance.IsZero())
}

func TestReleaseHoldOnlyOnce(t *testing.T) {
	a := NewAccount(uuid.New(), "TND")
	require.NoError(t, a.Credit(d("100")))
	require.NoError(t, a.Hold(d("100")))

	require.NoError(t, a.ReleaseHold(d("100")))
	err := a.ReleaseHold(d("100"))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.True(t, a.EscrowBalance.IsZero())
}

func TestClearPendingClampsAtZero(t *testing.T) {
	a := NewAccount(uuid.New(), "TND")
	require.NoError(t, a.AddPending(d("95")))
	require.NoError(t, a.ClearPending(d("100")))
	assert.True(t, a.PendingBalance.IsZero())
}

func TestNonPositiveAmountsRejected(t *testing.T) {
	a := NewAccount(uuid.New(), "TND")
	for _, amt := range []string{"0", "-1"} {
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(a.Credit(d(amt))))
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(a.Hold(d(amt))))
	}
}

func TestPostingApplyTo(t *testing.T) {
	uid := uuid.New()
	a := NewAccount(uid, "TND")
	steps := []Posting{
		{UserID: uid, Currency: "TND", Kind: EntryDeposit, Amount: d("200")},
		{UserID: uid, Currency: "TND", Kind: EntryEscrowHold, Amount: d("100")},
		{UserID: uid, Currency: "TND", Kind: EntryEscrowRelease, Amount: d("100")},
		{UserID: uid, Currency: "TND", Kind: EntryRefund, Amount: d("100")},
	}
	for _, p := range steps {
		require.NoError(t, p.ApplyTo(a))
	}
	assert.True(t, a.Balance.Equal(d("200")))
	assert.True(t, a.EscrowBalance.IsZero())
}

func TestValidateCurrency(t *testing.T) {
	assert.NoError(t, ValidateCurrency("TND"))
	assert.Error(t, ValidateCurrency("TN"))
	assert.Error(t, ValidateCurrency("tnd"))
}

func TestAccountKeyLess(t *testing.T) {
	a := AccountKey{UserID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), Currency: "TND"}
	b := AccountKey{UserID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), Currency: "EUR"}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, AccountKey{UserID: a.UserID, Currency: "EUR"}.Less(a))
}

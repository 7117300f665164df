package mediation

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeePolicy(t *testing.T) {
	cases := []struct {
		name string
		expr string
		bid  string
		want string
	}{
		{"default five percent", "", "100", "5"},
		{"rounded to cents", "", "123.45", "6.17"},
		{"flat with cap", "min(bidAmount * 0.1, 20)", "500", "20"},
		{"floor", "max(bidAmount * 0.01, 2)", "50", "2"},
		{"clamped to bid", "bidAmount * 2", "10", "10"},
		{"never negative", "bidAmount - 1000", "10", "0"},
		{"currency aware", "(currency == 'TND') ? (bidAmount * 0.05) : (bidAmount * 0.1)", "100", "5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewFeePolicy(tc.expr)
			require.NoError(t, err)
			fee, err := p.Fee(decimal.RequireFromString(tc.bid), "TND")
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tc.want).Equal(fee), "got %s", fee)
		})
	}
}

func TestFeePolicyRejectsBadExpressions(t *testing.T) {
	_, err := NewFeePolicy("bidAmount *")
	assert.Error(t, err)

	p, err := NewFeePolicy("bidAmount > 10")
	require.NoError(t, err)
	_, err = p.Fee(decimal.NewFromInt(100), "TND")
	assert.Error(t, err)
}

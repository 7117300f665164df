package mediation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"
)

// DefaultFeeExpression charges five percent of the bid.
const DefaultFeeExpression = "bidAmount * 0.05"

// FeePolicy computes the mediator fee from an arithmetic expression over
// bidAmount and currency. Helpers min(a, b) and max(a, b) are available.
type FeePolicy struct {
	source string
	expr   *govaluate.EvaluableExpression
}

var feeFunctions = map[string]govaluate.ExpressionFunction{
	"min": func(args ...interface{}) (interface{}, error) {
		a, b, err := twoNumbers(args)
		if err != nil {
			return nil, err
		}
		if a < b {
			return a, nil
		}
		return b, nil
	},
	"max": func(args ...interface{}) (interface{}, error) {
		a, b, err := twoNumbers(args)
		if err != nil {
			return nil, err
		}
		if a > b {
			return a, nil
		}
		return b, nil
	},
}

func twoNumbers(args []interface{}) (float64, float64, error) {
	if len(args) != 2 {
		return 0, 0, errors.New("expected two arguments")
	}
	a, ok := args[0].(float64)
	if !ok {
		return 0, 0, errors.New("first argument is not a number")
	}
	b, ok := args[1].(float64)
	if !ok {
		return 0, 0, errors.New("second argument is not a number")
	}
	return a, b, nil
}

// NewFeePolicy parses expression. An empty expression selects the default.
func NewFeePolicy(expression string) (*FeePolicy, error) {
	src := strings.TrimSpace(expression)
	if src == "" {
		src = DefaultFeeExpression
	}
	expr, err := govaluate.NewEvaluableExpressionWithFunctions(src, feeFunctions)
	if err != nil {
		return nil, fmt.Errorf("parse fee expression %q: %w", src, err)
	}
	return &FeePolicy{source: src, expr: expr}, nil
}

func (p *FeePolicy) String() string {
	return p.source
}

// Fee evaluates the policy for a bid. The result is rounded to cents and
// clamped to [0, bid].
func (p *FeePolicy) Fee(bid decimal.Decimal, currency string) (decimal.Decimal, error) {
	result, err := p.expr.Evaluate(map[string]interface{}{
		"bidAmount": bid.InexactFloat64(),
		"currency":  currency,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("evaluate fee expression: %w", err)
	}
	v, ok := result.(float64)
	if !ok {
		return decimal.Zero, errors.New("fee expression did not evaluate to a number")
	}
	fee := decimal.NewFromFloat(v).Round(2)
	if fee.IsNegative() {
		return decimal.Zero, nil
	}
	if fee.GreaterThan(bid) {
		return bid, nil
	}
	return fee, nil
}

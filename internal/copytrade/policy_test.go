package copytrade

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/kelvinogodo/atlamarkets/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestReferenceCapitalPolicy(t *testing.T) {
	t.Parallel()
	policy := ReferenceCapitalPolicy(decimal.NewFromInt(5000))

	pct := dec("12.5")
	amt := dec("250")

	// Explicit percent wins, even when an amount is also present.
	got := policy(model.TradeEvent{Percent: &pct, Amount: &amt})
	assert.True(t, got.Equal(dec("12.5")))

	// Amount only: normalized against the reference capital.
	got = policy(model.TradeEvent{Amount: &amt})
	assert.True(t, got.Equal(dec("5")), "got %s", got)

	// Neither figure resolves to zero, not an error.
	got = policy(model.TradeEvent{})
	assert.True(t, got.IsZero())
}

func TestReferenceCapitalPolicyZeroReference(t *testing.T) {
	t.Parallel()
	policy := ReferenceCapitalPolicy(decimal.Zero)

	amt := dec("250")
	got := policy(model.TradeEvent{Amount: &amt})
	assert.True(t, got.IsZero())
}

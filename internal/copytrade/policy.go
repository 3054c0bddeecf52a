package copytrade

import (
	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/model"
)

// PercentagePolicy resolves a trade event to the effective percentage applied
// to each subscriber's allocation. A zero result means the event carries no
// usable figure and moves no money.
type PercentagePolicy func(ev model.TradeEvent) decimal.Decimal

// ReferenceCapitalPolicy prefers the event's explicit percentage. When only a
// raw amount is present, it is normalized against the reference capital the
// trader's published figures assume. Events with neither resolve to zero.
func ReferenceCapitalPolicy(reference decimal.Decimal) PercentagePolicy {
	return func(ev model.TradeEvent) decimal.Decimal {
		if ev.Percent != nil {
			return *ev.Percent
		}
		if ev.Amount != nil && reference.IsPositive() {
			return ev.Amount.Div(reference).Mul(decimal.NewFromInt(100))
		}
		return decimal.Zero
	}
}

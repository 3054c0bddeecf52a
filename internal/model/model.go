package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/types"
)

// Account is the per-user balance record. Available and Capital are cached
// views maintained exclusively by the ledger engine; the ledger entry log is
// the source of truth for reconciliation.
type Account struct {
	ID           string          `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	PasswordHash string          `json:"-"`
	Available    decimal.Decimal `json:"available_balance"`
	Capital      decimal.Decimal `json:"capital"`

	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	TotalProfit    decimal.Decimal `json:"total_profit"`
	PeriodicProfit decimal.Decimal `json:"periodic_profit"`

	ReferralCode string         `json:"referral_code"`
	Upline       string         `json:"upline,omitempty"` // username of the referring account
	LegacyTrader string         `json:"-"`                // deprecated direct trader link
	Rank         types.RankTier `json:"rank"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is the immutable audit record of one balance-affecting event.
// Amount is the signed delta applied to the available balance; Balance is the
// resulting available balance at commit time. Ref, when set, is an
// idempotency key unique per kind.
type LedgerEntry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Kind      types.EntryKind `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Balance   decimal.Decimal `json:"balance"`
	Ref       string          `json:"ref,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// InvestmentPosition holds principal locked into a plan. Profit is computed
// once at creation and never recomputed; Credited flips exactly once when the
// accrual pass matures the position.
type InvestmentPosition struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	Principal   decimal.Decimal `json:"principal"`
	PlanPercent int64           `json:"plan_percent"`
	Profit      decimal.Decimal `json:"profit"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Credited    bool            `json:"credited"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MaturesAt is when the position becomes due for crediting.
func (p InvestmentPosition) MaturesAt() time.Time {
	return p.StartedAt.Add(p.Duration)
}

type Trader struct {
	ID             string          `json:"id"`
	FirstName      string          `json:"firstname"`
	LastName       string          `json:"lastname"`
	Nationality    string          `json:"nationality"`
	ProfitRate     string          `json:"profitrate"`
	AverageReturn  string          `json:"averagereturn"`
	Followers      string          `json:"followers"`
	RRRatio        string          `json:"rr_ratio"`
	MinimumCapital decimal.Decimal `json:"minimumcapital"`
	Image          string          `json:"trader_image,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TradeEvent is an admin- or feed-supplied profit/loss event for a trader.
// Exactly one of Percent or Amount is usually set; Percent wins when both are.
// ID doubles as the idempotency key for distribution retries.
type TradeEvent struct {
	ID        string           `json:"id"`
	TraderID  string           `json:"trader_id"`
	Pair      string           `json:"pair"`
	Kind      types.TradeKind  `json:"kind"`
	Percent   *decimal.Decimal `json:"percent,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// CopySubscription links an account to a trader. Allocated is locked at
// subscription time; Equity tracks it through every subsequent trade event.
type CopySubscription struct {
	ID        string                   `json:"id"`
	AccountID string                   `json:"account_id"`
	TraderID  string                   `json:"trader_id"`
	Allocated decimal.Decimal          `json:"allocated_amount"`
	Equity    decimal.Decimal          `json:"current_equity"`
	Status    types.SubscriptionStatus `json:"status"`
	StartedAt time.Time                `json:"started_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// TradeLog is the per-user attribution of a distributed trade event.
type TradeLog struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	EventID   string          `json:"event_id"`
	Pair      string          `json:"pair"`
	Kind      types.TradeKind `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

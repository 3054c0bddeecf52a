package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

var ErrNotFound = errors.New("not found")

// Store is the durable state behind the ledger core. The ledger engine is the
// only writer of account balances; other components go through it.
//
// Atomic runs fn against a view of the store whose writes commit together or
// not at all. fn must not retain the view past its return.
type Store interface {
	Atomic(ctx context.Context, fn func(Store) error) error

	CreateAccount(ctx context.Context, acc model.Account) error
	Account(ctx context.Context, id string) (model.Account, error)
	AccountByEmail(ctx context.Context, email string) (model.Account, error)
	AccountByUsername(ctx context.Context, username string) (model.Account, error)
	Accounts(ctx context.Context) ([]model.Account, error)
	// UpdateBalances writes back the cached balance fields, counters and rank.
	// Only the ledger engine calls it.
	UpdateBalances(ctx context.Context, acc model.Account) error

	AppendEntry(ctx context.Context, entry model.LedgerEntry) error
	// RefApplied reports whether an entry with this kind and idempotency ref
	// has already been committed.
	RefApplied(ctx context.Context, kind types.EntryKind, ref string) (bool, error)
	Entries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error)
	SumEntryAmounts(ctx context.Context, accountID string) (decimal.Decimal, error)

	CreatePosition(ctx context.Context, pos model.InvestmentPosition) error
	// DuePositions returns not-yet-credited positions whose maturity is at or
	// before now.
	DuePositions(ctx context.Context, now time.Time) ([]model.InvestmentPosition, error)
	MarkPositionCredited(ctx context.Context, id string) error
	PositionsByAccount(ctx context.Context, accountID string) ([]model.InvestmentPosition, error)

	CreateTrader(ctx context.Context, t model.Trader) error
	Trader(ctx context.Context, id string) (model.Trader, error)
	Traders(ctx context.Context) ([]model.Trader, error)
	DeleteTrader(ctx context.Context, id string) error
	AppendTradeHistory(ctx context.Context, ev model.TradeEvent) error
	TradeHistory(ctx context.Context, traderID string) ([]model.TradeEvent, error)

	CreateSubscription(ctx context.Context, sub model.CopySubscription) error
	ActiveSubscription(ctx context.Context, accountID, traderID string) (model.CopySubscription, error)
	ActiveSubscriptionsByTrader(ctx context.Context, traderID string) ([]model.CopySubscription, error)
	SubscriptionsByAccount(ctx context.Context, accountID string) ([]model.CopySubscription, error)
	UpdateSubscription(ctx context.Context, sub model.CopySubscription) error

	// LegacyFollowers returns accounts still linked to the trader through the
	// deprecated direct field.
	LegacyFollowers(ctx context.Context, traderID string) ([]model.Account, error)

	AppendTradeLog(ctx context.Context, tl model.TradeLog) error
	TradeLogs(ctx context.Context, accountID string, limit int) ([]model.TradeLog, error)
}

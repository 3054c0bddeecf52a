package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

// Delta names the balance fields one ledger entry moves. Zero fields are left
// untouched. Available doubles as the entry's signed amount, so replaying the
// entry log reproduces the cached available balance exactly.
type Delta struct {
	Available      decimal.Decimal
	Capital        decimal.Decimal
	TotalProfit    decimal.Decimal
	PeriodicProfit decimal.Decimal
	TotalDeposited decimal.Decimal
	TotalWithdrawn decimal.Decimal
}

// Mutation is one balance-affecting operation. Ref, when set, is an
// idempotency key: a second mutation with the same kind and ref fails with
// ErrDuplicateEntry instead of applying twice.
type Mutation struct {
	AccountID string
	Delta     Delta
	Kind      types.EntryKind
	Ref       string
}

// Engine is the single point of balance mutation. Every write acquires the
// account's mutex and then runs inside one store.Atomic boundary: read the
// current balances, validate the non-negative invariant, write balances and
// append the entry together.
type Engine struct {
	store store.Store
	locks lockArena
	log   zerolog.Logger
}

func NewEngine(st store.Store, log zerolog.Logger) *Engine {
	return &Engine{store: st, log: log.With().Str("component", "ledger").Logger()}
}

// Apply commits one mutation and returns its ledger entry.
func (e *Engine) Apply(ctx context.Context, m Mutation) (model.LedgerEntry, error) {
	return e.ApplyWithin(ctx, m, nil)
}

// ApplyWithin commits one mutation plus a caller-supplied write in the same
// atomic unit. The accrual engine marks positions credited this way; the
// distribution engine updates subscription equity. within must not call
// back into the engine.
func (e *Engine) ApplyWithin(ctx context.Context, m Mutation, within func(store.Store) error) (model.LedgerEntry, error) {
	if !m.Kind.Valid() {
		return model.LedgerEntry{}, fmt.Errorf("%w: %q", ErrInvalidKind, m.Kind)
	}
	if m.AccountID == "" {
		return model.LedgerEntry{}, store.ErrNotFound
	}

	mu := e.locks.get(m.AccountID)
	mu.Lock()
	defer mu.Unlock()

	var entry model.LedgerEntry
	err := e.store.Atomic(ctx, func(s store.Store) error {
		if m.Ref != "" {
			applied, err := s.RefApplied(ctx, m.Kind, m.Ref)
			if err != nil {
				return err
			}
			if applied {
				return ErrDuplicateEntry
			}
		}

		acc, err := s.Account(ctx, m.AccountID)
		if err != nil {
			return err
		}

		acc.Available = acc.Available.Add(m.Delta.Available)
		acc.Capital = acc.Capital.Add(m.Delta.Capital)
		if acc.Available.IsNegative() || acc.Capital.IsNegative() {
			return ErrInsufficientFunds
		}
		acc.TotalProfit = acc.TotalProfit.Add(m.Delta.TotalProfit)
		acc.PeriodicProfit = acc.PeriodicProfit.Add(m.Delta.PeriodicProfit)
		acc.TotalDeposited = acc.TotalDeposited.Add(m.Delta.TotalDeposited)
		acc.TotalWithdrawn = acc.TotalWithdrawn.Add(m.Delta.TotalWithdrawn)
		acc.Rank = rankFor(acc.TotalDeposited)
		acc.UpdatedAt = time.Now().UTC()

		if err := s.UpdateBalances(ctx, acc); err != nil {
			return err
		}

		entry = model.LedgerEntry{
			ID:        ulid.Make().String(),
			AccountID: acc.ID,
			Kind:      m.Kind,
			Amount:    m.Delta.Available,
			Balance:   acc.Available,
			Ref:       m.Ref,
			CreatedAt: acc.UpdatedAt,
		}
		if err := s.AppendEntry(ctx, entry); err != nil {
			return err
		}

		if within != nil {
			return within(s)
		}
		return nil
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}

	e.log.Debug().
		Str("account_id", m.AccountID).
		Str("kind", string(m.Kind)).
		Str("amount", entry.Amount.String()).
		Str("entry_id", entry.ID).
		Msg("ledger entry committed")
	return entry, nil
}

var rankThresholds = []struct {
	tier types.RankTier
	min  decimal.Decimal
}{
	{types.RankDiamond, decimal.NewFromInt(100000)},
	{types.RankPlatinum, decimal.NewFromInt(25000)},
	{types.RankGold, decimal.NewFromInt(5000)},
}

func rankFor(totalDeposited decimal.Decimal) types.RankTier {
	for _, r := range rankThresholds {
		if totalDeposited.GreaterThanOrEqual(r.min) {
			return r.tier
		}
	}
	return types.RankSilver
}

// lockArena hands out one mutex per account id, created on first use.
type lockArena struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (a *lockArena) get(id string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	return l
}

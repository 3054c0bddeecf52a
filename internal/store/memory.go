package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

// Memory is an in-process Store. It backs the test suite and demo deployments
// that run without Postgres. Atomic snapshots the whole state and restores it
// when fn fails, so partial writes never survive.
type Memory struct {
	mu sync.Mutex
	st *memState
}

type memState struct {
	accounts      map[string]model.Account
	byEmail       map[string]string
	byUsername    map[string]string
	entries       map[string][]model.LedgerEntry // account id -> ordered entries
	refs          map[string]struct{}            // kind|ref
	positions     map[string]model.InvestmentPosition
	traders       map[string]model.Trader
	history       map[string][]model.TradeEvent // trader id -> events
	subscriptions map[string]model.CopySubscription
	tradeLogs     map[string][]model.TradeLog // account id -> logs
}

func NewMemory() *Memory {
	return &Memory{st: newMemState()}
}

func newMemState() *memState {
	return &memState{
		accounts:      make(map[string]model.Account),
		byEmail:       make(map[string]string),
		byUsername:    make(map[string]string),
		entries:       make(map[string][]model.LedgerEntry),
		refs:          make(map[string]struct{}),
		positions:     make(map[string]model.InvestmentPosition),
		traders:       make(map[string]model.Trader),
		history:       make(map[string][]model.TradeEvent),
		subscriptions: make(map[string]model.CopySubscription),
		tradeLogs:     make(map[string][]model.TradeLog),
	}
}

func (s *memState) clone() *memState {
	out := newMemState()
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.byEmail {
		out.byEmail[k] = v
	}
	for k, v := range s.byUsername {
		out.byUsername[k] = v
	}
	for k, v := range s.entries {
		out.entries[k] = append([]model.LedgerEntry(nil), v...)
	}
	for k := range s.refs {
		out.refs[k] = struct{}{}
	}
	for k, v := range s.positions {
		out.positions[k] = v
	}
	for k, v := range s.traders {
		out.traders[k] = v
	}
	for k, v := range s.history {
		out.history[k] = append([]model.TradeEvent(nil), v...)
	}
	for k, v := range s.subscriptions {
		out.subscriptions[k] = v
	}
	for k, v := range s.tradeLogs {
		out.tradeLogs[k] = append([]model.TradeLog(nil), v...)
	}
	return out
}

func refKey(kind types.EntryKind, ref string) string {
	return string(kind) + "|" + ref
}

func (m *Memory) Atomic(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.st.clone()
	if err := fn(&memTx{st: m.st}); err != nil {
		m.st = snap
		return err
	}
	return nil
}

// Every non-Atomic method locks and delegates to the same unlocked core.

func (m *Memory) tx(fn func(*memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{st: m.st})
}

func (m *Memory) CreateAccount(ctx context.Context, acc model.Account) error {
	return m.tx(func(t *memTx) error { return t.CreateAccount(ctx, acc) })
}

func (m *Memory) Account(ctx context.Context, id string) (acc model.Account, err error) {
	err = m.tx(func(t *memTx) error { acc, err = t.Account(ctx, id); return err })
	return acc, err
}

func (m *Memory) AccountByEmail(ctx context.Context, email string) (acc model.Account, err error) {
	err = m.tx(func(t *memTx) error { acc, err = t.AccountByEmail(ctx, email); return err })
	return acc, err
}

func (m *Memory) AccountByUsername(ctx context.Context, username string) (acc model.Account, err error) {
	err = m.tx(func(t *memTx) error { acc, err = t.AccountByUsername(ctx, username); return err })
	return acc, err
}

func (m *Memory) Accounts(ctx context.Context) (out []model.Account, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.Accounts(ctx); return err })
	return out, err
}

func (m *Memory) UpdateBalances(ctx context.Context, acc model.Account) error {
	return m.tx(func(t *memTx) error { return t.UpdateBalances(ctx, acc) })
}

func (m *Memory) AppendEntry(ctx context.Context, entry model.LedgerEntry) error {
	return m.tx(func(t *memTx) error { return t.AppendEntry(ctx, entry) })
}

func (m *Memory) RefApplied(ctx context.Context, kind types.EntryKind, ref string) (ok bool, err error) {
	err = m.tx(func(t *memTx) error { ok, err = t.RefApplied(ctx, kind, ref); return err })
	return ok, err
}

func (m *Memory) Entries(ctx context.Context, accountID string, limit int) (out []model.LedgerEntry, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.Entries(ctx, accountID, limit); return err })
	return out, err
}

func (m *Memory) SumEntryAmounts(ctx context.Context, accountID string) (sum decimal.Decimal, err error) {
	err = m.tx(func(t *memTx) error { sum, err = t.SumEntryAmounts(ctx, accountID); return err })
	return sum, err
}

func (m *Memory) CreatePosition(ctx context.Context, pos model.InvestmentPosition) error {
	return m.tx(func(t *memTx) error { return t.CreatePosition(ctx, pos) })
}

func (m *Memory) DuePositions(ctx context.Context, now time.Time) (out []model.InvestmentPosition, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.DuePositions(ctx, now); return err })
	return out, err
}

func (m *Memory) MarkPositionCredited(ctx context.Context, id string) error {
	return m.tx(func(t *memTx) error { return t.MarkPositionCredited(ctx, id) })
}

func (m *Memory) PositionsByAccount(ctx context.Context, accountID string) (out []model.InvestmentPosition, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.PositionsByAccount(ctx, accountID); return err })
	return out, err
}

func (m *Memory) CreateTrader(ctx context.Context, tr model.Trader) error {
	return m.tx(func(t *memTx) error { return t.CreateTrader(ctx, tr) })
}

func (m *Memory) Trader(ctx context.Context, id string) (tr model.Trader, err error) {
	err = m.tx(func(t *memTx) error { tr, err = t.Trader(ctx, id); return err })
	return tr, err
}

func (m *Memory) Traders(ctx context.Context) (out []model.Trader, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.Traders(ctx); return err })
	return out, err
}

func (m *Memory) DeleteTrader(ctx context.Context, id string) error {
	return m.tx(func(t *memTx) error { return t.DeleteTrader(ctx, id) })
}

func (m *Memory) AppendTradeHistory(ctx context.Context, ev model.TradeEvent) error {
	return m.tx(func(t *memTx) error { return t.AppendTradeHistory(ctx, ev) })
}

func (m *Memory) TradeHistory(ctx context.Context, traderID string) (out []model.TradeEvent, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.TradeHistory(ctx, traderID); return err })
	return out, err
}

func (m *Memory) CreateSubscription(ctx context.Context, sub model.CopySubscription) error {
	return m.tx(func(t *memTx) error { return t.CreateSubscription(ctx, sub) })
}

func (m *Memory) ActiveSubscription(ctx context.Context, accountID, traderID string) (sub model.CopySubscription, err error) {
	err = m.tx(func(t *memTx) error { sub, err = t.ActiveSubscription(ctx, accountID, traderID); return err })
	return sub, err
}

func (m *Memory) ActiveSubscriptionsByTrader(ctx context.Context, traderID string) (out []model.CopySubscription, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.ActiveSubscriptionsByTrader(ctx, traderID); return err })
	return out, err
}

func (m *Memory) SubscriptionsByAccount(ctx context.Context, accountID string) (out []model.CopySubscription, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.SubscriptionsByAccount(ctx, accountID); return err })
	return out, err
}

func (m *Memory) UpdateSubscription(ctx context.Context, sub model.CopySubscription) error {
	return m.tx(func(t *memTx) error { return t.UpdateSubscription(ctx, sub) })
}

func (m *Memory) LegacyFollowers(ctx context.Context, traderID string) (out []model.Account, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.LegacyFollowers(ctx, traderID); return err })
	return out, err
}

func (m *Memory) AppendTradeLog(ctx context.Context, tl model.TradeLog) error {
	return m.tx(func(t *memTx) error { return t.AppendTradeLog(ctx, tl) })
}

func (m *Memory) TradeLogs(ctx context.Context, accountID string, limit int) (out []model.TradeLog, err error) {
	err = m.tx(func(t *memTx) error { out, err = t.TradeLogs(ctx, accountID, limit); return err })
	return out, err
}

// memTx operates on the state without locking; Memory and Memory.Atomic hold
// the lock for it.
type memTx struct {
	st *memState
}

func (t *memTx) Atomic(ctx context.Context, fn func(Store) error) error {
	return fn(t)
}

func (t *memTx) CreateAccount(ctx context.Context, acc model.Account) error {
	key := strings.ToLower(acc.Email)
	if _, exists := t.st.byEmail[key]; exists {
		return errDuplicate("email", acc.Email)
	}
	uname := strings.ToLower(acc.Username)
	if _, exists := t.st.byUsername[uname]; exists {
		return errDuplicate("username", acc.Username)
	}
	t.st.accounts[acc.ID] = acc
	t.st.byEmail[key] = acc.ID
	t.st.byUsername[uname] = acc.ID
	return nil
}

func (t *memTx) Account(ctx context.Context, id string) (model.Account, error) {
	acc, ok := t.st.accounts[id]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return acc, nil
}

func (t *memTx) AccountByEmail(ctx context.Context, email string) (model.Account, error) {
	id, ok := t.st.byEmail[strings.ToLower(email)]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return t.st.accounts[id], nil
}

func (t *memTx) AccountByUsername(ctx context.Context, username string) (model.Account, error) {
	id, ok := t.st.byUsername[strings.ToLower(username)]
	if !ok {
		return model.Account{}, ErrNotFound
	}
	return t.st.accounts[id], nil
}

func (t *memTx) Accounts(ctx context.Context) ([]model.Account, error) {
	out := make([]model.Account, 0, len(t.st.accounts))
	for _, acc := range t.st.accounts {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) UpdateBalances(ctx context.Context, acc model.Account) error {
	cur, ok := t.st.accounts[acc.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Available = acc.Available
	cur.Capital = acc.Capital
	cur.TotalDeposited = acc.TotalDeposited
	cur.TotalWithdrawn = acc.TotalWithdrawn
	cur.TotalProfit = acc.TotalProfit
	cur.PeriodicProfit = acc.PeriodicProfit
	cur.Rank = acc.Rank
	cur.UpdatedAt = acc.UpdatedAt
	t.st.accounts[acc.ID] = cur
	return nil
}

func (t *memTx) AppendEntry(ctx context.Context, entry model.LedgerEntry) error {
	if entry.Ref != "" {
		t.st.refs[refKey(entry.Kind, entry.Ref)] = struct{}{}
	}
	t.st.entries[entry.AccountID] = append(t.st.entries[entry.AccountID], entry)
	return nil
}

func (t *memTx) RefApplied(ctx context.Context, kind types.EntryKind, ref string) (bool, error) {
	_, ok := t.st.refs[refKey(kind, ref)]
	return ok, nil
}

func (t *memTx) Entries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	all := t.st.entries[accountID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	// newest first
	out := make([]model.LedgerEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (t *memTx) SumEntryAmounts(ctx context.Context, accountID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.st.entries[accountID] {
		sum = sum.Add(e.Amount)
	}
	return sum, nil
}

func (t *memTx) CreatePosition(ctx context.Context, pos model.InvestmentPosition) error {
	t.st.positions[pos.ID] = pos
	return nil
}

func (t *memTx) DuePositions(ctx context.Context, now time.Time) ([]model.InvestmentPosition, error) {
	var out []model.InvestmentPosition
	for _, p := range t.st.positions {
		if !p.Credited && !p.MaturesAt().After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) MarkPositionCredited(ctx context.Context, id string) error {
	p, ok := t.st.positions[id]
	if !ok {
		return ErrNotFound
	}
	p.Credited = true
	t.st.positions[id] = p
	return nil
}

func (t *memTx) PositionsByAccount(ctx context.Context, accountID string) ([]model.InvestmentPosition, error) {
	var out []model.InvestmentPosition
	for _, p := range t.st.positions {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) CreateTrader(ctx context.Context, tr model.Trader) error {
	t.st.traders[tr.ID] = tr
	return nil
}

func (t *memTx) Trader(ctx context.Context, id string) (model.Trader, error) {
	tr, ok := t.st.traders[id]
	if !ok {
		return model.Trader{}, ErrNotFound
	}
	return tr, nil
}

func (t *memTx) Traders(ctx context.Context) ([]model.Trader, error) {
	out := make([]model.Trader, 0, len(t.st.traders))
	for _, tr := range t.st.traders {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) DeleteTrader(ctx context.Context, id string) error {
	if _, ok := t.st.traders[id]; !ok {
		return ErrNotFound
	}
	delete(t.st.traders, id)
	return nil
}

func (t *memTx) AppendTradeHistory(ctx context.Context, ev model.TradeEvent) error {
	if _, ok := t.st.traders[ev.TraderID]; !ok {
		return ErrNotFound
	}
	t.st.history[ev.TraderID] = append(t.st.history[ev.TraderID], ev)
	return nil
}

func (t *memTx) TradeHistory(ctx context.Context, traderID string) ([]model.TradeEvent, error) {
	return append([]model.TradeEvent(nil), t.st.history[traderID]...), nil
}

func (t *memTx) CreateSubscription(ctx context.Context, sub model.CopySubscription) error {
	// Mirrors the copy_subscriptions_active partial unique index.
	if sub.Status == types.SubscriptionActive {
		for _, existing := range t.st.subscriptions {
			if existing.AccountID == sub.AccountID && existing.TraderID == sub.TraderID &&
				existing.Status == types.SubscriptionActive {
				return errDuplicate("active subscription", sub.AccountID+"/"+sub.TraderID)
			}
		}
	}
	t.st.subscriptions[sub.ID] = sub
	return nil
}

func (t *memTx) ActiveSubscription(ctx context.Context, accountID, traderID string) (model.CopySubscription, error) {
	for _, sub := range t.st.subscriptions {
		if sub.AccountID == accountID && sub.TraderID == traderID && sub.Status == types.SubscriptionActive {
			return sub, nil
		}
	}
	return model.CopySubscription{}, ErrNotFound
}

func (t *memTx) ActiveSubscriptionsByTrader(ctx context.Context, traderID string) ([]model.CopySubscription, error) {
	var out []model.CopySubscription
	for _, sub := range t.st.subscriptions {
		if sub.TraderID == traderID && sub.Status == types.SubscriptionActive {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (t *memTx) SubscriptionsByAccount(ctx context.Context, accountID string) ([]model.CopySubscription, error) {
	var out []model.CopySubscription
	for _, sub := range t.st.subscriptions {
		if sub.AccountID == accountID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (t *memTx) UpdateSubscription(ctx context.Context, sub model.CopySubscription) error {
	if _, ok := t.st.subscriptions[sub.ID]; !ok {
		return ErrNotFound
	}
	t.st.subscriptions[sub.ID] = sub
	return nil
}

func (t *memTx) LegacyFollowers(ctx context.Context, traderID string) ([]model.Account, error) {
	var out []model.Account
	for _, acc := range t.st.accounts {
		if acc.LegacyTrader == traderID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) AppendTradeLog(ctx context.Context, tl model.TradeLog) error {
	t.st.tradeLogs[tl.AccountID] = append(t.st.tradeLogs[tl.AccountID], tl)
	return nil
}

func (t *memTx) TradeLogs(ctx context.Context, accountID string, limit int) ([]model.TradeLog, error) {
	all := t.st.tradeLogs[accountID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]model.TradeLog, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

type duplicateError struct {
	field string
	value string
}

func (e duplicateError) Error() string {
	return "duplicate " + e.field + ": " + e.value
}

func errDuplicate(field, value string) error {
	return duplicateError{field: field, value: value}
}

// IsDuplicate reports whether err came from a uniqueness violation on create.
func IsDuplicate(err error) bool {
	var d duplicateError
	return errors.As(err, &d)
}

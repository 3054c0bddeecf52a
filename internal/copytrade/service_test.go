package copytrade

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/notify"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	engine := ledger.NewEngine(st, zerolog.Nop())
	svc := NewService(engine, st, notify.NewBus(),
		ReferenceCapitalPolicy(decimal.NewFromInt(5000)), zerolog.Nop())
	return svc, st
}

func fundedAccount(t *testing.T, svc *Service, id string, amount int64) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, svc.store.CreateAccount(context.Background(), model.Account{
		ID:        id,
		Email:     id + "@example.com",
		Username:  id,
		Rank:      types.RankSilver,
		CreatedAt: now,
		UpdatedAt: now,
	}))
	_, err := svc.engine.Apply(context.Background(), ledger.Mutation{
		AccountID: id,
		Kind:      types.EntryKindDeposit,
		Delta: ledger.Delta{
			Available:      decimal.NewFromInt(amount),
			Capital:        decimal.NewFromInt(amount),
			TotalDeposited: decimal.NewFromInt(amount),
		},
	})
	require.NoError(t, err)
}

func testTrader(t *testing.T, svc *Service, id string) {
	t.Helper()
	require.NoError(t, svc.store.CreateTrader(context.Background(), model.Trader{
		ID:        id,
		FirstName: "Test",
		CreatedAt: time.Now().UTC(),
	}))
}

func profitEvent(traderID, pct string) model.TradeEvent {
	p := decimal.RequireFromString(pct)
	return model.TradeEvent{
		ID:        uuid.NewString(),
		TraderID:  traderID,
		Pair:      "EUR/USD",
		Kind:      types.TradeKindProfit,
		Percent:   &p,
		CreatedAt: time.Now().UTC(),
	}
}

func lossEvent(traderID, pct string) model.TradeEvent {
	ev := profitEvent(traderID, pct)
	ev.Kind = types.TradeKindLoss
	return ev
}

func TestSubscribeLocksAllocation(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 1500)
	testTrader(t, svc, "tr-1")

	sub, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.True(t, sub.Allocated.Equal(decimal.NewFromInt(1000)))
	assert.True(t, sub.Equity.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, types.SubscriptionActive, sub.Status)

	acc, _ := st.Account(context.Background(), "alice")
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(500)))
	// Allocation moves available balance only; capital stays invested.
	assert.True(t, acc.Capital.Equal(decimal.NewFromInt(1500)))

	_, err = svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(100))
	require.ErrorIs(t, err, ErrAlreadyActive)

	_, err = svc.Subscribe(context.Background(), "alice", "missing", decimal.NewFromInt(100))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubscribeRejectsOverdraw(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 100)
	testTrader(t, svc, "tr-1")

	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	subs, err := st.SubscriptionsByAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestDistributeProfit(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 1500)
	testTrader(t, svc, "tr-1")
	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	report, err := svc.Distribute(context.Background(), profitEvent("tr-1", "10"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Zero(t, report.Errors)

	// The report names each recipient and the delta applied.
	require.Len(t, report.Results, 1)
	assert.Equal(t, "alice", report.Results[0].AccountID)
	assert.Equal(t, "alice@example.com", report.Results[0].Email)
	assert.True(t, report.Results[0].Delta.Equal(decimal.NewFromInt(100)))

	// Profit accrues to the subscription's equity, not the spendable
	// balance; the balance moves when the subscription is stopped.
	acc, _ := st.Account(context.Background(), "alice")
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(500)), "available = %s", acc.Available)
	assert.True(t, acc.TotalProfit.Equal(decimal.NewFromInt(100)))

	sub, err := st.ActiveSubscription(context.Background(), "alice", "tr-1")
	require.NoError(t, err)
	assert.True(t, sub.Equity.Equal(decimal.NewFromInt(1100)))

	logs, err := svc.TradeLogs(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, types.TradeKindProfit, logs[0].Kind)
}

func TestDistributeRetryIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 1500)
	testTrader(t, svc, "tr-1")
	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	ev := profitEvent("tr-1", "10")
	_, err = svc.Distribute(context.Background(), ev)
	require.NoError(t, err)

	report, err := svc.Distribute(context.Background(), ev)
	require.NoError(t, err)
	assert.Zero(t, report.Applied)
	assert.Equal(t, 1, report.Skipped)

	sub, _ := st.ActiveSubscription(context.Background(), "alice", "tr-1")
	assert.True(t, sub.Equity.Equal(decimal.NewFromInt(1100)))
}

func TestDistributeLossClampsAtEquity(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 1500)
	testTrader(t, svc, "tr-1")
	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	// 80% of the allocation, twice: the second loss exceeds remaining equity
	// and is clamped, never dipping into the rest of the balance.
	report, err := svc.Distribute(context.Background(), lossEvent("tr-1", "80"))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Delta.Equal(decimal.NewFromInt(-800)), "delta = %s", report.Results[0].Delta)
	sub, _ := st.ActiveSubscription(context.Background(), "alice", "tr-1")
	assert.True(t, sub.Equity.Equal(decimal.NewFromInt(200)), "equity = %s", sub.Equity)

	// The clamped loss reports only what was actually burned.
	report, err = svc.Distribute(context.Background(), lossEvent("tr-1", "80"))
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, report.Results[0].Delta.Equal(decimal.NewFromInt(-200)), "delta = %s", report.Results[0].Delta)
	sub, _ = st.ActiveSubscription(context.Background(), "alice", "tr-1")
	assert.True(t, sub.Equity.IsZero(), "equity = %s", sub.Equity)

	// Subscription stays active at zero equity; stopping it is the user's call.
	assert.Equal(t, types.SubscriptionActive, sub.Status)

	acc, _ := st.Account(context.Background(), "alice")
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(500)))
	assert.True(t, acc.TotalProfit.Equal(decimal.NewFromInt(-1000)))
}

func TestDistributeUnusableFiguresLogZero(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 1500)
	testTrader(t, svc, "tr-1")
	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	ev := model.TradeEvent{
		ID:        uuid.NewString(),
		TraderID:  "tr-1",
		Pair:      "EUR/USD",
		Kind:      types.TradeKindProfit,
		CreatedAt: time.Now().UTC(),
	}
	report, err := svc.Distribute(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)

	acc, _ := st.Account(context.Background(), "alice")
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(500)))

	logs, _ := svc.TradeLogs(context.Background(), "alice", 0)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Amount.IsZero())
}

func TestStopRefundsCurrentEquity(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 1500)
	testTrader(t, svc, "tr-1")
	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	// 15% loss: equity drops from 1000 to 850.
	_, err = svc.Distribute(context.Background(), lossEvent("tr-1", "15"))
	require.NoError(t, err)

	sub, err := svc.Stop(context.Background(), "alice", "tr-1")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStopped, sub.Status)

	// Refund is the current equity, not the original allocation.
	acc, _ := st.Account(context.Background(), "alice")
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(1350)), "available = %s", acc.Available)

	_, err = svc.Stop(context.Background(), "alice", "tr-1")
	require.ErrorIs(t, err, ErrNotSubscribed)
}

func TestDistributeLegacyFollowers(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	testTrader(t, svc, "tr-1")

	// bob subscribed; carol only carries the deprecated direct link; dave both.
	fundedAccount(t, svc, "bob", 1500)
	_, err := svc.Subscribe(context.Background(), "bob", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.CreateAccount(context.Background(), model.Account{
		ID: "carol", Email: "carol@example.com", Username: "carol",
		LegacyTrader: "tr-1", Rank: types.RankSilver, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, st.CreateAccount(context.Background(), model.Account{
		ID: "dave", Email: "dave@example.com", Username: "dave",
		LegacyTrader: "tr-1", Rank: types.RankSilver, CreatedAt: now, UpdatedAt: now,
	}))
	_, err = svc.engine.Apply(context.Background(), ledger.Mutation{
		AccountID: "dave",
		Kind:      types.EntryKindDeposit,
		Delta: ledger.Delta{
			Available:      decimal.NewFromInt(1500),
			Capital:        decimal.NewFromInt(1500),
			TotalDeposited: decimal.NewFromInt(1500),
		},
	})
	require.NoError(t, err)
	_, err = svc.Subscribe(context.Background(), "dave", "tr-1", decimal.NewFromInt(500))
	require.NoError(t, err)

	amt := decimal.NewFromInt(500)
	ev := model.TradeEvent{
		ID:        uuid.NewString(),
		TraderID:  "tr-1",
		Pair:      "EUR/USD",
		Kind:      types.TradeKindProfit,
		Amount:    &amt,
		CreatedAt: now,
	}
	report, err := svc.Distribute(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Legacy)

	// Every recipient appears once, legacy included, with the applied delta.
	require.Len(t, report.Results, 3)
	deltas := make(map[string]decimal.Decimal, len(report.Results))
	for _, res := range report.Results {
		assert.Equal(t, res.AccountID+"@example.com", res.Email)
		deltas[res.AccountID] = res.Delta
	}
	assert.True(t, deltas["bob"].Equal(decimal.NewFromInt(100)))
	assert.True(t, deltas["dave"].Equal(decimal.NewFromInt(50)))
	assert.True(t, deltas["carol"].Equal(decimal.NewFromInt(500)))

	// Subscribers got the normalized percentage of their allocation
	// (500/5000 = 10%) into equity; carol got the raw amount on her balance.
	bobSub, err := st.ActiveSubscription(context.Background(), "bob", "tr-1")
	require.NoError(t, err)
	assert.True(t, bobSub.Equity.Equal(decimal.NewFromInt(1100)), "bob equity = %s", bobSub.Equity)

	carol, _ := st.Account(context.Background(), "carol")
	assert.True(t, carol.Available.Equal(decimal.NewFromInt(500)), "carol = %s", carol.Available)

	// dave is subscribed, so the legacy path must not double-pay him.
	dave, _ := st.Account(context.Background(), "dave")
	assert.True(t, dave.Available.Equal(decimal.NewFromInt(1000)), "dave = %s", dave.Available)
	daveSub, err := st.ActiveSubscription(context.Background(), "dave", "tr-1")
	require.NoError(t, err)
	assert.True(t, daveSub.Equity.Equal(decimal.NewFromInt(550)), "dave equity = %s", daveSub.Equity)
}

func TestDistributeIsolatesSubscriberFailure(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	testTrader(t, svc, "tr-1")
	fundedAccount(t, svc, "alice", 1500)
	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	// A subscription pointing at a deleted account fails alone.
	now := time.Now().UTC()
	require.NoError(t, st.CreateSubscription(context.Background(), model.CopySubscription{
		ID: uuid.NewString(), AccountID: "ghost", TraderID: "tr-1",
		Allocated: decimal.NewFromInt(100), Equity: decimal.NewFromInt(100),
		Status: types.SubscriptionActive, StartedAt: now, UpdatedAt: now,
	}))

	report, err := svc.Distribute(context.Background(), profitEvent("tr-1", "10"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 1, report.Errors)

	sub, _ := st.ActiveSubscription(context.Background(), "alice", "tr-1")
	assert.True(t, sub.Equity.Equal(decimal.NewFromInt(1100)))
}

func TestSubscribeChecksInsideAtomicUnit(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	fundedAccount(t, svc, "alice", 1500)
	testTrader(t, svc, "tr-1")

	// An active pair written behind the service's back, the way a concurrent
	// subscribe would land it, is caught inside the atomic unit and the
	// allocation debit rolls back with it.
	now := time.Now().UTC()
	require.NoError(t, st.CreateSubscription(context.Background(), model.CopySubscription{
		ID: uuid.NewString(), AccountID: "alice", TraderID: "tr-1",
		Allocated: decimal.NewFromInt(200), Equity: decimal.NewFromInt(200),
		Status: types.SubscriptionActive, StartedAt: now, UpdatedAt: now,
	}))

	_, err := svc.Subscribe(context.Background(), "alice", "tr-1", decimal.NewFromInt(500))
	require.ErrorIs(t, err, ErrAlreadyActive)

	acc, _ := st.Account(context.Background(), "alice")
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(1500)), "available = %s", acc.Available)

	subs, err := st.SubscriptionsByAccount(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Allocated.Equal(decimal.NewFromInt(200)))
}

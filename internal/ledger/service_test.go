package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/notify"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	engine := NewEngine(st, zerolog.Nop())
	svc := NewService(engine, st, notify.NewBus(),
		decimal.NewFromInt(10), decimal.NewFromInt(15), zerolog.Nop())
	return svc, st
}

func newReferredAccount(t *testing.T, st store.Store, id, upline string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, st.CreateAccount(context.Background(), model.Account{
		ID:        id,
		Email:     id + "@example.com",
		Username:  id,
		Upline:    upline,
		Rank:      types.RankSilver,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestDepositCascadesCommission(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "upline")
	newReferredAccount(t, st, "bob", "upline")

	report, err := svc.Deposit(context.Background(), "bob", decimal.NewFromInt(200), "pay-1")
	require.NoError(t, err)
	assert.True(t, report.Entry.Amount.Equal(decimal.NewFromInt(200)))
	require.NotNil(t, report.Commission)
	assert.Equal(t, "upline", report.Commission.Upline)
	assert.True(t, report.Commission.Amount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "referral:"+report.Entry.ID, report.Commission.Entry.Ref)

	up, err := st.AccountByUsername(context.Background(), "upline")
	require.NoError(t, err)
	assert.True(t, up.Available.Equal(decimal.NewFromInt(20)))
	assert.True(t, up.TotalProfit.Equal(decimal.NewFromInt(20)))

	entries, err := st.Entries(context.Background(), up.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, types.EntryKindReferralBonus, entries[0].Kind)
}

func TestDepositWithoutUpline(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "solo")

	report, err := svc.Deposit(context.Background(), "solo", decimal.NewFromInt(100), "pay-1")
	require.NoError(t, err)
	assert.Nil(t, report.Commission)
}

func TestDepositRetrySameRef(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "bob")

	_, err := svc.Deposit(context.Background(), "bob", decimal.NewFromInt(50), "pay-1")
	require.NoError(t, err)
	_, err = svc.Deposit(context.Background(), "bob", decimal.NewFromInt(50), "pay-1")
	require.ErrorIs(t, err, ErrDuplicateEntry)

	acc, err := st.Account(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(50)))
}

func TestDepositRejectsNonPositive(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "bob")

	_, err := svc.Deposit(context.Background(), "bob", decimal.Zero, "pay-1")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.Deposit(context.Background(), "bob", decimal.NewFromInt(-5), "pay-2")
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestWithdraw(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "bob")

	_, err := svc.Deposit(context.Background(), "bob", decimal.NewFromInt(100), "pay-1")
	require.NoError(t, err)

	entry, err := svc.Withdraw(context.Background(), "bob", decimal.NewFromInt(40), "wd-1")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(-40)))

	_, err = svc.Withdraw(context.Background(), "bob", decimal.NewFromInt(100), "wd-2")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	acc, err := st.Account(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(60)))
	assert.True(t, acc.TotalWithdrawn.Equal(decimal.NewFromInt(40)))
}

func TestSignupBonusOncePerReferral(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "upline")

	entry, err := svc.SignupBonus(context.Background(), "upline", "new-acc-1")
	require.NoError(t, err)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(15)))

	// Replayed registration of the same account cannot pay twice.
	_, err = svc.SignupBonus(context.Background(), "upline", "new-acc-1")
	require.ErrorIs(t, err, ErrDuplicateEntry)

	// A different referral pays again.
	_, err = svc.SignupBonus(context.Background(), "upline", "new-acc-2")
	require.NoError(t, err)

	acc, err := st.Account(context.Background(), "upline")
	require.NoError(t, err)
	assert.True(t, acc.Available.Equal(decimal.NewFromInt(30)))
	assert.True(t, acc.TotalProfit.Equal(decimal.NewFromInt(30)))
}

func TestReconcileZeroDrift(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "bob")

	_, err := svc.Deposit(context.Background(), "bob", decimal.NewFromInt(100), "pay-1")
	require.NoError(t, err)
	_, err = svc.Withdraw(context.Background(), "bob", decimal.NewFromInt(30), "wd-1")
	require.NoError(t, err)

	drift, err := svc.Reconcile(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, drift.IsZero(), "drift = %s", drift)
}

func TestApplyAdjustmentsBatch(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "alice")
	newTestAccount(t, st, "bob")
	_, err := svc.Deposit(context.Background(), "bob", decimal.NewFromInt(50), "pay-1")
	require.NoError(t, err)

	batch := []Adjustment{
		{AccountID: "alice", Kind: types.TradeKindProfit, Amount: decimal.NewFromInt(120), Ref: "adj-1"},
		{AccountID: "bob", Kind: types.TradeKindLoss, Amount: decimal.NewFromInt(30), Ref: "adj-2"},
		// Overdraws bob; recorded as an error without touching the others.
		{AccountID: "bob", Kind: types.TradeKindLoss, Amount: decimal.NewFromInt(999), Ref: "adj-3"},
	}
	report := svc.ApplyAdjustments(context.Background(), batch)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 0, report.Skipped)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "bob")

	alice, err := st.Account(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, alice.Available.Equal(decimal.NewFromInt(120)))
	assert.True(t, alice.TotalProfit.Equal(decimal.NewFromInt(120)))

	bob, err := st.Account(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, bob.Available.Equal(decimal.NewFromInt(20)))

	// Replaying the whole batch settles nothing new.
	replay := svc.ApplyAdjustments(context.Background(), batch)
	assert.Equal(t, 0, replay.Applied)
	assert.Equal(t, 2, replay.Skipped)

	for _, id := range []string{"alice", "bob"} {
		drift, err := svc.Reconcile(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, drift.IsZero(), "drift for %s = %s", id, drift)
	}
}

func TestApplyAdjustmentsRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	newTestAccount(t, st, "alice")

	report := svc.ApplyAdjustments(context.Background(), []Adjustment{
		{AccountID: "alice", Kind: "transfer", Amount: decimal.NewFromInt(10), Ref: "adj-k"},
		{AccountID: "alice", Kind: types.TradeKindProfit, Amount: decimal.Zero, Ref: "adj-z"},
	})
	assert.Equal(t, 0, report.Applied)
	assert.Len(t, report.Errors, 2)
}

package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/notify"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

func newTestService(t *testing.T) (*Service, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	engine := ledger.NewEngine(st, zerolog.Nop())
	ledgerSvc := ledger.NewService(engine, st, notify.NewBus(),
		decimal.NewFromInt(10), decimal.NewFromInt(15), zerolog.Nop())
	svc := NewService(st, ledgerSvc, "atlamarkets", []byte("test-secret"), time.Hour, zerolog.Nop())
	return svc, st
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	acc, err := svc.Register(context.Background(), RegisterInput{
		Email:     "Alice@Example.com",
		Username:  "Alice",
		FirstName: "Alice",
		Password:  "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", acc.Email)
	assert.Equal(t, "alice", acc.Username)
	assert.Equal(t, types.RankSilver, acc.Rank)
	assert.NotEmpty(t, acc.ReferralCode)
	assert.True(t, acc.Available.IsZero())

	token, got, err := svc.Login(context.Background(), "alice@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, got.ID)

	subject, err := svc.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, subject)

	_, _, err = svc.Login(context.Background(), "alice@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(context.Background(), "nobody@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "short",
	})
	require.Error(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), RegisterInput{
		Email:    "alice@example.com",
		Username: "alice2",
		Password: "correct-horse",
	})
	require.ErrorIs(t, err, ErrAccountExists)
}

func TestRegisterResolvesReferral(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)

	upline, err := svc.Register(context.Background(), RegisterInput{
		Email:    "upline@example.com",
		Username: "upline",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	// Referral by the upline's username, as shared links carry it.
	acc, err := svc.Register(context.Background(), RegisterInput{
		Email:        "bob@example.com",
		Username:     "bob",
		Password:     "correct-horse",
		ReferralCode: "upline",
	})
	require.NoError(t, err)
	assert.Equal(t, "upline", acc.Upline)

	// The upline earns the signup bonus, not the new account.
	got, err := st.Account(context.Background(), upline.ID)
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(decimal.NewFromInt(15)), "upline available = %s", got.Available)
	assert.True(t, acc.Available.IsZero())

	// A generated referral code resolves too.
	acc, err = svc.Register(context.Background(), RegisterInput{
		Email:        "dana@example.com",
		Username:     "dana",
		Password:     "correct-horse",
		ReferralCode: upline.ReferralCode,
	})
	require.NoError(t, err)
	assert.Equal(t, "upline", acc.Upline)

	got, err = st.Account(context.Background(), upline.ID)
	require.NoError(t, err)
	assert.True(t, got.Available.Equal(decimal.NewFromInt(30)))

	// An unknown referral is ignored, not rejected.
	acc, err = svc.Register(context.Background(), RegisterInput{
		Email:        "carol@example.com",
		Username:     "carol",
		Password:     "correct-horse",
		ReferralCode: "no-such-code",
	})
	require.NoError(t, err)
	assert.Empty(t, acc.Upline)
}

func TestRegisterDerivesUsername(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	acc, err := svc.Register(context.Background(), RegisterInput{
		Email:    "trader.one@example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(acc.Username, "trader.one-"), "username = %s", acc.Username)
}

func TestParseTokenRejectsTampering(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	acc, err := svc.Register(context.Background(), RegisterInput{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	token, _, err := svc.Login(context.Background(), acc.Email, "correct-horse")
	require.NoError(t, err)

	_, err = svc.ParseToken(token + "x")
	require.Error(t, err)

	other := NewService(store.NewMemory(), nil, "atlamarkets", []byte("other-secret"), time.Hour, zerolog.Nop())
	_, err = other.ParseToken(token)
	require.Error(t, err)
}

func TestProfileSnapshot(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	acc, err := svc.Register(context.Background(), RegisterInput{
		Email:    "carol@example.com",
		Username: "carol",
		Password: "correct-horse",
	})
	require.NoError(t, err)

	_, err = svc.ledger.Deposit(context.Background(), acc.ID, decimal.NewFromInt(500), "pay-1")
	require.NoError(t, err)

	profile, err := svc.Profile(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, profile.Account.ID)
	assert.True(t, profile.Account.Available.Equal(decimal.NewFromInt(500)))
	require.Len(t, profile.Entries, 1)
	assert.Equal(t, types.EntryKindDeposit, profile.Entries[0].Kind)
	assert.Empty(t, profile.Subscriptions)
	assert.Empty(t, profile.TradeLogs)

	_, err = svc.Profile(context.Background(), "ghost")
	require.ErrorIs(t, err, store.ErrNotFound)
}

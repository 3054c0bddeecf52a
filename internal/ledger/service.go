package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/notify"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

var oneHundred = decimal.NewFromInt(100)

// Service wraps the engine with the deposit/withdraw flows and the referral
// cascade. A deposit that lands on an account with an upline also credits the
// upline's commission; the commission entry's ref points at the deposit
// entry, so a retried deposit can never double-pay the upline.
type Service struct {
	engine *Engine
	store  store.Store
	bus    *notify.Bus
	log    zerolog.Logger

	commissionPct decimal.Decimal
	signupBonus   decimal.Decimal
}

func NewService(engine *Engine, st store.Store, bus *notify.Bus, commissionPct, signupBonus decimal.Decimal, log zerolog.Logger) *Service {
	return &Service{
		engine:        engine,
		store:         st,
		bus:           bus,
		log:           log.With().Str("component", "ledger").Logger(),
		commissionPct: commissionPct,
		signupBonus:   signupBonus,
	}
}

// DepositReport describes one settled deposit and, when the depositor has an
// upline, the commission paid out of it.
type DepositReport struct {
	Entry      model.LedgerEntry `json:"entry"`
	Commission *CommissionReport `json:"commission,omitempty"`
}

type CommissionReport struct {
	Upline string            `json:"upline"`
	Amount decimal.Decimal   `json:"amount"`
	Entry  model.LedgerEntry `json:"entry"`
}

// Deposit credits amount to the account and cascades the upline commission.
// ref is the payment processor's settlement reference; retrying with the same
// ref returns ErrDuplicateEntry without moving funds.
func (s *Service) Deposit(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (DepositReport, error) {
	if !amount.IsPositive() {
		return DepositReport{}, ErrInvalidAmount
	}

	entry, err := s.engine.Apply(ctx, Mutation{
		AccountID: accountID,
		Kind:      types.EntryKindDeposit,
		Ref:       ref,
		Delta: Delta{
			Available:      amount,
			Capital:        amount,
			TotalDeposited: amount,
		},
	})
	if err != nil {
		return DepositReport{}, err
	}

	report := DepositReport{Entry: entry}
	if comm, err := s.cascadeCommission(ctx, accountID, amount, entry.ID); err != nil {
		// The deposit itself stands; a commission failure is logged and the
		// next retry of the same ref will not re-run it, so surface it.
		s.log.Error().Err(err).Str("account_id", accountID).Msg("referral commission failed")
	} else if comm != nil {
		report.Commission = comm
	}

	s.bus.Publish(notify.Event{Type: "deposit.settled", Data: report})
	return report, nil
}

func (s *Service) cascadeCommission(ctx context.Context, accountID string, amount decimal.Decimal, depositEntryID string) (*CommissionReport, error) {
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Upline == "" {
		return nil, nil
	}
	upline, err := s.store.AccountByUsername(ctx, acc.Upline)
	if errors.Is(err, store.ErrNotFound) {
		// Dangling upline reference; the deposit still settles.
		s.log.Warn().Str("upline", acc.Upline).Msg("upline account missing, commission skipped")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	commission := amount.Mul(s.commissionPct).Div(oneHundred).Round(2)
	if !commission.IsPositive() {
		return nil, nil
	}
	entry, err := s.engine.Apply(ctx, Mutation{
		AccountID: upline.ID,
		Kind:      types.EntryKindReferralBonus,
		Ref:       "referral:" + depositEntryID,
		Delta: Delta{
			Available:   commission,
			Capital:     commission,
			TotalProfit: commission,
		},
	})
	if errors.Is(err, ErrDuplicateEntry) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &CommissionReport{Upline: upline.Username, Amount: commission, Entry: entry}, nil
}

// Withdraw debits amount from the account's available balance and capital.
func (s *Service) Withdraw(ctx context.Context, accountID string, amount decimal.Decimal, ref string) (model.LedgerEntry, error) {
	if !amount.IsPositive() {
		return model.LedgerEntry{}, ErrInvalidAmount
	}
	entry, err := s.engine.Apply(ctx, Mutation{
		AccountID: accountID,
		Kind:      types.EntryKindWithdraw,
		Ref:       ref,
		Delta: Delta{
			Available:      amount.Neg(),
			Capital:        amount.Neg(),
			TotalWithdrawn: amount,
		},
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	s.bus.Publish(notify.Event{Type: "withdraw.settled", Data: entry})
	return entry, nil
}

// SignupBonus credits the upline's one-time bonus for referring a new
// signup. Keyed on the new account's id so a replayed registration cannot
// grant it twice.
func (s *Service) SignupBonus(ctx context.Context, uplineID, newAccountID string) (model.LedgerEntry, error) {
	if !s.signupBonus.IsPositive() {
		return model.LedgerEntry{}, nil
	}
	entry, err := s.engine.Apply(ctx, Mutation{
		AccountID: uplineID,
		Kind:      types.EntryKindReferralBonus,
		Ref:       "signup:" + newAccountID,
		Delta: Delta{
			Available:   s.signupBonus,
			Capital:     s.signupBonus,
			TotalProfit: s.signupBonus,
		},
	})
	if err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

// Adjustment is one admin-supplied balance correction routed through the
// engine. Kind chooses the sign; Ref makes replays of the same batch safe.
type Adjustment struct {
	AccountID string          `json:"account_id"`
	Kind      types.TradeKind `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Ref       string          `json:"ref"`
}

type AdjustmentReport struct {
	Applied int      `json:"applied"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// ApplyAdjustments applies each adjustment in its own atomic unit. One bad
// recipient never blocks the rest; failures are reported, not retried.
func (s *Service) ApplyAdjustments(ctx context.Context, adjustments []Adjustment) AdjustmentReport {
	var report AdjustmentReport
	for _, adj := range adjustments {
		if err := s.applyAdjustment(ctx, adj); err != nil {
			if errors.Is(err, ErrDuplicateEntry) {
				report.Skipped++
				continue
			}
			report.Errors = append(report.Errors, adj.AccountID+": "+err.Error())
			s.log.Error().Err(err).Str("account_id", adj.AccountID).Msg("adjustment failed")
			continue
		}
		report.Applied++
	}
	s.bus.Publish(notify.Event{Type: "adjustments.applied", Data: report})
	return report
}

func (s *Service) applyAdjustment(ctx context.Context, adj Adjustment) error {
	if !adj.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	m := Mutation{AccountID: adj.AccountID, Ref: adj.Ref}
	switch adj.Kind {
	case types.TradeKindProfit:
		m.Kind = types.EntryKindProfit
		m.Delta = Delta{
			Available:   adj.Amount,
			Capital:     adj.Amount,
			TotalProfit: adj.Amount,
		}
	case types.TradeKindLoss:
		m.Kind = types.EntryKindLoss
		m.Delta = Delta{
			Available:   adj.Amount.Neg(),
			Capital:     adj.Amount.Neg(),
			TotalProfit: adj.Amount.Neg(),
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidKind, adj.Kind)
	}
	_, err := s.engine.Apply(ctx, m)
	return err
}

// Entries returns the account's most recent ledger entries, newest first.
func (s *Service) Entries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.Entries(ctx, accountID, limit)
}

// Reconcile compares the replayed entry log against the cached available
// balance and returns the drift, which is zero on a healthy account.
func (s *Service) Reconcile(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acc, err := s.store.Account(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	sum, err := s.store.SumEntryAmounts(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Available.Sub(sum), nil
}

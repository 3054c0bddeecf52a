// Package copytrade links accounts to traders and fans each trade event out
// across the subscriber base.
package copytrade

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kelvinogodo/atlamarkets/internal/ledger"
	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/notify"
	"github.com/kelvinogodo/atlamarkets/internal/store"
	"github.com/kelvinogodo/atlamarkets/internal/types"
)

var oneHundred = decimal.NewFromInt(100)

type Service struct {
	engine *ledger.Engine
	store  store.Store
	bus    *notify.Bus
	policy PercentagePolicy
	log    zerolog.Logger
}

func NewService(engine *ledger.Engine, st store.Store, bus *notify.Bus, policy PercentagePolicy, log zerolog.Logger) *Service {
	return &Service{
		engine: engine,
		store:  st,
		bus:    bus,
		policy: policy,
		log:    log.With().Str("component", "copytrade").Logger(),
	}
}

// Subscribe locks amount out of the account's available balance as the
// allocation to the trader. One active subscription per account-trader pair.
func (s *Service) Subscribe(ctx context.Context, accountID, traderID string, amount decimal.Decimal) (model.CopySubscription, error) {
	if !amount.IsPositive() {
		return model.CopySubscription{}, ledger.ErrInvalidAmount
	}
	if _, err := s.store.Trader(ctx, traderID); err != nil {
		return model.CopySubscription{}, err
	}

	now := time.Now().UTC()
	sub := model.CopySubscription{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TraderID:  traderID,
		Allocated: amount,
		Equity:    amount,
		Status:    types.SubscriptionActive,
		StartedAt: now,
		UpdatedAt: now,
	}

	_, err := s.engine.ApplyWithin(ctx, ledger.Mutation{
		AccountID: accountID,
		Kind:      types.EntryKindCopyAllocation,
		Ref:       "copy-alloc:" + sub.ID,
		Delta:     ledger.Delta{Available: amount.Neg()},
	}, func(st store.Store) error {
		// The one-active check runs inside the atomic unit so a concurrent
		// subscribe cannot slip between check and insert.
		if _, err := st.ActiveSubscription(ctx, accountID, traderID); err == nil {
			return ErrAlreadyActive
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return st.CreateSubscription(ctx, sub)
	})
	if err != nil {
		if store.IsDuplicate(err) {
			err = ErrAlreadyActive
		}
		return model.CopySubscription{}, err
	}

	s.bus.Publish(notify.Event{Type: "copy.subscribed", Data: sub})
	return sub, nil
}

// Stop ends the subscription and refunds the current equity, which already
// carries every distributed profit and loss. Stopped is terminal.
func (s *Service) Stop(ctx context.Context, accountID, traderID string) (model.CopySubscription, error) {
	sub, err := s.store.ActiveSubscription(ctx, accountID, traderID)
	if errors.Is(err, store.ErrNotFound) {
		return model.CopySubscription{}, ErrNotSubscribed
	}
	if err != nil {
		return model.CopySubscription{}, err
	}

	sub.Status = types.SubscriptionStopped
	sub.UpdatedAt = time.Now().UTC()

	if sub.Equity.IsPositive() {
		_, err = s.engine.ApplyWithin(ctx, ledger.Mutation{
			AccountID: accountID,
			Kind:      types.EntryKindCopyRefund,
			Ref:       "copy-refund:" + sub.ID,
			Delta:     ledger.Delta{Available: sub.Equity},
		}, func(st store.Store) error {
			return st.UpdateSubscription(ctx, sub)
		})
	} else {
		err = s.store.UpdateSubscription(ctx, sub)
	}
	if err != nil {
		return model.CopySubscription{}, err
	}

	s.bus.Publish(notify.Event{Type: "copy.stopped", Data: sub})
	return sub, nil
}

// Subscriptions lists the account's subscriptions in every status.
func (s *Service) Subscriptions(ctx context.Context, accountID string) ([]model.CopySubscription, error) {
	return s.store.SubscriptionsByAccount(ctx, accountID)
}

// TradeLogs returns the account's per-event attributions, newest first.
func (s *Service) TradeLogs(ctx context.Context, accountID string, limit int) ([]model.TradeLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.TradeLogs(ctx, accountID, limit)
}

// Recipient is one account's share of a distributed trade event. Delta is
// signed: positive for profit, negative for loss, zero when the event's
// figures were unusable and only the attribution record was written.
type Recipient struct {
	AccountID string          `json:"account_id"`
	Email     string          `json:"email"`
	Delta     decimal.Decimal `json:"delta"`
}

// DistributionReport summarizes one trade event's fan-out. Results carries
// who received what for the notification collaborator.
type DistributionReport struct {
	EventID     string      `json:"event_id"`
	Subscribers int         `json:"subscribers"`
	Applied     int         `json:"applied"`
	Skipped     int         `json:"skipped"`
	Errors      int         `json:"errors"`
	Legacy      int         `json:"legacy"`
	Results     []Recipient `json:"results"`
}

// Distribute applies one trade event to every active subscriber, each in its
// own atomic unit keyed on (event, subscription), so a retried event tops up
// only the subscribers it missed. A per-subscriber failure is counted and the
// fan-out continues. Accounts still linked through the deprecated direct
// trader field and not subscribed receive the event's raw amount.
func (s *Service) Distribute(ctx context.Context, ev model.TradeEvent) (DistributionReport, error) {
	subs, err := s.store.ActiveSubscriptionsByTrader(ctx, ev.TraderID)
	if err != nil {
		return DistributionReport{}, err
	}

	pct := s.policy(ev)
	report := DistributionReport{EventID: ev.ID, Subscribers: len(subs)}
	seen := make(map[string]struct{}, len(subs))

	for _, sub := range subs {
		seen[sub.AccountID] = struct{}{}
		delta, err := s.applyToSubscriber(ctx, ev, sub, pct)
		switch {
		case err == nil:
			report.Applied++
			report.Results = append(report.Results, s.recipient(ctx, sub.AccountID, "", delta))
		case errors.Is(err, ledger.ErrDuplicateEntry):
			report.Skipped++
		default:
			report.Errors++
			s.log.Error().Err(err).
				Str("event_id", ev.ID).
				Str("subscription_id", sub.ID).
				Msg("distribution failed for subscriber")
		}
	}

	legacy, err := s.store.LegacyFollowers(ctx, ev.TraderID)
	if err != nil {
		s.log.Error().Err(err).Str("event_id", ev.ID).Msg("legacy follower lookup failed")
	}
	for _, acc := range legacy {
		if _, ok := seen[acc.ID]; ok {
			continue
		}
		delta, err := s.applyLegacy(ctx, ev, acc.ID)
		switch {
		case err == nil:
			report.Legacy++
			report.Results = append(report.Results, s.recipient(ctx, acc.ID, acc.Email, delta))
		case errors.Is(err, ledger.ErrDuplicateEntry):
			report.Skipped++
		default:
			report.Errors++
			s.log.Error().Err(err).
				Str("event_id", ev.ID).
				Str("account_id", acc.ID).
				Msg("legacy distribution failed")
		}
	}

	s.bus.Publish(notify.Event{Type: "copy.distributed", Data: report})
	return report, nil
}

// recipient resolves the account's email when the caller does not already
// hold it. A failed lookup keeps the id; the delta is the payload.
func (s *Service) recipient(ctx context.Context, accountID, email string, delta decimal.Decimal) Recipient {
	if email == "" {
		if acc, err := s.store.Account(ctx, accountID); err == nil {
			email = acc.Email
		}
	}
	return Recipient{AccountID: accountID, Email: email, Delta: delta}
}

func (s *Service) applyToSubscriber(ctx context.Context, ev model.TradeEvent, sub model.CopySubscription, pct decimal.Decimal) (decimal.Decimal, error) {
	delta := sub.Allocated.Mul(pct).Div(oneHundred).Round(2)
	if delta.IsNegative() {
		delta = delta.Abs()
	}

	tl := model.TradeLog{
		ID:        uuid.NewString(),
		AccountID: sub.AccountID,
		EventID:   ev.ID,
		Pair:      ev.Pair,
		Kind:      ev.Kind,
		CreatedAt: time.Now().UTC(),
	}

	if delta.IsZero() {
		// Unusable event figures still leave an audit trail.
		return decimal.Zero, s.store.AppendTradeLog(ctx, tl)
	}

	// Subscription P/L lives in the subscription's equity until the user
	// stops and cashes out; only total profit moves on the account. Paying
	// the balance here and refunding equity at stop would pay twice.
	ref := "copy:" + ev.ID + ":" + sub.ID
	var mut ledger.Mutation
	switch ev.Kind {
	case types.TradeKindProfit:
		sub.Equity = sub.Equity.Add(delta)
		tl.Amount = delta
		mut = ledger.Mutation{
			AccountID: sub.AccountID,
			Kind:      types.EntryKindProfit,
			Ref:       ref,
			Delta: ledger.Delta{
				TotalProfit: delta,
			},
		}
	case types.TradeKindLoss:
		// A loss burns allocated equity, never the balance below it.
		if delta.GreaterThan(sub.Equity) {
			delta = sub.Equity
		}
		sub.Equity = sub.Equity.Sub(delta)
		tl.Amount = delta.Neg()
		if delta.IsZero() {
			return decimal.Zero, s.store.AppendTradeLog(ctx, tl)
		}
		mut = ledger.Mutation{
			AccountID: sub.AccountID,
			Kind:      types.EntryKindLoss,
			Ref:       ref,
			Delta: ledger.Delta{
				TotalProfit: delta.Neg(),
			},
		}
	default:
		return decimal.Decimal{}, ErrInvalidTradeKind
	}

	sub.UpdatedAt = time.Now().UTC()
	_, err := s.engine.ApplyWithin(ctx, mut, func(st store.Store) error {
		if err := st.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		return st.AppendTradeLog(ctx, tl)
	})
	return tl.Amount, err
}

func (s *Service) applyLegacy(ctx context.Context, ev model.TradeEvent, accountID string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if ev.Amount != nil {
		amount = ev.Amount.Abs().Round(2)
	}

	tl := model.TradeLog{
		ID:        uuid.NewString(),
		AccountID: accountID,
		EventID:   ev.ID,
		Pair:      ev.Pair,
		Kind:      ev.Kind,
		CreatedAt: time.Now().UTC(),
	}
	if amount.IsZero() {
		return decimal.Zero, s.store.AppendTradeLog(ctx, tl)
	}

	ref := "copy-legacy:" + ev.ID + ":" + accountID
	var mut ledger.Mutation
	switch ev.Kind {
	case types.TradeKindProfit:
		tl.Amount = amount
		mut = ledger.Mutation{
			AccountID: accountID,
			Kind:      types.EntryKindProfit,
			Ref:       ref,
			Delta: ledger.Delta{
				Available:   amount,
				Capital:     amount,
				TotalProfit: amount,
			},
		}
	case types.TradeKindLoss:
		tl.Amount = amount.Neg()
		mut = ledger.Mutation{
			AccountID: accountID,
			Kind:      types.EntryKindLoss,
			Ref:       ref,
			Delta: ledger.Delta{
				Available:   amount.Neg(),
				Capital:     amount.Neg(),
				TotalProfit: amount.Neg(),
			},
		}
	default:
		return decimal.Decimal{}, ErrInvalidTradeKind
	}

	_, err := s.engine.ApplyWithin(ctx, mut, func(st store.Store) error {
		return st.AppendTradeLog(ctx, tl)
	})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		// Legacy losses hit the balance directly; an underfunded account
		// still gets the attribution record.
		tl.Amount = decimal.Zero
		return decimal.Zero, s.store.AppendTradeLog(ctx, tl)
	}
	return tl.Amount, err
}

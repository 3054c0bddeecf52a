// Package invest locks principal into fixed-term plans and credits the
// precomputed profit back when a position matures.
package invest

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

var ErrUnknownPlan = errors.New("unknown investment plan")

// PlanTerm is how long principal is locked before the profit credit.
const PlanTerm = 72 * time.Hour

// planPercents are the offered return rates. The profit is fixed at purchase
// time; a later change to this table never touches open positions.
var planPercents = map[int64]struct{}{
	20: {}, 35: {}, 50: {}, 65: {}, 80: {}, 100: {},
}

type Service struct {
	engine *ledger.Engine
	store  store.Store
	bus    *notify.Bus
	log    zerolog.Logger
}

func NewService(engine *ledger.Engine, st store.Store, bus *notify.Bus, log zerolog.Logger) *Service {
	return &Service{
		engine: engine,
		store:  st,
		bus:    bus,
		log:    log.With().Str("component", "invest").Logger(),
	}
}

// Open debits the principal and creates the position. The profit amount is
// computed here, once, and stored on the position.
func (s *Service) Open(ctx context.Context, accountID string, principal decimal.Decimal, planPercent int64) (model.InvestmentPosition, error) {
	if !principal.IsPositive() {
		return model.InvestmentPosition{}, ledger.ErrInvalidAmount
	}
	if _, ok := planPercents[planPercent]; !ok {
		return model.InvestmentPosition{}, ErrUnknownPlan
	}

	now := time.Now().UTC()
	pos := model.InvestmentPosition{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Principal:   principal,
		PlanPercent: planPercent,
		Profit:      principal.Mul(decimal.NewFromInt(planPercent)).Div(decimal.NewFromInt(100)).Round(2),
		StartedAt:   now,
		Duration:    PlanTerm,
		CreatedAt:   now,
	}

	_, err := s.engine.ApplyWithin(ctx, ledger.Mutation{
		AccountID: accountID,
		Kind:      types.EntryKindInvestment,
		Ref:       "invest:" + pos.ID,
		Delta: ledger.Delta{
			Available: principal.Neg(),
			Capital:   principal.Neg(),
		},
	}, func(st store.Store) error {
		return st.CreatePosition(ctx, pos)
	})
	if err != nil {
		return model.InvestmentPosition{}, err
	}

	s.bus.Publish(notify.Event{Type: "investment.opened", Data: pos})
	return pos, nil
}

// Positions returns the account's positions, open and matured.
func (s *Service) Positions(ctx context.Context, accountID string) ([]model.InvestmentPosition, error) {
	return s.store.PositionsByAccount(ctx, accountID)
}

// AccrualReport summarizes one pass over due positions. Errors names the
// account behind each failed credit so the operator knows what to retry.
type AccrualReport struct {
	Matured int      `json:"matured"`
	Errors  []string `json:"errors,omitempty"`
}

// RunAccrualPass credits every due, not-yet-credited position. Each position
// is settled in its own atomic unit: the profit entry and the credited flag
// commit together, so a crash between positions loses nothing and a rerun
// credits nothing twice. A failure on one position does not stop the pass.
func (s *Service) RunAccrualPass(ctx context.Context, now time.Time) (AccrualReport, error) {
	due, err := s.store.DuePositions(ctx, now)
	if err != nil {
		return AccrualReport{}, err
	}

	var report AccrualReport
	for _, pos := range due {
		if !pos.Profit.IsPositive() {
			// Malformed position; settle it without credit so it stops
			// surfacing as due.
			s.log.Warn().Str("position_id", pos.ID).Msg("position has non-positive profit, settling without credit")
			if err := s.store.MarkPositionCredited(ctx, pos.ID); err != nil {
				report.Errors = append(report.Errors, pos.AccountID)
			}
			continue
		}
		if err := s.credit(ctx, pos); err != nil {
			if errors.Is(err, ledger.ErrDuplicateEntry) {
				continue
			}
			report.Errors = append(report.Errors, pos.AccountID)
			s.log.Error().Err(err).
				Str("position_id", pos.ID).
				Str("account_id", pos.AccountID).
				Msg("accrual credit failed")
			continue
		}
		report.Matured++
	}

	if report.Matured > 0 || len(report.Errors) > 0 {
		s.log.Info().Int("matured", report.Matured).Int("errors", len(report.Errors)).Msg("accrual pass complete")
		s.bus.Publish(notify.Event{Type: "accrual.pass", Data: report})
	}
	return report, nil
}

func (s *Service) credit(ctx context.Context, pos model.InvestmentPosition) error {
	_, err := s.engine.ApplyWithin(ctx, ledger.Mutation{
		AccountID: pos.AccountID,
		Kind:      types.EntryKindProfit,
		Ref:       "accrual:" + pos.ID,
		Delta: ledger.Delta{
			Available:      pos.Profit,
			Capital:        pos.Profit,
			TotalProfit:    pos.Profit,
			PeriodicProfit: pos.Profit,
		},
	}, func(st store.Store) error {
		return st.MarkPositionCredited(ctx, pos.ID)
	})
	return err
}

// Scheduler drives RunAccrualPass on a fixed interval until the context ends.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	log      zerolog.Logger
}

func NewScheduler(svc *Service, interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{svc: svc, interval: interval, log: log.With().Str("component", "accrual").Logger()}
}

func (sc *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := sc.svc.RunAccrualPass(ctx, now.UTC()); err != nil {
				sc.log.Error().Err(err).Msg("accrual pass failed")
			}
		}
	}
}

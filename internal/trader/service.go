// Package trader manages the copyable trader roster and the admin trade feed.
package trader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kelvinogodo/atlamarkets/internal/copytrade"
	"github.com/kelvinogodo/atlamarkets/internal/model"
	"github.com/kelvinogodo/atlamarkets/internal/store"
)

type Service struct {
	store   store.Store
	copying *copytrade.Service
	log     zerolog.Logger
}

func NewService(st store.Store, copying *copytrade.Service, log zerolog.Logger) *Service {
	return &Service{store: st, copying: copying, log: log.With().Str("component", "trader").Logger()}
}

func (s *Service) Create(ctx context.Context, t model.Trader) (model.Trader, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now().UTC()
	if err := s.store.CreateTrader(ctx, t); err != nil {
		return model.Trader{}, err
	}
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Trader, error) {
	return s.store.Trader(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]model.Trader, error) {
	return s.store.Traders(ctx)
}

// Delete removes the trader from the roster. Existing subscriptions keep
// their equity and can still be stopped for a refund.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteTrader(ctx, id)
}

func (s *Service) History(ctx context.Context, traderID string) ([]model.TradeEvent, error) {
	return s.store.TradeHistory(ctx, traderID)
}

// RecordTrade appends the event to the trader's history and distributes it
// across the subscriber base. The event id is the idempotency key: replaying
// the same event only reaches subscribers the first run missed.
func (s *Service) RecordTrade(ctx context.Context, ev model.TradeEvent) (copytrade.DistributionReport, error) {
	if !ev.Kind.Valid() {
		return copytrade.DistributionReport{}, copytrade.ErrInvalidTradeKind
	}
	if _, err := s.store.Trader(ctx, ev.TraderID); err != nil {
		return copytrade.DistributionReport{}, err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if err := s.store.AppendTradeHistory(ctx, ev); err != nil {
		return copytrade.DistributionReport{}, err
	}
	return s.copying.Distribute(ctx, ev)
}

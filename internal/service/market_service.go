package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictbook/internal/book"
	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/pricing"
)

// MarketService serves market state, quotes, depth and trade history. Reads
// go through the caches in Sinks when they are configured.
type MarketService struct {
	markets domain.MarketStore
	orders  domain.OrderStore
	trades  domain.TradeStore
	caches  Sinks
	logger  *slog.Logger
	now     func() time.Time
}

// NewMarketService creates a MarketService. Only the Prices, Audit, Markets
// and Depth fields of caches are used.
func NewMarketService(
	markets domain.MarketStore,
	orders domain.OrderStore,
	trades domain.TradeStore,
	caches Sinks,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		markets: markets,
		orders:  orders,
		trades:  trades,
		caches:  caches,
		logger:  logger.With(slog.String("component", "market_service")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seed creates markets from params, skipping ids that already exist. It is
// how markets enter the system; there is no public creation endpoint.
func (s *MarketService) Seed(ctx context.Context, params []domain.MarketParams) (int, error) {
	created := 0
	for _, p := range params {
		m, err := domain.NewMarket(p, s.now())
		if err != nil {
			return created, fmt.Errorf("market_service: seed %q: %w", p.ID, err)
		}
		if err := s.markets.Create(ctx, m); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			return created, fmt.Errorf("market_service: seed %q: %w", p.ID, err)
		}
		created++
		if s.caches.Audit != nil {
			if err := s.caches.Audit.Log(ctx, "market_seeded", map[string]any{
				"market": m.ID,
				"mode":   string(m.Mode),
			}); err != nil {
				s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
			}
		}
	}
	if created > 0 {
		s.logger.InfoContext(ctx, "seeded markets", slog.Int("count", created))
	}
	return created, nil
}

// GetMarket retrieves a market by ID, from the market cache when present.
func (s *MarketService) GetMarket(ctx context.Context, id string) (domain.Market, error) {
	if c := s.caches.Markets; c != nil {
		m, err := c.Get(ctx, id)
		if err == nil {
			return m, nil
		}
		s.cacheMiss(ctx, "market cache get failed", id, err)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %q: %w", id, err)
	}
	if c := s.caches.Markets; c != nil {
		if err := c.Set(ctx, m); err != nil {
			s.logger.WarnContext(ctx, "market cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return m, nil
}

// cacheMiss logs cache failures other than a plain miss.
func (s *MarketService) cacheMiss(ctx context.Context, msg, id string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	s.logger.WarnContext(ctx, msg,
		slog.String("market_id", id),
		slog.String("error", err.Error()),
	)
}

// ListActive returns active markets, newest first.
func (s *MarketService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list active: %w", err)
	}
	return markets, nil
}

// Quote returns the market's current quote, served from the price cache when
// present and recomputed from the store otherwise.
func (s *MarketService) Quote(ctx context.Context, id string) (domain.Quote, error) {
	if c := s.caches.Prices; c != nil {
		q, err := c.GetQuote(ctx, id)
		if err == nil {
			return q, nil
		}
		s.cacheMiss(ctx, "price cache get failed", id, err)
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("market_service: quote %q: %w", id, err)
	}
	q, err := pricing.QuoteMarket(m, s.now())
	if err != nil {
		return domain.Quote{}, fmt.Errorf("market_service: quote %q: %w", id, err)
	}

	if c := s.caches.Prices; c != nil {
		if err := c.SetQuote(ctx, q); err != nil {
			s.logger.WarnContext(ctx, "price cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return q, nil
}

// Depth aggregates the resting orders of an order-book market into up to
// levels price levels per queue.
func (s *MarketService) Depth(ctx context.Context, id string, levels int) (book.Depth, error) {
	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return book.Depth{}, fmt.Errorf("market_service: depth %q: %w", id, err)
	}
	if m.Mode != domain.PricingModeOrderBook {
		return book.Depth{}, fmt.Errorf("market_service: depth %q: %w", id, domain.ErrWrongPricingMode)
	}
	if c := s.caches.Depth; c != nil {
		d, err := c.GetDepth(ctx, id, levels)
		if err == nil {
			return d, nil
		}
		s.cacheMiss(ctx, "depth cache get failed", id, err)
	}

	resting, err := s.orders.ListResting(ctx, id)
	if err != nil {
		return book.Depth{}, fmt.Errorf("market_service: depth %q: %w", id, err)
	}
	d := book.FromOrders(resting).Depth(levels)
	if c := s.caches.Depth; c != nil {
		if err := c.SetDepth(ctx, id, levels, d); err != nil {
			s.logger.WarnContext(ctx, "depth cache set failed",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return d, nil
}

// ListTrades returns a market's trade history, newest first.
func (s *MarketService) ListTrades(ctx context.Context, id string, opts domain.ListOpts) ([]domain.Trade, error) {
	trades, err := s.trades.ListByMarket(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list trades %q: %w", id, err)
	}
	return trades, nil
}

package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictbook/internal/book"
	"github.com/alanyoungcy/predictbook/internal/domain"
	"github.com/alanyoungcy/predictbook/internal/pricing"
)

// Event types published on the signal bus.
const (
	EventOrderPlaced  = "order_placed"
	EventOrderRetired = "order_retired"
	EventTrade        = "trade"
	EventAMMBuy       = "amm_buy"
)

// Event is the JSON envelope written to every bus channel.
type Event struct {
	Type     string    `json:"event"`
	MarketID string    `json:"market_id"`
	Data     any       `json:"data"`
	At       time.Time `json:"at"`
}

// Sinks are the optional destinations of post-commit side effects. A nil
// field is skipped.
type Sinks struct {
	Bus     domain.SignalBus
	Prices  domain.PriceCache
	Audit   domain.AuditStore
	Markets domain.MarketCache
	Depth   DepthCache
}

// DepthCache holds aggregated book depth per market and level count.
type DepthCache interface {
	GetDepth(ctx context.Context, marketID string, levels int) (book.Depth, error)
	SetDepth(ctx context.Context, marketID string, levels int, d book.Depth) error
	Invalidate(ctx context.Context, marketID string) error
}

// sinks fans side effects out to Sinks. Failures are logged, never
// returned: the transaction has already committed.
type sinks struct {
	Sinks
	logger *slog.Logger
	now    func() time.Time
}

func (s sinks) publish(ctx context.Context, channel string, evt Event) {
	if s.Bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed",
			slog.String("event", evt.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.Bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed",
			slog.String("channel", channel),
			slog.String("event", evt.Type),
			slog.String("error", err.Error()),
		)
	}
	if channel != domain.ChannelTrades {
		return
	}
	if err := s.Bus.StreamAppend(ctx, domain.StreamTrades, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed",
			slog.String("stream", domain.StreamTrades),
			slog.String("error", err.Error()),
		)
	}
}

// refresh pushes the committed market state into the caches: the quote is
// recomputed, the market snapshot replaced and cached depth dropped.
func (s sinks) refresh(ctx context.Context, m domain.Market, quote bool) {
	warn := func(msg string, err error) {
		s.logger.WarnContext(ctx, msg,
			slog.String("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	if quote && s.Prices != nil {
		if q, err := pricing.QuoteMarket(m, s.now()); err != nil {
			warn("quote market failed", err)
		} else if err := s.Prices.SetQuote(ctx, q); err != nil {
			warn("price cache set failed", err)
		}
	}
	if s.Markets != nil {
		if err := s.Markets.Set(ctx, m); err != nil {
			warn("market cache set failed", err)
		}
	}
	if s.Depth != nil && m.Mode == domain.PricingModeOrderBook {
		if err := s.Depth.Invalidate(ctx, m.ID); err != nil {
			warn("depth cache invalidate failed", err)
		}
	}
}

func (s sinks) log(ctx context.Context, event string, detail map[string]any) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

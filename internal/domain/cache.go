package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a market's implied probabilities and display prices at a point
// in time.
type Quote struct {
	MarketID string          `json:"market_id"`
	Mode     PricingMode     `json:"mode"`
	ProbA    float64         `json:"prob_a"`
	ProbB    float64         `json:"prob_b"`
	PriceA   decimal.Decimal `json:"price_a"`
	PriceB   decimal.Decimal `json:"price_b"`
	AsOf     time.Time       `json:"as_of"`
}

// PriceCache provides fast access to the latest market quotes.
type PriceCache interface {
	SetQuote(ctx context.Context, q Quote) error
	GetQuote(ctx context.Context, marketID string) (Quote, error)
	GetQuotes(ctx context.Context, marketIDs []string) (map[string]Quote, error)
}

// MarketCache holds short-lived market snapshots for reads. The store stays
// the source of truth.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelTrades = "trades"
	ChannelOrders = "orders"
	ChannelAMM    = "amm"
	StreamTrades  = "stream:trades"
)

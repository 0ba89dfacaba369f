package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/predictbook/internal/domain"
)

// DefaultQuoteTTL bounds how long a quote survives without a refresh.
const DefaultQuoteTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's quote is stored at "quote:{marketID}" with fields
// mode, prob_a, prob_b, price_a, price_b and ts (Unix nanoseconds).
type PriceCache struct {
	rdb  *redis.Client
	keys keyer
	ttl  time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. A
// non-positive ttl uses DefaultQuoteTTL.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultQuoteTTL
	}
	return &PriceCache{rdb: c.Underlying(), keys: c.keyer(), ttl: ttl}
}

func quoteFields(q domain.Quote) map[string]any {
	return map[string]any{
		"mode":    string(q.Mode),
		"prob_a":  strconv.FormatFloat(q.ProbA, 'f', -1, 64),
		"prob_b":  strconv.FormatFloat(q.ProbB, 'f', -1, 64),
		"price_a": q.PriceA.String(),
		"price_b": q.PriceB.String(),
		"ts":      strconv.FormatInt(q.AsOf.UnixNano(), 10),
	}
}

// parseQuote rebuilds a quote from its hash. An empty hash is
// domain.ErrNotFound.
func parseQuote(marketID string, vals map[string]string) (domain.Quote, error) {
	if len(vals) == 0 {
		return domain.Quote{}, domain.ErrNotFound
	}
	q := domain.Quote{MarketID: marketID, Mode: domain.PricingMode(vals["mode"])}

	var err error
	if q.ProbA, err = strconv.ParseFloat(vals["prob_a"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("parse prob_a: %w", err)
	}
	if q.ProbB, err = strconv.ParseFloat(vals["prob_b"], 64); err != nil {
		return domain.Quote{}, fmt.Errorf("parse prob_b: %w", err)
	}
	if q.PriceA, err = decimal.NewFromString(vals["price_a"]); err != nil {
		return domain.Quote{}, fmt.Errorf("parse price_a: %w", err)
	}
	if q.PriceB, err = decimal.NewFromString(vals["price_b"]); err != nil {
		return domain.Quote{}, fmt.Errorf("parse price_b: %w", err)
	}
	ts, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse ts: %w", err)
	}
	q.AsOf = time.Unix(0, ts).UTC()
	return q, nil
}

// SetQuote stores the market's latest quote and refreshes its TTL.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.Quote) error {
	key := pc.keys.key("quote", q.MarketID)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, quoteFields(q))
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.MarketID, err)
	}
	return nil
}

// GetQuote returns the cached quote, or domain.ErrNotFound.
func (pc *PriceCache) GetQuote(ctx context.Context, marketID string) (domain.Quote, error) {
	vals, err := pc.rdb.HGetAll(ctx, pc.keys.key("quote", marketID)).Result()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}
	q, err := parseQuote(marketID, vals)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}
	return q, nil
}

// GetQuotes fetches several quotes in one pipeline. Missing or unreadable
// entries are omitted.
func (pc *PriceCache) GetQuotes(ctx context.Context, marketIDs []string) (map[string]domain.Quote, error) {
	if len(marketIDs) == 0 {
		return map[string]domain.Quote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, pc.keys.key("quote", id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.Quote, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil {
			continue
		}
		q, err := parseQuote(id, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}
	return result, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)

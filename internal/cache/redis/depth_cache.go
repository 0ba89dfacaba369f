package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predictbook/internal/book"
	"github.com/alanyoungcy/predictbook/internal/domain"
)

// DefaultDepthTTL caps staleness if an invalidation is ever lost.
const DefaultDepthTTL = 5 * time.Second

// DepthCache stores aggregated book depth per market.
//
// Key schema:
//
//	depth:{marketID} - hash; field = level count, value = JSON book.Depth
//
// Invalidate drops the whole hash, so every level count is recomputed after
// the market's book changes.
type DepthCache struct {
	rdb  *redis.Client
	keys keyer
	ttl  time.Duration
}

// NewDepthCache creates a DepthCache backed by the given Client.
func NewDepthCache(c *Client, ttl time.Duration) *DepthCache {
	if ttl <= 0 {
		ttl = DefaultDepthTTL
	}
	return &DepthCache{rdb: c.Underlying(), keys: c.keyer(), ttl: ttl}
}

func (dc *DepthCache) GetDepth(ctx context.Context, marketID string, levels int) (book.Depth, error) {
	data, err := dc.rdb.HGet(ctx, dc.keys.key("depth", marketID), strconv.Itoa(levels)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return book.Depth{}, domain.ErrNotFound
		}
		return book.Depth{}, fmt.Errorf("redis: get depth %s: %w", marketID, err)
	}
	var d book.Depth
	if err := json.Unmarshal(data, &d); err != nil {
		return book.Depth{}, fmt.Errorf("redis: unmarshal depth %s: %w", marketID, err)
	}
	return d, nil
}

func (dc *DepthCache) SetDepth(ctx context.Context, marketID string, levels int, d book.Depth) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("redis: marshal depth %s: %w", marketID, err)
	}
	key := dc.keys.key("depth", marketID)
	pipe := dc.rdb.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(levels), data)
	pipe.Expire(ctx, key, dc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set depth %s: %w", marketID, err)
	}
	return nil
}

func (dc *DepthCache) Invalidate(ctx context.Context, marketID string) error {
	if err := dc.rdb.Del(ctx, dc.keys.key("depth", marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate depth %s: %w", marketID, err)
	}
	return nil
}

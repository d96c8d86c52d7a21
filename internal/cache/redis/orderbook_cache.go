package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suhyunle/coin-trader/internal/domain"
)

const bookTTL = 5 * time.Minute

// OrderbookCache implements domain.OrderbookCache. The exchange pushes whole
// snapshots, so each one replaces the previous atomically.
//
// Key schema:
//
//	{prefix}book:{market}      - JSON snapshot
//	{prefix}book:{market}:bbo  - hash with "bid" and "ask"
type OrderbookCache struct {
	c *Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{c: c}
}

// SetSnapshot replaces the snapshot and best bid/offer for market.
func (oc *OrderbookCache) SetSnapshot(ctx context.Context, market string, snap domain.OrderbookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal orderbook %s: %w", market, err)
	}
	bookKey := oc.c.key("book", market)
	bboKey := oc.c.key("book", market, "bbo")

	pipe := oc.c.rdb.TxPipeline()
	pipe.Set(ctx, bookKey, data, bookTTL)
	pipe.Del(ctx, bboKey)
	pipe.HSet(ctx, bboKey, bboFields(snap))
	pipe.Expire(ctx, bboKey, bookTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set orderbook snapshot %s: %w", market, err)
	}
	return nil
}

func bboFields(snap domain.OrderbookSnapshot) map[string]any {
	return map[string]any{
		"bid": strconv.FormatFloat(snap.BestBid(), 'f', -1, 64),
		"ask": strconv.FormatFloat(snap.BestAsk(), 'f', -1, 64),
	}
}

// GetSnapshot returns the cached snapshot, or domain.ErrNotFound.
func (oc *OrderbookCache) GetSnapshot(ctx context.Context, market string) (domain.OrderbookSnapshot, error) {
	data, err := oc.c.rdb.Get(ctx, oc.c.key("book", market)).Bytes()
	if err == redis.Nil {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get orderbook %s: %w", market, err)
	}
	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: unmarshal orderbook %s: %w", market, err)
	}
	return snap, nil
}

// GetBBO returns the best bid and ask, or domain.ErrNotFound.
func (oc *OrderbookCache) GetBBO(ctx context.Context, market string) (bestBid, bestAsk float64, err error) {
	vals, err := oc.c.rdb.HGetAll(ctx, oc.c.key("book", market, "bbo")).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", market, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	bestBid, _ = strconv.ParseFloat(vals["bid"], 64)
	bestAsk, _ = strconv.ParseFloat(vals["ask"], 64)
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)

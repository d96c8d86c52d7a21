package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suhyunle/coin-trader/internal/domain"
)

// priceTTL expires a price that stopped updating, so readers see
// ErrNotFound instead of a stale quote.
const priceTTL = 10 * time.Minute

// PriceCache implements domain.PriceCache with one hash per market holding
// "price" and "ts" (Unix milliseconds).
type PriceCache struct {
	c *Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{c: c}
}

// SetPrice stores the latest trade price for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, market string, price float64, ts time.Time) error {
	key := pc.c.key("price", market)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixMilli(), 10),
	})
	pipe.Expire(ctx, key, priceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", market, err)
	}
	return nil
}

// GetPrice returns the latest price, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, market string) (float64, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("price", market)).Result()
	if err != nil && err != redis.Nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", market, err)
	}
	return parsePrice(market, vals)
}

func parsePrice(market string, vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", market, err)
	}
	tsMillis, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", market, err)
	}
	return price, time.UnixMilli(tsMillis).UTC(), nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

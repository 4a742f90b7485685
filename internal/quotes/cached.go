package quotes

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PriceCache stores recently fetched prices
type PriceCache interface {
	SetStockPrice(ctx context.Context, symbol string, price decimal.Decimal, ttl time.Duration) error
	GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// CachedClient serves prices from a short-lived cache before asking the upstream client.
// Cache failures are logged and otherwise ignored.
type CachedClient struct {
	next  Client
	cache PriceCache
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedClient wraps next with a price cache
func NewCachedClient(next Client, cache PriceCache, ttl time.Duration, log zerolog.Logger) *CachedClient {
	return &CachedClient{
		next:  next,
		cache: cache,
		ttl:   ttl,
		log:   log.With().Str("client", "quote_cache").Logger(),
	}
}

func (c *CachedClient) lookup(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	price, err := c.cache.GetStockPrice(ctx, symbol)
	if err != nil {
		if !isCacheMiss(err) {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Price cache read failed")
		}
		return decimal.Zero, false
	}
	return price, price.IsPositive()
}

func (c *CachedClient) store(ctx context.Context, symbol string, price decimal.Decimal) {
	if err := c.cache.SetStockPrice(ctx, symbol, price, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Price cache write failed")
	}
}

// CurrentPrice returns a cached price when one is fresh
func (c *CachedClient) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = Normalize(symbol)
	if price, ok := c.lookup(ctx, symbol); ok {
		return price, nil
	}

	price, err := c.next.CurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	c.store(ctx, symbol, price)
	return price, nil
}

// LivePrice always asks upstream and refreshes the cached entry
func (c *CachedClient) LivePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = Normalize(symbol)
	price, err := c.next.CurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	c.store(ctx, symbol, price)
	return price, nil
}

// BatchPrices only asks upstream for symbols that are not cached
func (c *CachedClient) BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(symbols))
	var missing []string
	for _, s := range symbols {
		s = Normalize(s)
		if price, ok := c.lookup(ctx, s); ok {
			result[s] = price
			continue
		}
		missing = append(missing, s)
	}
	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := c.next.BatchPrices(ctx, missing)
	for sym, price := range fetched {
		result[sym] = price
		c.store(ctx, sym, price)
	}
	if err != nil && len(result) == 0 {
		return result, err
	}
	return result, nil
}

func isCacheMiss(err error) bool {
	return errors.Is(err, redis.Nil)
}

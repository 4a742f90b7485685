package quotes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/portfolio-tracker/internal/redis"
)

type countingClient struct {
	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	singles int
	batches [][]string
}

func (c *countingClient) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.singles++
	if p, ok := c.prices[symbol]; ok {
		return p, nil
	}
	return decimal.Zero, ErrUnavailable
}

func (c *countingClient) BatchPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, symbols)
	out := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		if p, ok := c.prices[s]; ok {
			out[s] = p
		}
	}
	return out, nil
}

func newCachedTest(t *testing.T) (*CachedClient, *countingClient, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache := redis.NewFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { cache.Close() })

	upstream := &countingClient{prices: map[string]decimal.Decimal{
		"AAPL": decimal.RequireFromString("187.42"),
		"MSFT": decimal.RequireFromString("378.85"),
	}}
	return NewCachedClient(upstream, cache, time.Minute, zerolog.Nop()), upstream, mr
}

func TestCachedClient_CurrentPrice(t *testing.T) {
	c, upstream, mr := newCachedTest(t)
	ctx := context.Background()

	price, err := c.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "187.42", price.String())

	price, err = c.CurrentPrice(ctx, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "187.42", price.String())
	assert.Equal(t, 1, upstream.singles)

	mr.FastForward(2 * time.Minute)
	_, err = c.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, upstream.singles)
}

func TestCachedClient_UnavailableNotCached(t *testing.T) {
	c, upstream, mr := newCachedTest(t)

	_, err := c.CurrentPrice(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, mr.Exists("stock:ZZZZ:price"))
	assert.Equal(t, 1, upstream.singles)
}

func TestCachedClient_BatchOnlyFetchesMisses(t *testing.T) {
	c, upstream, _ := newCachedTest(t)
	ctx := context.Background()

	_, err := c.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)

	prices, err := c.BatchPrices(ctx, []string{"AAPL", "MSFT", "ZZZZ"})
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	require.Len(t, upstream.batches, 1)
	assert.Equal(t, []string{"MSFT", "ZZZZ"}, upstream.batches[0])
}

func TestCachedClient_CacheDown(t *testing.T) {
	c, upstream, mr := newCachedTest(t)
	mr.Close()

	price, err := c.CurrentPrice(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "378.85", price.String())
	assert.Equal(t, 1, upstream.singles)
}

func TestCachedClient_LivePriceSkipsCache(t *testing.T) {
	c, upstream, _ := newCachedTest(t)
	ctx := context.Background()

	_, err := c.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	upstream.mu.Lock()
	upstream.prices["AAPL"] = decimal.RequireFromString("190.00")
	upstream.mu.Unlock()

	price, err := LivePrice(ctx, c, "aapl")
	require.NoError(t, err)
	assert.Equal(t, "190", price.String())
	assert.Equal(t, 2, upstream.singles)

	// the live price replaces the cached one
	price, err = c.CurrentPrice(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "190", price.String())
	assert.Equal(t, 2, upstream.singles)
}

func TestLivePrice_PlainClient(t *testing.T) {
	upstream := &countingClient{prices: map[string]decimal.Decimal{"MSFT": decimal.RequireFromString("378.85")}}

	price, err := LivePrice(context.Background(), upstream, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "378.85", price.String())
	assert.Equal(t, 1, upstream.singles)
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

const (
	// TicksChannel carries batches of live ticks
	TicksChannel = "portfolio:ticks"
	// EventsChannel carries portfolio and refresh events
	EventsChannel = "portfolio:events"
)

// Client wraps the Redis client with portfolio-specific operations
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis client
func New(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks if Redis is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Quote price caching operations

func priceKey(symbol string) string {
	return fmt.Sprintf("stock:%s:price", symbol)
}

// SetStockPrice caches a stock price with TTL
func (c *Client) SetStockPrice(ctx context.Context, symbol string, price decimal.Decimal, ttl time.Duration) error {
	return c.rdb.Set(ctx, priceKey(symbol), price.String(), ttl).Err()
}

// GetStockPrice retrieves a cached stock price. A cache miss returns redis.Nil.
func (c *Client) GetStockPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, err := c.rdb.Get(ctx, priceKey(symbol)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid cached price for %s: %w", symbol, err)
	}
	return price, nil
}

// IsMiss reports whether err is a cache miss
func IsMiss(err error) bool {
	return err == redis.Nil
}

// Pub/Sub operations for real-time updates

// PublishTicks publishes a batch of ticks to the ticks channel
func (c *Client) PublishTicks(ctx context.Context, ticks []models.Tick) error {
	return c.Publish(ctx, TicksChannel, ticks)
}

// PublishEvent publishes an event payload to the events channel
func (c *Client) PublishEvent(ctx context.Context, event interface{}) error {
	return c.Publish(ctx, EventsChannel, event)
}

// Publish publishes a message to a channel
func (c *Client) Publish(ctx context.Context, channel string, message interface{}) error {
	jsonData, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.rdb.Publish(ctx, channel, jsonData).Err()
}

// Subscribe returns a subscription to a channel
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"github.com/trogers1052/portfolio-tracker/internal/stream"
)

// QuoteMessage is one price update on the quotes topic
type QuoteMessage struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// QuoteSource is a stream.Source backed by a Kafka quotes topic. Messages are
// consumed in the background into a latest-price table that Query returns.
type QuoteSource struct {
	brokers []string
	topic   string
	groupID string
	table   *stream.QuoteTable
	log     zerolog.Logger

	mu     sync.Mutex
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQuoteSource creates a quotes consumer. No connection is made until Connect.
func NewQuoteSource(cfg config.KafkaConfig, log zerolog.Logger) *QuoteSource {
	return &QuoteSource{
		brokers: cfg.Brokers,
		topic:   cfg.QuotesTopic,
		groupID: cfg.ConsumerGroup + "-quotes",
		table:   stream.NewQuoteTable(),
		log:     log.With().Str("component", "kafka_quotes").Logger(),
	}
}

// Connect verifies a broker is reachable and starts consuming. When host is empty
// the configured broker list is used.
func (c *QuoteSource) Connect(ctx context.Context, host string, port int) error {
	brokers := c.brokers
	if host != "" {
		brokers = []string{net.JoinHostPort(host, strconv.Itoa(port))}
	}
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to reach kafka broker %s: %w", brokers[0], err)
	}
	conn.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          c.topic,
		GroupID:        c.groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.LastOffset, // Only read new quotes
		CommitInterval: time.Second,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.reader = reader
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go c.consume(runCtx, reader, done)
	return nil
}

func (c *QuoteSource) consume(ctx context.Context, reader *kafka.Reader, done chan struct{}) {
	defer close(done)

	c.log.Info().Str("topic", c.topic).Msg("Starting Kafka quotes consumer")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("Error reading quotes message")
			continue
		}

		if err := c.processMessage(msg); err != nil {
			c.log.Warn().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("Error processing quotes message")
		}
	}
}

// processMessage applies a single quotes message to the table
func (c *QuoteSource) processMessage(msg kafka.Message) error {
	var q QuoteMessage
	if err := json.Unmarshal(msg.Value, &q); err != nil {
		return fmt.Errorf("failed to unmarshal quote message: %w", err)
	}

	symbol := strings.ToUpper(strings.TrimSpace(q.Symbol))
	if symbol == "" && len(msg.Key) > 0 {
		symbol = strings.ToUpper(string(msg.Key))
	}
	if symbol == "" {
		return fmt.Errorf("quote message has no symbol")
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("invalid price %s for %s", q.Price, symbol)
	}

	c.table.Apply(models.Quote{Symbol: symbol, Price: q.Price})
	return nil
}

// Query returns the latest price per symbol seen on the topic
func (c *QuoteSource) Query(ctx context.Context) ([]models.Quote, error) {
	c.mu.Lock()
	started := c.reader != nil
	c.mu.Unlock()

	if !started {
		return nil, stream.ErrNotConnected
	}
	return c.table.Rows(), nil
}

// Close stops the consumer and closes the reader
func (c *QuoteSource) Close() error {
	c.mu.Lock()
	reader, cancel, done := c.reader, c.cancel, c.done
	c.reader, c.cancel = nil, nil
	c.mu.Unlock()

	if reader == nil {
		return nil
	}
	cancel()
	<-done
	return reader.Close()
}

package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/portfolio-tracker/internal/events"
)

const eventSource = "portfolio-tracker"

// PortfolioEvent is the envelope written to the events topic
type PortfolioEvent struct {
	EventType string       `json:"event_type"`
	Source    string       `json:"source"`
	Timestamp string       `json:"timestamp"`
	RunID     string       `json:"run_id,omitempty"`
	Data      events.Event `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Subscriber is the event source drained by Run
type Subscriber interface {
	Subscribe(buffer int) <-chan events.Event
	Unsubscribe(ch <-chan events.Event)
}

// Producer publishes holding changes and refresh outcomes to Kafka
type Producer struct {
	writer messageWriter
	topic  string
	log    zerolog.Logger
}

// NewProducer creates a producer for the events topic
func NewProducer(brokers []string, topic string, log zerolog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Producer{
		writer: writer,
		topic:  topic,
		log:    log.With().Str("component", "kafka_producer").Logger(),
	}
}

// Publish writes one event keyed by symbol or run id
func (p *Producer) Publish(ctx context.Context, e events.Event) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	payload, err := json.Marshal(PortfolioEvent{
		EventType: eventType(e.Type),
		Source:    eventSource,
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		RunID:     e.RunID,
		Data:      e,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Key()), Value: payload}); err != nil {
		return fmt.Errorf("failed to write event to %s: %w", p.topic, err)
	}
	return nil
}

// Run forwards bus events until ctx is done. Per-holding refresh progress and
// tick deliveries stay local.
func (p *Producer) Run(ctx context.Context, bus Subscriber) {
	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)

	p.log.Info().Str("topic", p.topic).Msg("Starting Kafka events producer")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("Events producer shutting down...")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !forwarded(e.Type) {
				continue
			}
			if err := p.Publish(ctx, e); err != nil && ctx.Err() == nil {
				p.log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to publish event")
			}
		}
	}
}

// Close flushes pending messages and closes the writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

func forwarded(t events.Type) bool {
	switch t {
	case events.RefreshProgress, events.TicksDelivered:
		return false
	}
	return true
}

// eventType renders "holding.added" as "HOLDING_ADDED"
func eventType(t events.Type) string {
	return strings.ToUpper(strings.ReplaceAll(string(t), ".", "_"))
}

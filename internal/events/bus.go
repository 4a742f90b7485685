package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBuffer is the subscriber channel size used when Subscribe is given zero
const DefaultBuffer = 64

// Bus fans events out to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[<-chan Event]chan Event
	log         zerolog.Logger
}

// NewBus creates an empty bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[<-chan Event]chan Event),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a new subscriber
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subscribers[ch] = ch
	n := len(b.subscribers)
	b.mu.Unlock()

	b.log.Debug().Int("total_subscribers", n).Msg("Subscriber added")
	return ch
}

// Unsubscribe removes a subscriber and closes its channel
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	send, ok := b.subscribers[ch]
	if !ok {
		return
	}
	delete(b.subscribers, ch)
	close(send)

	b.log.Debug().Int("total_subscribers", len(b.subscribers)).Msg("Subscriber removed")
}

// Publish delivers e to every subscriber with room in its buffer
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			b.log.Warn().Str("event_type", string(e.Type)).Msg("Subscriber channel full, event dropped")
		}
	}
}

// Subscribers returns the current subscriber count
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

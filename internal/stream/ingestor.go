package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/trogers1052/portfolio-tracker/internal/config"
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"github.com/trogers1052/portfolio-tracker/internal/models"
)

const connectTimeout = 10 * time.Second

// TickPublisher forwards delivered ticks to an external channel
type TickPublisher interface {
	PublishTicks(ctx context.Context, ticks []models.Tick) error
}

// Publisher receives tick delivery events
type Publisher interface {
	Publish(e events.Event)
}

type delivery struct {
	ticks []models.Tick
	done  chan struct{}
}

// Ingestor polls a Source on a fixed interval and delivers the resulting ticks to a
// Feed. Polling and delivery run on separate goroutines; a cycle's delivery
// finishes before the next cycle queries the source.
type Ingestor struct {
	source    Source
	feed      *Feed
	bus       Publisher
	publisher TickPublisher
	host      string
	port      int
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time

	mu       sync.Mutex
	starting bool
	running  bool
	active   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewIngestor creates an ingestor. bus and publisher may be nil.
func NewIngestor(source Source, feed *Feed, bus Publisher, publisher TickPublisher, cfg config.StreamConfig, log zerolog.Logger) *Ingestor {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Ingestor{
		source:    source,
		feed:      feed,
		bus:       bus,
		publisher: publisher,
		host:      cfg.Host,
		port:      cfg.Port,
		interval:  interval,
		log:       log.With().Str("component", "tick_ingestor").Logger(),
		now:       time.Now,
	}
}

// Start connects to the source and begins polling. A failed connection leaves the
// ingestor inactive and is not an error: prices then come only from refresh runs.
func (in *Ingestor) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.running || in.starting {
		in.mu.Unlock()
		return nil
	}
	in.starting = true
	in.mu.Unlock()

	connectCtx, cancelConnect := context.WithTimeout(ctx, connectTimeout)
	err := in.source.Connect(connectCtx, in.host, in.port)
	cancelConnect()

	in.mu.Lock()
	defer in.mu.Unlock()
	in.starting = false

	if err != nil {
		in.log.Warn().Err(err).
			Str("host", in.host).
			Int("port", in.port).
			Msg("Streaming source unavailable, live ticks disabled")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	in.cancel = cancel
	in.running = true
	in.active = true

	deliveries := make(chan delivery)
	in.wg.Add(2)
	go in.poll(runCtx, deliveries)
	go in.deliver(runCtx, deliveries)

	in.log.Info().
		Str("host", in.host).
		Int("port", in.port).
		Dur("interval", in.interval).
		Msg("Tick ingestion started")
	return nil
}

// Stop terminates polling and delivery and closes the source
func (in *Ingestor) Stop() {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	in.running = false
	in.active = false
	in.cancel()
	in.mu.Unlock()

	in.wg.Wait()
	if err := in.source.Close(); err != nil {
		in.log.Warn().Err(err).Msg("Failed to close streaming source")
	}
	in.log.Info().Msg("Tick ingestion stopped")
}

// Active reports whether the ingestor is connected and polling. It turns false
// once the source reports it has lost its connection.
func (in *Ingestor) Active() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.active
}

// disconnected marks the ingestor inactive after the source dropped
func (in *Ingestor) disconnected(err error) {
	in.mu.Lock()
	in.active = false
	in.mu.Unlock()

	metrics.StreamErrors.Inc()
	in.log.Warn().Err(err).Msg("Streaming source disconnected, live ticks disabled")
}

func (in *Ingestor) poll(ctx context.Context, deliveries chan<- delivery) {
	defer in.wg.Done()

	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ticks, err := in.cycle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, ErrNotConnected) {
				in.disconnected(err)
				return
			}
			metrics.StreamErrors.Inc()
			in.log.Warn().Err(err).Msg("Stream poll cycle failed")
			continue
		}
		if len(ticks) == 0 {
			continue
		}

		d := delivery{ticks: ticks, done: make(chan struct{})}
		select {
		case deliveries <- d:
		case <-ctx.Done():
			return
		}
		select {
		case <-d.done:
		case <-ctx.Done():
			return
		}
	}
}

// cycle runs one query and stamps each row with the capture time
func (in *Ingestor) cycle(ctx context.Context) ([]models.Tick, error) {
	rows, err := in.source.Query(ctx)
	if err != nil {
		return nil, err
	}

	at := in.now()
	ticks := make([]models.Tick, 0, len(rows))
	for _, q := range rows {
		if q.Symbol == "" || !q.Price.IsPositive() {
			continue
		}
		ticks = append(ticks, models.NewTick(q, at))
	}
	return ticks, nil
}

func (in *Ingestor) deliver(ctx context.Context, deliveries <-chan delivery) {
	defer in.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-deliveries:
			in.feed.Append(d.ticks)
			metrics.TicksIngested.Add(float64(len(d.ticks)))

			if in.bus != nil {
				in.bus.Publish(events.Event{Type: events.TicksDelivered, Ticks: d.ticks})
			}
			if in.publisher != nil {
				if err := in.publisher.PublishTicks(ctx, d.ticks); err != nil && ctx.Err() == nil {
					in.log.Warn().Err(err).Int("ticks", len(d.ticks)).Msg("Failed to publish ticks")
				}
			}
			close(d.done)

			in.log.Debug().Int("ticks", len(d.ticks)).Int("feed_size", in.feed.Len()).Msg("Ticks delivered")
		}
	}
}

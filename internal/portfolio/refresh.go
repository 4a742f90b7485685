package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/portfolio-tracker/internal/events"
	"github.com/trogers1052/portfolio-tracker/internal/metrics"
	"github.com/trogers1052/portfolio-tracker/internal/quotes"
)

const (
	summaryLimit = 300

	reasonTransport = "Unable to reach the quote service. Check your connection."
	reasonCancelled = "Price refresh cancelled."
)

// RunResult is the terminal outcome of a refresh run
type RunResult struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Succeeded  bool      `json:"succeeded"`
	Updated    int       `json:"updated"`
	Attempted  int       `json:"attempted"`
	Summary    string    `json:"summary,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// target is one Holding as enumerated at the start of a run
type target struct {
	id     int
	symbol string
}

// run accumulates the state of one refresh run
type run struct {
	id        string
	total     int
	attempted int
	updated   int
	transport int
	cancelled bool
	summary   strings.Builder
}

func (r *run) note(symbol string, oldPrice, newPrice decimal.Decimal) {
	if r.summary.Len() >= summaryLimit {
		return
	}
	fmt.Fprintf(&r.summary, "%s: $%s → $%s  ", symbol, oldPrice.StringFixed(2), newPrice.StringFixed(2))
}

// RefreshAll starts a background run that refreshes every Holding's price. It returns
// the run id immediately. Progress and the terminal outcome are published on the bus.
// The run stops early when ctx is done or the service is closed.
func (s *Service) RefreshAll(ctx context.Context) (string, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if s.running {
		return "", ErrRefreshInProgress
	}

	s.mu.RLock()
	targets := make([]target, len(s.holdings))
	for i, h := range s.holdings {
		targets[i] = target{id: h.ID, symbol: quotes.Normalize(h.Symbol)}
	}
	s.mu.RUnlock()

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{id: uuid.NewString(), total: len(targets)}
	s.running = true
	s.cancel = cancel
	metrics.RefreshRunning.Set(1)

	s.log.Info().Str("run_id", r.id).Str("mode", s.opts.Mode).Int("holdings", r.total).Msg("Price refresh started")
	s.bus.Publish(events.Event{Type: events.RefreshStarted, RunID: r.id})

	started := s.now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		if s.opts.Mode == ModeBatch {
			s.refreshBatches(runCtx, r, targets)
		} else {
			s.refreshEach(runCtx, r, targets)
		}
		s.finish(r, started)
	}()

	return r.id, nil
}

// refreshEach looks up one symbol at a time with a pacing delay after each Holding
func (s *Service) refreshEach(ctx context.Context, r *run, targets []target) {
	for i, t := range targets {
		if ctx.Err() != nil {
			r.cancelled = true
			return
		}

		r.attempted++
		price, err := s.quotes.CurrentPrice(context.WithoutCancel(ctx), t.symbol)
		if ctx.Err() != nil {
			r.cancelled = true
			return
		}
		if err != nil {
			if errors.Is(err, quotes.ErrTransport) {
				r.transport++
			}
			s.log.Debug().Err(err).Str("symbol", t.symbol).Msg("No price, keeping prior value")
		} else {
			s.applyPrice(r, t, price)
		}

		if i < len(targets)-1 && !s.sleep(ctx, s.opts.Pacing) {
			r.cancelled = true
			return
		}
	}
}

// refreshBatches looks up symbols in chunks with a delay between chunks
func (s *Service) refreshBatches(ctx context.Context, r *run, targets []target) {
	bySymbol := make(map[string][]target)
	symbols := make([]string, 0, len(targets))
	for _, t := range targets {
		bySymbol[t.symbol] = append(bySymbol[t.symbol], t)
		symbols = append(symbols, t.symbol)
	}

	chunks := quotes.Chunk(symbols, s.opts.BatchSize)
	for i, chunk := range chunks {
		if ctx.Err() != nil {
			r.cancelled = true
			return
		}

		n := 0
		for _, sym := range chunk {
			n += len(bySymbol[sym])
		}
		r.attempted += n

		prices, err := s.quotes.BatchPrices(context.WithoutCancel(ctx), chunk)
		if ctx.Err() != nil {
			r.cancelled = true
			return
		}
		if err != nil {
			if errors.Is(err, quotes.ErrTransport) {
				r.transport += n
			}
			s.log.Warn().Err(err).Int("symbols", len(chunk)).Msg("Batch lookup failed")
		}

		for _, sym := range chunk {
			price, ok := prices[sym]
			if !ok {
				continue
			}
			for _, t := range bySymbol[sym] {
				s.applyPrice(r, t, price)
			}
		}

		if i < len(chunks)-1 && !s.sleep(ctx, s.opts.BatchDelay) {
			r.cancelled = true
			return
		}
	}
}

// applyPrice sets and persists one Holding's price before the run moves on.
// A Holding removed since the run started is skipped.
func (s *Service) applyPrice(r *run, t target, price decimal.Decimal) {
	price = roundPrice(price)
	if !price.IsPositive() {
		return
	}

	s.mu.Lock()
	i, h := s.find(t.id)
	if h == nil {
		s.mu.Unlock()
		return
	}

	old := h.CurrentPrice
	at := s.now()
	c := h.Clone()
	c.SetPrice(price, at)
	c.UpdatedAt = at
	if err := s.store.UpdateHolding(c); err != nil {
		s.mu.Unlock()
		s.log.Error().Err(err).Int("id", t.id).Str("symbol", t.symbol).Msg("Failed to persist refreshed price")
		return
	}
	s.holdings[i] = c
	s.mu.Unlock()

	r.updated++
	r.note(c.Symbol, old, price)
	metrics.PriceUpdates.Inc()

	s.bus.Publish(events.Event{
		Type:    events.RefreshProgress,
		RunID:   r.id,
		Holding: c.Clone(),
		Progress: &events.Progress{
			HoldingID: t.id,
			Symbol:    c.Symbol,
			OldPrice:  old,
			NewPrice:  price,
			Updated:   r.updated,
			Attempted: r.attempted,
			Total:     r.total,
		},
	})
}

// finish records the terminal outcome and releases the run slot
func (s *Service) finish(r *run, started time.Time) {
	result := &RunResult{
		RunID:      r.id,
		Mode:       s.opts.Mode,
		StartedAt:  started,
		FinishedAt: s.now(),
		Updated:    r.updated,
		Attempted:  r.attempted,
		Summary:    strings.TrimSpace(r.summary.String()),
	}

	switch {
	case r.cancelled:
		result.Reason = reasonCancelled
	case r.updated == 0 && r.attempted > 0 && r.transport == r.attempted:
		result.Reason = reasonTransport
	default:
		result.Succeeded = true
	}

	s.runMu.Lock()
	s.running = false
	s.cancel = nil
	s.lastRun = result
	s.runMu.Unlock()
	metrics.RefreshRunning.Set(0)

	e := events.Event{
		RunID: r.id,
		Outcome: &events.Outcome{
			Updated:   result.Updated,
			Attempted: result.Attempted,
			Summary:   result.Summary,
			Reason:    result.Reason,
		},
	}
	log := s.log.Info().
		Str("run_id", r.id).
		Int("updated", result.Updated).
		Int("attempted", result.Attempted).
		Dur("elapsed", result.FinishedAt.Sub(started))
	if result.Succeeded {
		e.Type = events.RefreshSucceeded
		metrics.RefreshRuns.WithLabelValues("succeeded").Inc()
		log.Msg("Price refresh finished")
	} else {
		e.Type = events.RefreshFailed
		metrics.RefreshRuns.WithLabelValues("failed").Inc()
		log.Str("reason", result.Reason).Msg("Price refresh failed")
	}
	s.bus.Publish(e)
}

// sleep waits for d unless ctx is done first
func (s *Service) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Running reports whether a refresh run is active
func (s *Service) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

// LastRun returns the outcome of the most recent finished run, or nil
func (s *Service) LastRun() *RunResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.lastRun == nil {
		return nil
	}
	r := *s.lastRun
	return &r
}

// Close cancels a running refresh and waits for it to stop. Further
// refresh requests fail with ErrClosed.
func (s *Service) Close() {
	s.runMu.Lock()
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.runMu.Unlock()

	s.wg.Wait()
}

// Package scheduler triggers periodic price refresh runs.
package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/trogers1052/portfolio-tracker/internal/portfolio"
)

// Refresher starts a refresh run
type Refresher interface {
	RefreshAll(ctx context.Context) (string, error)
}

// Scheduler runs refreshes on a cron schedule
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  zerolog.Logger
}

// New creates a scheduler. Runs it starts are bound to ctx.
func New(ctx context.Context, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		))),
		ctx: ctx,
		log: log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop stops the scheduler and waits for a firing job to return
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddRefresh registers a refresh on schedule. Schedule examples:
//   - "@every 5m"
//   - "0 */15 9-16 * * MON-FRI"
//   - "30 16 * * MON-FRI"
//
// A trigger that lands while a run is active is skipped.
func (s *Scheduler) AddRefresh(schedule string, r Refresher) error {
	_, err := s.cron.AddFunc(schedule, func() { s.trigger(r) })
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Msg("Price refresh scheduled")
	return nil
}

func (s *Scheduler) trigger(r Refresher) {
	runID, err := r.RefreshAll(s.ctx)
	switch {
	case errors.Is(err, portfolio.ErrRefreshInProgress):
		s.log.Debug().Msg("Refresh already running, skipping scheduled run")
	case err != nil:
		s.log.Error().Err(err).Msg("Scheduled refresh failed to start")
	default:
		s.log.Debug().Str("run_id", runID).Msg("Scheduled refresh started")
	}
}

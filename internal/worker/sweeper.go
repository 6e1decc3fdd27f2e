package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CompletionSweeper moves elapsed confirmed bookings to completed.
type CompletionSweeper interface {
	SweepCompleted(ctx context.Context) (int, error)
}

// Sweeper runs the completion sweep on a cron schedule with seconds
// precision, e.g. "0 */15 * * * *".
type Sweeper struct {
	cron    *cron.Cron
	target  CompletionSweeper
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewSweeper(target CompletionSweeper, schedule string, loc *time.Location, logger *zerolog.Logger) (*Sweeper, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Sweeper{
		cron:    cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		target:  target,
		timeout: time.Minute,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start sweeps once immediately, then on schedule until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.RunOnce(ctx)
	s.cron.Start()
	s.logger.Info().Msg("completion sweeper started")

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("completion sweeper stopped")
}

// RunOnce performs a single sweep. Safe to call while a scheduled run is in
// progress: only confirmed bookings are touched, each under its version.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.target.SweepCompleted(ctx)
	if err != nil {
		s.logger.Error().Err(err).Int("completed", n).Msg("completion sweep failed")
		return n
	}
	s.logger.Debug().Int("completed", n).Msg("completion sweep done")
	return n
}

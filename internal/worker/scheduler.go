package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"partnerqueue/internal/models"
)

// BatchRunner runs one batch round.
type BatchRunner interface {
	RunBatch(ctx context.Context, limit int, allTenants bool) (models.BatchResult, error)
}

// Waker lets an external signal end the idle wait early.
type Waker interface {
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

type Options struct {
	Interval   time.Duration
	Limit      int
	AllTenants bool
	Retry      RetryPolicy
	// Enabled is checked before every round; nil means always.
	Enabled func(ctx context.Context) bool
	Waker   Waker
}

// Scheduler triggers batch rounds periodically until its context ends.
type Scheduler struct {
	runner BatchRunner
	opts   Options
	logger zerolog.Logger
}

func NewScheduler(runner BatchRunner, opts Options, logger *zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = models.DefaultWorkerIntervalSeconds * time.Second
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy
	}
	s := &Scheduler{runner: runner, opts: opts, logger: zerolog.Nop()}
	if logger != nil {
		s.logger = logger.With().Str("component", "worker").Logger()
	}
	return s
}

// Start runs rounds until ctx is done. A failing round is logged and the next one
// is delayed by the retry policy; the loop never exits on its own.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.opts.Interval).Bool("all_tenants", s.opts.AllTenants).Msg("batch scheduler started")
	defer s.logger.Info().Msg("batch scheduler stopped")

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		delay := s.opts.Interval
		if s.opts.Enabled == nil || s.opts.Enabled(ctx) {
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				failures++
				delay = s.opts.Retry.NextDelay(failures)
				s.logger.Error().Err(err).Int("failures", failures).Dur("retry_in", delay).Msg("batch round failed")
			} else {
				failures = 0
			}
		}

		if !s.wait(ctx, delay) {
			return
		}
	}
}

// RunOnce runs a single round and logs its summary when it pulled anything.
func (s *Scheduler) RunOnce(ctx context.Context) (models.BatchResult, error) {
	started := time.Now()
	res, err := s.runner.RunBatch(ctx, s.opts.Limit, s.opts.AllTenants)
	if res.Pulled > 0 {
		s.logger.Info().
			Int("pulled", res.Pulled).
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Dur("duration", time.Since(started)).
			Msg("batch round completed")
	}
	return res, err
}

// wait sleeps for d or until woken. It returns false once ctx is done.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if s.opts.Waker != nil {
		woke, err := s.opts.Waker.Wait(ctx, d)
		if ctx.Err() != nil {
			return false
		}
		if err == nil {
			if woke {
				s.logger.Debug().Msg("woken by enqueue signal")
			}
			return true
		}
		s.logger.Warn().Err(err).Msg("wake signal unavailable, falling back to timer")
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

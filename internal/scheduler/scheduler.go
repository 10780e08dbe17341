package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// TickFunc is invoked on every scheduled refresh.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour. A non-empty Cron spec replaces Interval.
type Options struct {
	Interval     time.Duration
	Cron         string
	Location     *time.Location
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives periodic refresh jobs.
type Scheduler struct {
	opts     Options
	schedule cron.Schedule
	now      func() time.Time
	logger   zerolog.Logger
}

// New constructs a Scheduler. The cron spec uses the standard five-field syntax
// and is evaluated in opts.Location.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		opts:   opts,
		now:    time.Now,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
	if opts.Location == nil {
		s.opts.Location = time.UTC
	}

	if opts.Cron != "" {
		schedule, err := cron.ParseStandard(opts.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron %q: %w", opts.Cron, err)
		}
		s.schedule = schedule
		return s, nil
	}
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("scheduler interval must be positive")
	}
	return s, nil
}

// Run blocks, invoking tick at each scheduled instant until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.Next(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			next = s.Next(s.now())
			delay = next.Sub(s.now())
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_run", next).Msg("waiting for next refresh")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		bucket := s.bucketStart(next)
		s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")

		if err := tick(ctx, bucket); err != nil {
			s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
		}

		next = s.Next(next)
	}
}

// Next returns the first scheduled instant strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	if s.schedule != nil {
		return s.schedule.Next(t.In(s.opts.Location))
	}
	if !s.opts.AlignToStart {
		return t.Add(s.opts.Interval)
	}
	bucket := t.Truncate(s.opts.Interval)
	if !bucket.After(t) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if s.schedule != nil || !s.opts.AlignToStart {
		return t.Truncate(time.Second)
	}
	return t.Truncate(s.opts.Interval)
}

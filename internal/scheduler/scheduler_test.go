package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextAlignedInterval(t *testing.T) {
	s, err := New(Options{Interval: 6 * time.Hour, AlignToStart: true}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), s.Next(now))

	onBoundary := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC), s.Next(onBoundary))
}

func TestNextUnaligned(t *testing.T) {
	s, err := New(Options{Interval: time.Hour}, zerolog.Nop())
	require.NoError(t, err)
	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Hour), s.Next(now))
}

func TestNextCronInLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	s, err := New(Options{Cron: "0 9 * * 1-5", Location: loc}, zerolog.Nop())
	require.NoError(t, err)

	// Saturday 2026-03-07 10:00 local -> Monday 09:00 local.
	sat := time.Date(2026, 3, 7, 10, 0, 0, 0, loc)
	next := s.Next(sat)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 0, 0, 0, loc), next.In(loc))
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Options{Cron: "not a cron"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ticks atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
			if ticks.Add(1) >= 2 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.GreaterOrEqual(t, ticks.Load(), int32(2))
}

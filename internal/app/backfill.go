package app

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/storage"
)

// Backfill recomputes every watch at monthly as-of dates between From and To.
// Alerts are never sent for historical dates.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	dates := monthlyAsOf(opts.From, opts.To)
	if len(dates) == 0 {
		return errors.New("backfill range is empty, check --from/--to")
	}

	var store storage.Repository
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: snapshots will not be written")
	} else {
		var err error
		store, err = a.openStore(ctx)
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("database.dsn not configured; cannot backfill")
		}
		defer store.Close()
	}

	annualizer, err := a.newAnnualizer()
	if err != nil {
		return err
	}
	refresher, err := a.newRefresher(nil, annualizer, store, nil)
	if err != nil {
		return err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	var processed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, asOf := range dates {
		asOf := asOf
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := refresher.Refresh(gctx, asOf, false); err != nil {
				failed.Add(1)
				a.Logger.Error().Err(err).Time("as_of", asOf).Msg("backfill date failed")
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.Logger.Info().Int64("processed", processed.Load()).Int64("failed", failed.Load()).Int("workers", workers).Msg("backfill finished")
	if failed.Load() > 0 {
		return errors.New("some backfill dates failed, check the logs")
	}
	return nil
}

// monthlyAsOf steps one calendar month at a time from from to to, inclusive,
// keeping the day of month where the calendar allows it.
func monthlyAsOf(from, to time.Time) []time.Time {
	start := rates.StartOfDay(from)
	end := rates.StartOfDay(to)
	var dates []time.Time
	for i := 0; ; i++ {
		d := addMonthsClamped(start, i)
		if d.After(end) {
			return dates
		}
		dates = append(dates, d)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	last := first.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

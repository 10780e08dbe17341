package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-annualizer/internal/alerting"
	"rate-annualizer/internal/config"
	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/scheduler"
	"rate-annualizer/internal/storage"
)

// AsOfAnnualizer is the part of Annualizer the refresher needs.
type AsOfAnnualizer interface {
	AnnualizeAsOf(ctx context.Context, req Request, asOf time.Time) (rates.Annualized, error)
}

// Watch is one configured series/strategy/look-back triple.
type Watch struct {
	Info           rates.SeriesInfo
	Strategy       rates.Strategy
	LookbackMonths int
}

// Key returns the storage key of the watch.
func (w Watch) Key() storage.WatchKey {
	return storage.WatchKey{Series: string(w.Info.ID), Strategy: w.Strategy.Name(), LookbackMonths: w.LookbackMonths}
}

func (w Watch) request() Request {
	return Request{Series: string(w.Info.ID), LookbackMonths: w.LookbackMonths, Strategy: w.Strategy}
}

// ParseWatches resolves configured watches. Strategies that ignore the look-back
// are stored with zero months.
func ParseWatches(cfgs []config.WatchConfig) ([]Watch, error) {
	watches := make([]Watch, 0, len(cfgs))
	for i, c := range cfgs {
		info, err := rates.Lookup(c.Series)
		if err != nil {
			return nil, fmt.Errorf("watch %d: %w", i, err)
		}
		strategy, err := rates.ParseStrategy(c.Strategy)
		if err != nil {
			return nil, fmt.Errorf("watch %d: %w", i, err)
		}
		months := c.LookbackMonths
		if !strategy.UsesLookback() {
			months = 0
		}
		watches = append(watches, Watch{Info: info, Strategy: strategy, LookbackMonths: months})
	}
	return watches, nil
}

// Refresher computes every watch on a schedule, records snapshots, and alerts on
// large moves between consecutive complete snapshots.
type Refresher struct {
	scheduler  *scheduler.Scheduler
	annualizer AsOfAnnualizer
	watches    []Watch
	store      storage.SnapshotStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	threshold decimal.Decimal
	channels  []string
	alertsOn  bool
	retention time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
}

// NewRefresher constructs the refresh service. store, alertStore and notifier may be nil.
func NewRefresher(cfg *config.Config, sched *scheduler.Scheduler, annualizer AsOfAnnualizer, watches []Watch, store storage.SnapshotStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Refresher {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPP > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPP)
	}

	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Refresher{
		scheduler:  sched,
		annualizer: annualizer,
		watches:    watches,
		store:      store,
		alertStore: alertStore,
		notifier:   notifier,
		logger:     logger.With().Str("component", "refresher").Logger(),
		threshold:  threshold,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		retention:  cfg.Alerting.Retention,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
	}
}

// Watches returns the configured watches.
func (r *Refresher) Watches() []Watch {
	return r.watches
}

// Run begins the scheduled refresh loop.
func (r *Refresher) Run(ctx context.Context) error {
	if r.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return r.scheduler.Run(ctx, r.ProcessBucket)
}

// ProcessBucket refreshes all watches for one scheduled instant, alerting enabled.
func (r *Refresher) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		r.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = r.Refresh(ctx, bucket, true)
	r.pruneAlerts(ctx, bucket)
	return err
}

// pruneAlerts drops alert rows older than the configured retention.
func (r *Refresher) pruneAlerts(ctx context.Context, bucket time.Time) {
	if r.alertStore == nil || r.retention <= 0 {
		return
	}
	cutoff := bucket.Add(-r.retention)
	if err := r.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
		r.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune alerts")
	}
}

// Refresh computes every watch as of asOf and persists the snapshots. A failing
// watch is recorded as errored and does not stop the others; the returned error
// joins the individual failures.
func (r *Refresher) Refresh(ctx context.Context, asOf time.Time, alert bool) ([]storage.RateSnapshot, error) {
	snaps := make([]storage.RateSnapshot, 0, len(r.watches))
	var errs []error
	for _, w := range r.watches {
		snap, err := r.refreshWatch(ctx, w, asOf, alert)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", w.Info.ID, w.Strategy.Name(), err))
		}
		snaps = append(snaps, snap)
	}
	return snaps, errors.Join(errs...)
}

func (r *Refresher) refreshWatch(ctx context.Context, w Watch, asOf time.Time, alert bool) (storage.RateSnapshot, error) {
	snap := storage.RateSnapshot{
		AsOf:           asOf,
		Series:         string(w.Info.ID),
		SGSCode:        w.Info.Code,
		Strategy:       w.Strategy.Name(),
		LookbackMonths: w.LookbackMonths,
		CreatedAt:      time.Now().UTC(),
	}

	result, err := r.annualizer.AnnualizeAsOf(ctx, w.request(), asOf)
	if err != nil {
		msg := err.Error()
		snap.Status = storage.StatusErrored
		snap.Error = &msg
		r.persist(ctx, snap)
		r.logger.Warn().Err(err).Time("as_of", asOf).Str("series", snap.Series).Msg("watch refresh failed")
		return snap, err
	}

	value := result.Value
	start, end := result.Start, result.End
	snap.Status = storage.StatusComplete
	snap.Basis = string(result.Basis)
	snap.ValuePct = &value
	snap.PeriodStart = &start
	snap.PeriodEnd = &end
	snap.Observations = result.Observations

	var previous *storage.RateSnapshot
	if alert && r.store != nil {
		prev, ok, err := r.store.LatestSnapshot(ctx, w.Key(), asOf)
		if err != nil {
			r.logger.Error().Err(err).Str("series", snap.Series).Msg("failed to load previous snapshot")
		} else if ok {
			previous = &prev
		}
	}

	r.persist(ctx, snap)
	r.logger.Info().Time("as_of", asOf).
		Str("series", snap.Series).
		Str("strategy", snap.Strategy).
		Str("value_pct", value.StringFixed(4)).
		Msg("snapshot recorded")

	if alert && previous != nil {
		r.evaluateAlert(ctx, w, *previous, snap)
	}
	return snap, nil
}

func (r *Refresher) persist(ctx context.Context, snap storage.RateSnapshot) {
	if r.store == nil {
		return
	}
	if err := r.store.UpsertSnapshot(ctx, snap); err != nil {
		r.logger.Error().Err(err).Time("as_of", snap.AsOf).Str("series", snap.Series).Msg("failed to upsert snapshot")
	}
}

func (r *Refresher) evaluateAlert(ctx context.Context, w Watch, previous, current storage.RateSnapshot) {
	if !r.alertsOn || r.notifier == nil || r.threshold.IsZero() || previous.ValuePct == nil {
		return
	}
	change := current.ValuePct.Sub(*previous.ValuePct)
	if change.Abs().LessThan(r.threshold) {
		return
	}

	direction := alerting.Direction(change)
	note := alerting.Notification{
		AsOf:           current.AsOf,
		Series:         current.Series,
		Code:           current.SGSCode,
		Strategy:       current.Strategy,
		LookbackMonths: current.LookbackMonths,
		Basis:          current.Basis,
		PreviousAsOf:   previous.AsOf,
		PreviousPct:    *previous.ValuePct,
		CurrentPct:     *current.ValuePct,
		ChangePP:       change,
		ThresholdPP:    r.threshold,
		Direction:      direction,
		Channels:       r.channels,
	}
	if r.alertStore != nil {
		record := storage.AlertRecord{
			AsOf:           current.AsOf,
			Series:         current.Series,
			Strategy:       current.Strategy,
			LookbackMonths: current.LookbackMonths,
			PreviousPct:    *previous.ValuePct,
			CurrentPct:     *current.ValuePct,
			ChangePP:       change,
			ThresholdPP:    r.threshold,
			Direction:      direction,
			Channels:       r.channels,
		}
		if _, err := r.alertStore.InsertAlert(ctx, record); err != nil {
			r.logger.Error().Err(err).Str("series", current.Series).Msg("failed to persist alert record")
		}
	}
	if err := r.notifier.Notify(ctx, note); err != nil {
		r.logger.Error().Err(err).Str("series", current.Series).Msg("failed to dispatch alert")
	}
}

func (r *Refresher) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.lockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

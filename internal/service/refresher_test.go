package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rate-annualizer/internal/alerting"
	"rate-annualizer/internal/config"
	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/storage"
)

// scriptedAnnualizer answers each series with a fixed value per as-of day.
type scriptedAnnualizer struct {
	values map[string]map[time.Time]string
	fail   map[string]error
}

func (s *scriptedAnnualizer) AnnualizeAsOf(_ context.Context, req Request, asOf time.Time) (rates.Annualized, error) {
	if err := s.fail[req.Series]; err != nil {
		return rates.Annualized{}, err
	}
	info := rates.MustLookup(rates.SeriesID(req.Series))
	return rates.Annualized{
		Series:       info.ID,
		Code:         info.Code,
		Strategy:     req.Strategy.Name(),
		Basis:        rates.BasisAnnual,
		Value:        decimal.RequireFromString(s.values[req.Series][asOf]),
		Start:        asOf.AddDate(0, -req.LookbackMonths, 0),
		End:          asOf,
		Observations: 250,
		AsOf:         asOf,
	}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func alertingConfig() *config.Config {
	return &config.Config{Alerting: config.AlertingConfig{Enabled: true, ThresholdPP: 0.25, Channels: []string{"telegram"}}}
}

func newRefresherFixture(t *testing.T, annualizer AsOfAnnualizer, watches []config.WatchConfig) (*Refresher, *storage.SQLiteStore, *recordingNotifier) {
	t.Helper()
	store, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	parsed, err := ParseWatches(watches)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	r := NewRefresher(alertingConfig(), nil, annualizer, parsed, store, store, notifier, zerolog.Nop())
	return r, store, notifier
}

func TestRefresherAlertsOnThresholdMove(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day2.AddDate(0, 0, 1)

	ann := &scriptedAnnualizer{values: map[string]map[time.Time]string{
		"cdi": {day1: "14.15", day2: "14.50", day3: "14.60"},
	}}
	r, store, notifier := newRefresherFixture(t, ann, []config.WatchConfig{{Series: "cdi", Strategy: "compounding", LookbackMonths: 12}})
	ctx := context.Background()

	require.NoError(t, r.ProcessBucket(ctx, day1))
	assert.Empty(t, notifier.notes, "first snapshot has nothing to compare against")

	require.NoError(t, r.ProcessBucket(ctx, day2))
	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	assert.Equal(t, "up", note.Direction)
	assert.True(t, note.ChangePP.Equal(decimal.RequireFromString("0.35")))
	assert.Equal(t, day1, note.PreviousAsOf)

	require.NoError(t, r.ProcessBucket(ctx, day3))
	assert.Len(t, notifier.notes, 1, "0.10 pp is below threshold")

	alerts, err := store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{"telegram"}, alerts[0].Channels)

	count, err := store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
}

func TestRefresherRecordsErroredWatch(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ann := &scriptedAnnualizer{
		values: map[string]map[time.Time]string{"cdi": {day: "14.15"}},
		fail:   map[string]error{"ipca": &rates.TransportError{Code: 433, Err: errors.New("timeout")}},
	}
	r, store, _ := newRefresherFixture(t, ann, []config.WatchConfig{
		{Series: "cdi", Strategy: "compounding", LookbackMonths: 12},
		{Series: "ipca", Strategy: "compounding", LookbackMonths: 12},
	})

	snaps, err := r.Refresh(context.Background(), day, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, rates.ErrRateUnavailable)
	require.Len(t, snaps, 2)
	assert.Equal(t, storage.StatusComplete, snaps[0].Status)
	assert.Equal(t, storage.StatusErrored, snaps[1].Status)

	stored, err := store.ListSnapshotsBetween(context.Background(), day, day.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, s := range stored {
		if s.Series == "ipca" {
			require.NotNil(t, s.Error)
			assert.Contains(t, *s.Error, "timeout")
			assert.Nil(t, s.ValuePct)
		}
	}
}

func TestRefresherErroredSnapshotDoesNotBecomeBaseline(t *testing.T) {
	day1 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	day3 := day2.AddDate(0, 0, 1)

	ann := &scriptedAnnualizer{values: map[string]map[time.Time]string{
		"cdi": {day1: "14.00", day3: "14.50"},
	}}
	r, _, notifier := newRefresherFixture(t, ann, []config.WatchConfig{{Series: "cdi", Strategy: "compounding", LookbackMonths: 12}})
	ctx := context.Background()

	require.NoError(t, r.ProcessBucket(ctx, day1))

	ann.fail = map[string]error{"cdi": &rates.EmptySeriesError{Code: 12}}
	assert.Error(t, r.ProcessBucket(ctx, day2))

	ann.fail = nil
	require.NoError(t, r.ProcessBucket(ctx, day3))
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, day1, notifier.notes[0].PreviousAsOf)
}

func TestParseWatchesZeroesLookbackForLatest(t *testing.T) {
	watches, err := ParseWatches([]config.WatchConfig{{Series: "selic-target", Strategy: "latest", LookbackMonths: 6}})
	require.NoError(t, err)
	require.Len(t, watches, 1)
	assert.Equal(t, 0, watches[0].LookbackMonths)
	assert.Equal(t, storage.WatchKey{Series: "selic-target", Strategy: "latest"}, watches[0].Key())

	_, err = ParseWatches([]config.WatchConfig{{Series: "cdi", Strategy: "median"}})
	assert.Error(t, err)
}

func TestRefresherRunWithoutScheduler(t *testing.T) {
	r := NewRefresher(&config.Config{}, nil, &scriptedAnnualizer{}, nil, nil, nil, nil, zerolog.Nop())
	assert.Error(t, r.Run(context.Background()))
}

func TestProcessBucketPrunesOldAlerts(t *testing.T) {
	store, err := storage.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)

	ctx := context.Background()
	_, err = store.InsertAlert(ctx, storage.AlertRecord{
		AsOf:        time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Series:      "cdi",
		Strategy:    "compounding",
		PreviousPct: decimal.RequireFromString("13"),
		CurrentPct:  decimal.RequireFromString("14"),
		ChangePP:    decimal.RequireFromString("1"),
		ThresholdPP: decimal.RequireFromString("0.25"),
		Direction:   "up",
	})
	require.NoError(t, err)

	cfg := alertingConfig()
	cfg.Alerting.Retention = 24 * time.Hour
	r := NewRefresher(cfg, nil, &scriptedAnnualizer{}, nil, store, store, &recordingNotifier{}, zerolog.Nop())

	require.NoError(t, r.ProcessBucket(ctx, time.Now().Add(time.Hour)))
	alerts, err := store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1, "alert younger than the retention must survive")

	require.NoError(t, r.ProcessBucket(ctx, time.Now().Add(48*time.Hour)))
	alerts, err = store.ListRecentAlerts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

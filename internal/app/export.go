package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"rate-annualizer/internal/storage"
)

// Export renders snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer store.Close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snaps, err := store.ListSnapshotsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Msg("no snapshots found for export window")
		return nil
	}

	groups := groupByWatch(snaps)
	exported := 0
	for key, group := range groups {
		groups[key] = downsampleSnapshots(group, opts.MaxPoints)
		exported += len(groups[key])
	}
	a.Logger.Info().Int("total", len(snaps)).Int("exported", exported).Int("watches", len(groups)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, groups); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, groups); err != nil {
			return err
		}
	}

	return nil
}

// groupByWatch splits snapshots per watch, keeping each group in as-of order.
func groupByWatch(snaps []storage.RateSnapshot) map[storage.WatchKey][]storage.RateSnapshot {
	groups := make(map[storage.WatchKey][]storage.RateSnapshot)
	for _, snap := range snaps {
		groups[snap.Key()] = append(groups[snap.Key()], snap)
	}
	for _, group := range groups {
		sort.SliceStable(group, func(i, j int) bool { return group[i].AsOf.Before(group[j].AsOf) })
	}
	return groups
}

func sortedKeys(groups map[storage.WatchKey][]storage.RateSnapshot) []storage.WatchKey {
	keys := make([]storage.WatchKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return watchLabel(keys[i]) < watchLabel(keys[j]) })
	return keys
}

func watchLabel(key storage.WatchKey) string {
	if key.LookbackMonths == 0 {
		return key.Series + " " + key.Strategy
	}
	return fmt.Sprintf("%s %s %dm", key.Series, key.Strategy, key.LookbackMonths)
}

func downsampleSnapshots(snaps []storage.RateSnapshot, max int) []storage.RateSnapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}
	if max == 1 {
		return snaps[len(snaps)-1:]
	}

	result := make([]storage.RateSnapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, groups map[storage.WatchKey][]storage.RateSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"as_of", "series", "sgs_code", "strategy", "lookback_months", "basis", "value_pct", "period_start", "period_end", "observations", "status", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, key := range sortedKeys(groups) {
		for _, snap := range groups[key] {
			errMsg := ""
			if snap.Error != nil {
				errMsg = *snap.Error
			}
			value := ""
			if snap.ValuePct != nil {
				value = snap.ValuePct.String()
			}
			record := []string{
				snap.AsOf.Format(time.DateOnly),
				snap.Series,
				strconv.Itoa(snap.SGSCode),
				snap.Strategy,
				strconv.Itoa(snap.LookbackMonths),
				snap.Basis,
				value,
				optionalDate(snap.PeriodStart),
				optionalDate(snap.PeriodEnd),
				strconv.Itoa(snap.Observations),
				snap.Status,
				errMsg,
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(path string, groups map[storage.WatchKey][]storage.RateSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var series []chart.Series
	for _, key := range sortedKeys(groups) {
		var x []time.Time
		var y []float64
		for _, snap := range groups[key] {
			if snap.Status != storage.StatusComplete || snap.ValuePct == nil {
				continue
			}
			x = append(x, snap.AsOf)
			y = append(y, snap.ValuePct.InexactFloat64())
		}
		if len(x) < 2 {
			continue
		}
		series = append(series, chart.TimeSeries{Name: watchLabel(key), XValues: x, YValues: y})
	}
	if len(series) == 0 {
		return errors.New("need at least two complete snapshots of one watch to draw a chart")
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Annualized rate (% a.a.)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func optionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

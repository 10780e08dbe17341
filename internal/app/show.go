package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"rate-annualizer/internal/storage"
)

// Show prints recent snapshots and, optionally, recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	defer store.Close()

	total, err := store.CountSnapshots(ctx)
	if err != nil {
		return err
	}
	snaps, err := store.ListRecentSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%d snapshots stored, showing %d\n", total, len(snaps))
	a.writeSnapshots(snaps)

	if !opts.Alerts {
		return nil
	}
	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.Out)
	a.writeAlerts(alerts)
	return nil
}

func (a *App) writeSnapshots(snaps []storage.RateSnapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(a.Out, "no snapshots found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "As of\tSeries\tStrategy\tMonths\tValue%\tBasis\tWindow\tStatus\tError")
	for _, snap := range snaps {
		errMsg := ""
		if snap.Error != nil {
			errMsg = sanitizeInline(*snap.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			snap.AsOf.Format(time.DateOnly),
			snap.Series,
			snap.Strategy,
			snap.LookbackMonths,
			formatOptionalDecimal(snap.ValuePct, 4),
			snap.Basis,
			formatWindow(snap.PeriodStart, snap.PeriodEnd),
			snap.Status,
			errMsg,
		)
	}
	writer.Flush()
}

func (a *App) writeAlerts(alerts []storage.AlertRecord) {
	if len(alerts) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "As of\tSeries\tStrategy\tPrevious%\tCurrent%\tChange pp\tDirection\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.AsOf.Format(time.DateOnly),
			alert.Series,
			alert.Strategy,
			alert.PreviousPct.StringFixed(4),
			alert.CurrentPct.StringFixed(4),
			alert.ChangePP.StringFixed(4),
			alert.Direction,
			strings.Join(alert.Channels, ","),
		)
	}
	writer.Flush()
}

func formatOptionalDecimal(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}

func formatWindow(start, end *time.Time) string {
	if start == nil || end == nil {
		return "-"
	}
	return start.Format(time.DateOnly) + ".." + end.Format(time.DateOnly)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rate-annualizer/internal/config"
	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/service"
	"rate-annualizer/internal/storage"
)

// SimulateOptions describe a synthetic move of one watch.
type SimulateOptions struct {
	Series   string
	Strategy string
	Months   int
	Previous decimal.Decimal
	Current  decimal.Decimal
}

// SimulateAlert drives the refresh and alert path with a synthetic previous and
// current value, against a throwaway in-memory store.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}

	watches, err := service.ParseWatches([]config.WatchConfig{{Series: opts.Series, Strategy: opts.Strategy, LookbackMonths: opts.Months}})
	if err != nil {
		return err
	}
	watch := watches[0]

	store, err := storage.OpenSQLite(ctx, ":memory:")
	if err != nil {
		return err
	}
	defer store.Close()

	asOf := rates.StartOfDay(time.Now().UTC())
	previousAsOf := asOf.AddDate(0, -1, 0)
	previous := opts.Previous
	if err := store.UpsertSnapshot(ctx, storage.RateSnapshot{
		AsOf:           previousAsOf,
		Series:         string(watch.Info.ID),
		SGSCode:        watch.Info.Code,
		Strategy:       watch.Strategy.Name(),
		LookbackMonths: watch.LookbackMonths,
		Basis:          string(rates.BasisAnnual),
		ValuePct:       &previous,
		Observations:   1,
		Status:         storage.StatusComplete,
		CreatedAt:      previousAsOf,
	}); err != nil {
		return fmt.Errorf("seed previous snapshot: %w", err)
	}

	static := &staticAnnualizer{value: opts.Current}
	refresher := service.NewRefresher(a.Config, nil, static, watches, store, store, a.newNotifier(), a.Logger)
	if _, err := refresher.Refresh(ctx, asOf, true); err != nil {
		return err
	}

	alerts, err := store.ListRecentAlerts(ctx, 1)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return fmt.Errorf("change of %s pp is below the %.2f pp threshold; no alert sent",
			opts.Current.Sub(opts.Previous).StringFixed(4), a.Config.Alerting.ThresholdPP)
	}
	a.Logger.Info().Str("series", alerts[0].Series).Str("change_pp", alerts[0].ChangePP.String()).Msg("simulated alert dispatched")
	return nil
}

type staticAnnualizer struct {
	value decimal.Decimal
}

func (s *staticAnnualizer) AnnualizeAsOf(_ context.Context, req service.Request, asOf time.Time) (rates.Annualized, error) {
	info, err := rates.Lookup(req.Series)
	if err != nil {
		return rates.Annualized{}, err
	}
	return rates.Annualized{
		Series:       info.ID,
		Code:         info.Code,
		Strategy:     req.Strategy.Name(),
		Basis:        rates.BasisAnnual,
		Value:        s.value,
		Start:        asOf,
		End:          asOf,
		Observations: 1,
		LastDate:     asOf,
		AsOf:         asOf,
	}, nil
}

var _ service.AsOfAnnualizer = (*staticAnnualizer)(nil)

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-annualizer/internal/fetcher"
	"rate-annualizer/internal/rates"
)

// TrailingInflationMonths is the fixed window used for the inflation field.
const TrailingInflationMonths = 12

// latestHistoryMonths bounds the range read when the most recent observation is
// wanted as of a past date. It covers the publication lag of monthly series.
const latestHistoryMonths = 3

// Policy selects how the "current CDI" figure is derived.
type Policy string

const (
	// PolicySelicSpread reads the SELIC target and subtracts the configured spread.
	PolicySelicSpread Policy = "selic-spread"
	// PolicyCDICompounded compounds the latest daily CDI over a business year.
	PolicyCDICompounded Policy = "cdi-compounded"
)

// ParsePolicy validates a policy name. Empty selects PolicySelicSpread.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case "", PolicySelicSpread:
		return PolicySelicSpread, nil
	case PolicyCDICompounded:
		return PolicyCDICompounded, nil
	default:
		return "", &rates.ValidationError{Field: "policy", Value: name, Reason: "expected selic-spread or cdi-compounded"}
	}
}

// Request describes one annualization.
type Request struct {
	Series         string
	LookbackMonths int
	Strategy       rates.Strategy
}

// Options tune the annualizer.
type Options struct {
	Location     *time.Location
	LatestWindow int
	SelicSpread  decimal.Decimal
	Policy       Policy
	Now          func() time.Time
}

// Annualizer fetches SGS series and reduces them to a single percentage.
type Annualizer struct {
	fetcher fetcher.SeriesFetcher
	opts    Options
	logger  zerolog.Logger
}

// NewAnnualizer wires a series fetcher into an Annualizer.
func NewAnnualizer(f fetcher.SeriesFetcher, opts Options, logger zerolog.Logger) *Annualizer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.LatestWindow <= 0 {
		opts.LatestWindow = rates.LatestWindow
	}
	if opts.Policy == "" {
		opts.Policy = PolicySelicSpread
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Annualizer{
		fetcher: f,
		opts:    opts,
		logger:  logger.With().Str("component", "annualizer").Logger(),
	}
}

// Annualize reduces the requested series as of today.
func (a *Annualizer) Annualize(ctx context.Context, req Request) (rates.Annualized, error) {
	return a.annualize(ctx, req, a.today(), true)
}

// AnnualizeAsOf reduces the requested series over the window ending at asOf. A
// Latest strategy reads the most recent observation published up to asOf.
func (a *Annualizer) AnnualizeAsOf(ctx context.Context, req Request, asOf time.Time) (rates.Annualized, error) {
	asOf = rates.StartOfDay(asOf.In(a.opts.Location))
	return a.annualize(ctx, req, asOf, !asOf.Before(a.today()))
}

// TrailingInflation compounds IPCA over the last twelve months, independent of
// any user look-back.
func (a *Annualizer) TrailingInflation(ctx context.Context) (rates.Annualized, error) {
	return a.Annualize(ctx, Request{
		Series:         string(rates.IPCA),
		LookbackMonths: TrailingInflationMonths,
		Strategy:       rates.Compounding{},
	})
}

// CurrentCDI returns the current annual CDI estimate under policy. An empty
// policy uses the configured default.
func (a *Annualizer) CurrentCDI(ctx context.Context, policy Policy) (rates.Annualized, error) {
	if policy == "" {
		policy = a.opts.Policy
	}
	req, err := a.CurrentCDIRequest(policy)
	if err != nil {
		return rates.Annualized{}, err
	}
	return a.Annualize(ctx, req)
}

// CurrentCDIRequest maps a policy onto the series and strategy it reads.
func (a *Annualizer) CurrentCDIRequest(policy Policy) (Request, error) {
	switch policy {
	case PolicySelicSpread:
		return Request{
			Series:   string(rates.SELICTarget),
			Strategy: rates.Latest{Treatment: rates.AsAnnual, Spread: a.opts.SelicSpread},
		}, nil
	case PolicyCDICompounded:
		return Request{
			Series:   string(rates.CDI),
			Strategy: rates.Latest{Treatment: rates.CompoundSingle},
		}, nil
	default:
		_, err := ParsePolicy(string(policy))
		return Request{}, err
	}
}

func (a *Annualizer) annualize(ctx context.Context, req Request, asOf time.Time, current bool) (rates.Annualized, error) {
	info, err := rates.Lookup(req.Series)
	if err != nil {
		return rates.Annualized{}, err
	}
	strategy := req.Strategy
	if strategy == nil {
		strategy = rates.Compounding{}
	}

	var series rates.Series
	switch {
	case strategy.UsesLookback():
		start, end, err := rates.Window(asOf, req.LookbackMonths)
		if err != nil {
			return rates.Annualized{}, err
		}
		series, err = a.fetcher.FetchRange(ctx, info, start, end)
		if err != nil {
			return rates.Annualized{}, err
		}
	case current:
		series, err = a.fetcher.FetchLatest(ctx, info, a.opts.LatestWindow)
		if err != nil {
			return rates.Annualized{}, err
		}
	default:
		start, end, _ := rates.Window(asOf, latestHistoryMonths)
		series, err = a.fetcher.FetchRange(ctx, info, start, end)
		if err != nil {
			return rates.Annualized{}, err
		}
	}

	result, err := rates.Reduce(series, strategy)
	if err != nil {
		return rates.Annualized{}, err
	}
	result.AsOf = asOf

	a.logger.Debug().
		Str("series", string(info.ID)).
		Int("code", info.Code).
		Str("strategy", result.Strategy).
		Int("observations", result.Observations).
		Str("value_pct", result.Value.String()).
		Msg("series annualized")
	return result, nil
}

func (a *Annualizer) today() time.Time {
	return rates.StartOfDay(a.opts.Now().In(a.opts.Location))
}

// Describe renders a one-line summary of an annualized value.
func Describe(r rates.Annualized) string {
	suffix := ""
	if r.Basis == rates.BasisPeriodAverage {
		suffix = " (period average)"
	}
	return fmt.Sprintf("%s %s: %s%s", r.Series, r.Strategy, rates.FormatPercent(r.Value), suffix)
}

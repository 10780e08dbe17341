package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rate-annualizer/internal/rates"
)

type rangeCall struct {
	code       int
	start, end time.Time
}

type fakeFetcher struct {
	mu          sync.Mutex
	values      map[int][]string
	err         error
	rangeCalls  []rangeCall
	latestCalls []int
}

func (f *fakeFetcher) observations(code int, from time.Time) []rates.Observation {
	values := f.values[code]
	obs := make([]rates.Observation, len(values))
	for i, v := range values {
		obs[i] = rates.Observation{Date: from.AddDate(0, 0, i), Value: decimal.RequireFromString(v)}
	}
	return obs
}

func (f *fakeFetcher) FetchRange(_ context.Context, info rates.SeriesInfo, start, end time.Time) (rates.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls = append(f.rangeCalls, rangeCall{code: info.Code, start: start, end: end})
	if f.err != nil {
		return rates.Series{}, f.err
	}
	return rates.Series{Info: info, Start: start, End: end, Observations: f.observations(info.Code, start)}, nil
}

func (f *fakeFetcher) FetchLatest(_ context.Context, info rates.SeriesInfo, n int) (rates.Series, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls = append(f.latestCalls, n)
	if f.err != nil {
		return rates.Series{}, f.err
	}
	obs := f.observations(info.Code, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	return rates.Series{Info: info, Observations: obs}, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rangeCalls) + len(f.latestCalls)
}

var testNow = time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

func newTestAnnualizer(f *fakeFetcher) *Annualizer {
	return NewAnnualizer(f, Options{
		SelicSpread: decimal.RequireFromString("0.1"),
		Now:         func() time.Time { return testNow },
	}, zerolog.Nop())
}

func TestAnnualizeCompoundingDaily(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{12: {"0.05", "0.05", "0.05"}}}
	a := newTestAnnualizer(f)

	got, err := a.Annualize(context.Background(), Request{Series: "cdi", LookbackMonths: 18, Strategy: rates.Compounding{}})
	require.NoError(t, err)

	want := (math.Pow(1.0005, 252) - 1) * 100
	assert.InDelta(t, want, got.Value.InexactFloat64(), 1e-9)
	assert.Equal(t, rates.BasisAnnual, got.Basis)
	assert.Equal(t, 3, got.Observations)

	require.Len(t, f.rangeCalls, 1)
	assert.Equal(t, "15/08/2024", rates.FormatSGSDate(f.rangeCalls[0].start))
	assert.Equal(t, "15/02/2026", rates.FormatSGSDate(f.rangeCalls[0].end))
	assert.Equal(t, 12, f.rangeCalls[0].code)
}

func TestAnnualizeNilStrategyDefaultsToCompounding(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{433: {"1", "1"}}}
	got, err := newTestAnnualizer(f).Annualize(context.Background(), Request{Series: "ipca", LookbackMonths: 2})
	require.NoError(t, err)
	assert.Equal(t, "compounding", got.Strategy)
	assert.InDelta(t, (math.Pow(1.01, 12)-1)*100, got.Value.InexactFloat64(), 1e-9)
}

func TestAnnualizeRejectsLookbackBeforeFetch(t *testing.T) {
	for _, months := range []int{0, -3} {
		f := &fakeFetcher{values: map[int][]string{12: {"0.05"}}}
		_, err := newTestAnnualizer(f).Annualize(context.Background(), Request{Series: "cdi", LookbackMonths: months, Strategy: rates.Compounding{}})
		require.Error(t, err)
		assert.True(t, rates.IsValidation(err), "months=%d", months)
		assert.False(t, errors.Is(err, rates.ErrRateUnavailable))
		assert.Zero(t, f.calls(), "no fetch for months=%d", months)
	}
}

func TestAnnualizeUnknownSeries(t *testing.T) {
	f := &fakeFetcher{}
	_, err := newTestAnnualizer(f).Annualize(context.Background(), Request{Series: "igpm", LookbackMonths: 12})
	assert.True(t, rates.IsValidation(err))
	assert.Zero(t, f.calls())
}

func TestAnnualizeEmptySeriesIsUnavailable(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{}}
	_, err := newTestAnnualizer(f).Annualize(context.Background(), Request{Series: "cdi", LookbackMonths: 12})
	assert.ErrorIs(t, err, rates.ErrRateUnavailable)

	var empty *rates.EmptySeriesError
	assert.ErrorAs(t, err, &empty)
}

func TestAnnualizeFetchFailureIsUnavailable(t *testing.T) {
	f := &fakeFetcher{err: &rates.HTTPStatusError{Code: 12, StatusCode: 503}}
	_, err := newTestAnnualizer(f).Annualize(context.Background(), Request{Series: "cdi", LookbackMonths: 12})
	assert.ErrorIs(t, err, rates.ErrRateUnavailable)
}

func TestAnnualizeMeanIsPeriodAverage(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{433: {"1", "1", "1"}}}
	got, err := newTestAnnualizer(f).Annualize(context.Background(), Request{Series: "ipca", LookbackMonths: 3, Strategy: rates.ArithmeticMean{}})
	require.NoError(t, err)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, rates.BasisPeriodAverage, got.Basis)
}

func TestAnnualizeLatestUsesMostRecentQuery(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{432: {"14.75", "15.00"}}}
	got, err := newTestAnnualizer(f).Annualize(context.Background(), Request{Series: "selic-target", LookbackMonths: -1, Strategy: rates.Latest{}})
	require.NoError(t, err)
	assert.Empty(t, f.rangeCalls)
	assert.Equal(t, []int{rates.LatestWindow}, f.latestCalls)
	assert.True(t, got.Value.Equal(decimal.NewFromInt(15)))
}

func TestAnnualizeAsOfPastLatestReadsRange(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{432: {"10.5"}}}
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	got, err := newTestAnnualizer(f).AnnualizeAsOf(context.Background(), Request{Series: "selic-target", Strategy: rates.Latest{}}, asOf)
	require.NoError(t, err)
	assert.Empty(t, f.latestCalls)
	require.Len(t, f.rangeCalls, 1)
	assert.Equal(t, "30/03/2025", rates.FormatSGSDate(f.rangeCalls[0].start))
	assert.Equal(t, "30/06/2025", rates.FormatSGSDate(f.rangeCalls[0].end))
	assert.Equal(t, asOf, got.AsOf)
}

func TestCurrentCDISelicSpread(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{432: {"14.75", "15.00"}}}
	got, err := newTestAnnualizer(f).CurrentCDI(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "14.9", got.Value.String())
	assert.Equal(t, rates.SELICTarget, got.Series)
}

func TestCurrentCDISelicSpreadFloorsAtZero(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{432: {"0.05"}}}
	got, err := newTestAnnualizer(f).CurrentCDI(context.Background(), PolicySelicSpread)
	require.NoError(t, err)
	assert.True(t, got.Value.IsZero())
}

func TestCurrentCDICompounded(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{12: {"0.04", "0.055131"}}}
	got, err := newTestAnnualizer(f).CurrentCDI(context.Background(), PolicyCDICompounded)
	require.NoError(t, err)
	assert.Equal(t, "latest-compounded", got.Strategy)
	assert.InDelta(t, (math.Pow(1.00055131, 252)-1)*100, got.Value.InexactFloat64(), 1e-9)
}

func TestCurrentCDIUnknownPolicy(t *testing.T) {
	f := &fakeFetcher{}
	_, err := newTestAnnualizer(f).CurrentCDI(context.Background(), "guess")
	assert.True(t, rates.IsValidation(err))
	assert.Zero(t, f.calls())
}

func TestTrailingInflationUsesTwelveMonths(t *testing.T) {
	f := &fakeFetcher{values: map[int][]string{433: {"0.4", "0.5", "0.3"}}}
	got, err := newTestAnnualizer(f).TrailingInflation(context.Background())
	require.NoError(t, err)
	require.Len(t, f.rangeCalls, 1)
	assert.Equal(t, 433, f.rangeCalls[0].code)
	assert.Equal(t, "15/02/2025", rates.FormatSGSDate(f.rangeCalls[0].start))
	assert.Equal(t, rates.IPCA, got.Series)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySelicSpread, p)

	p, err = ParsePolicy("cdi-compounded")
	require.NoError(t, err)
	assert.Equal(t, PolicyCDICompounded, p)

	_, err = ParsePolicy("x")
	assert.True(t, rates.IsValidation(err))
}

func TestDescribe(t *testing.T) {
	r := rates.Annualized{Series: rates.IPCA, Strategy: "mean", Basis: rates.BasisPeriodAverage, Value: decimal.RequireFromString("0.4")}
	assert.Equal(t, "ipca mean: 0,40 % (period average)", Describe(r))
}

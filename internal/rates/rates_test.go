package rates

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantSeries(info SeriesInfo, value string, n int) Series {
	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	obs := make([]Observation, n)
	for i := range obs {
		obs[i] = Observation{Date: start.AddDate(0, 0, i), Value: decimal.RequireFromString(value)}
	}
	return Series{Info: info, Start: start, End: start.AddDate(0, 0, n), Observations: obs}
}

func TestCompoundingDailyIndependentOfCount(t *testing.T) {
	want := (math.Pow(1.0005, 252) - 1) * 100
	for _, n := range []int{1, 5, 21, 252, 400} {
		got, err := Reduce(constantSeries(MustLookup(CDI), "0.05", n), Compounding{})
		require.NoError(t, err)
		assert.InDelta(t, want, got.Value.InexactFloat64(), 1e-9, "n=%d", n)
		assert.Equal(t, BasisAnnual, got.Basis)
		assert.Equal(t, n, got.Observations)
	}
}

func TestCompoundingMonthlyIndependentOfCount(t *testing.T) {
	want := (math.Pow(1.005, 12) - 1) * 100
	for _, n := range []int{1, 3, 7, 12, 36} {
		got, err := Reduce(constantSeries(MustLookup(IPCA), "0.5", n), Compounding{})
		require.NoError(t, err)
		assert.InDelta(t, want, got.Value.InexactFloat64(), 1e-9, "n=%d", n)
	}
}

func TestCompoundingMixedValues(t *testing.T) {
	series := constantSeries(MustLookup(IPCA), "0", 3)
	series.Observations[0].Value = decimal.RequireFromString("0.42")
	series.Observations[1].Value = decimal.RequireFromString("0.83")
	series.Observations[2].Value = decimal.RequireFromString("0.16")

	product := 1.0042 * 1.0083 * 1.0016
	want := (math.Pow(product, 12.0/3.0) - 1) * 100

	got, err := Reduce(series, Compounding{})
	require.NoError(t, err)
	assert.InDelta(t, want, got.Value.InexactFloat64(), 1e-9)
}

func TestArithmeticMeanIsNotCompounding(t *testing.T) {
	series := constantSeries(MustLookup(IPCA), "1.0", 3)

	avg, err := Reduce(series, ArithmeticMean{})
	require.NoError(t, err)
	assert.True(t, avg.Value.Equal(decimal.NewFromInt(1)), "mean of [1,1,1] should be exactly 1, got %s", avg.Value)
	assert.Equal(t, BasisPeriodAverage, avg.Basis)

	compounded, err := Reduce(series, Compounding{})
	require.NoError(t, err)
	assert.InDelta(t, (math.Pow(1.01, 12)-1)*100, compounded.Value.InexactFloat64(), 1e-9)
	assert.False(t, avg.Value.Equal(compounded.Value))
}

func TestLatestAsAnnualSpreadFloorsAtZero(t *testing.T) {
	series := constantSeries(MustLookup(SELICTarget), "10.50", 4)
	series.Observations[3].Value = decimal.RequireFromString("0.05")

	got, err := Reduce(series, Latest{Treatment: AsAnnual, Spread: decimal.RequireFromString("0.1")})
	require.NoError(t, err)
	assert.True(t, got.Value.IsZero(), "expected clamp to zero, got %s", got.Value)
	assert.False(t, got.Value.IsNegative())
	assert.Equal(t, 1, got.Observations)
}

func TestLatestAsAnnualSubtractsSpread(t *testing.T) {
	series := constantSeries(MustLookup(SELICTarget), "15.00", 20)

	got, err := Reduce(series, Latest{Treatment: AsAnnual, Spread: decimal.RequireFromString("0.1")})
	require.NoError(t, err)
	assert.Equal(t, "14.9", got.Value.String())
	assert.Equal(t, series.Observations[19].Date, got.LastDate)
}

func TestLatestCompoundSingle(t *testing.T) {
	series := constantSeries(MustLookup(CDI), "0.040168", 20)
	series.Observations[19].Value = decimal.RequireFromString("0.055131")

	got, err := Reduce(series, Latest{Treatment: CompoundSingle})
	require.NoError(t, err)
	assert.InDelta(t, (math.Pow(1.00055131, 252)-1)*100, got.Value.InexactFloat64(), 1e-9)
	assert.Equal(t, "latest-compounded", got.Strategy)
}

func TestLatestCompoundSingleOverflow(t *testing.T) {
	series := constantSeries(MustLookup(CDI), "0.05", 3)
	series.Observations[2].Value = decimal.RequireFromString("100000")

	var got Annualized
	var err error
	require.NotPanics(t, func() {
		got, err = Reduce(series, Latest{Treatment: CompoundSingle})
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateUnavailable)
	var decode *DecodeError
	assert.ErrorAs(t, err, &decode)
	assert.True(t, got.Value.IsZero())
}

func TestLatestCompoundSingleNonPositiveFactor(t *testing.T) {
	for _, v := range []string{"-100", "-250"} {
		series := constantSeries(MustLookup(CDI), "0.05", 3)
		series.Observations[2].Value = decimal.RequireFromString(v)

		_, err := Reduce(series, Latest{Treatment: CompoundSingle})
		require.Error(t, err, "value=%s", v)
		assert.ErrorIs(t, err, ErrRateUnavailable, "value=%s", v)
	}
}

func TestReduceEmptySeries(t *testing.T) {
	series := Series{Info: MustLookup(CDI)}
	for _, s := range []Strategy{Compounding{}, ArithmeticMean{}, Latest{}} {
		_, err := Reduce(series, s)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRateUnavailable))
		var empty *EmptySeriesError
		assert.True(t, errors.As(err, &empty))
	}
}

func TestReduceNonPositiveFactor(t *testing.T) {
	series := constantSeries(MustLookup(IPCA), "-100", 2)
	_, err := Reduce(series, Compounding{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateUnavailable)
}

func TestWindowRejectsNonPositiveLookback(t *testing.T) {
	for _, months := range []int{0, -1, -24} {
		_, _, err := Window(time.Now(), months)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.False(t, errors.Is(err, ErrRateUnavailable))
	}
}

func TestWindowCrossesYearBoundary(t *testing.T) {
	asOf := time.Date(2026, time.February, 15, 14, 30, 0, 0, time.UTC)

	start, end, err := Window(asOf, 18)
	require.NoError(t, err)
	assert.Equal(t, "15/08/2024", FormatSGSDate(start))
	assert.Equal(t, "15/02/2026", FormatSGSDate(end))

	start, _, err = Window(asOf, 3)
	require.NoError(t, err)
	assert.Equal(t, "15/11/2025", FormatSGSDate(start))
}

func TestWindowNormalisesShortMonths(t *testing.T) {
	asOf := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	start, _, err := Window(asOf, 1)
	require.NoError(t, err)
	assert.Equal(t, "03/03/2025", FormatSGSDate(start))
}

func TestParseSGSDate(t *testing.T) {
	got, err := ParseSGSDate("05/11/2024", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 5, 0, 0, 0, 0, time.UTC), got)

	_, err = ParseSGSDate("2024-11-05", nil)
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	cases := map[string]string{
		"":                  "compounding",
		"Compounding":       "compounding",
		"mean":              "mean",
		"arithmetic-mean":   "mean",
		"latest":            "latest",
		"latest-compounded": "latest-compounded",
	}
	for in, want := range cases {
		s, err := ParseStrategy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, s.Name())
	}

	_, err := ParseStrategy("median")
	assert.True(t, IsValidation(err))
}

func TestLookup(t *testing.T) {
	info, err := Lookup("IPCA")
	require.NoError(t, err)
	assert.Equal(t, 433, info.Code)
	assert.Equal(t, Monthly, info.Periodicity)

	_, err = Lookup("igpm")
	assert.True(t, IsValidation(err))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "13,65 %", FormatPercent(decimal.RequireFromString("13.6549")))
	assert.Equal(t, "0,00 %", FormatPercent(decimal.Zero))
	assert.Equal(t, "4,50 %", FormatPercent(decimal.RequireFromString("4.5")))
}

package rates

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Basis tells whether a reduced value is an annual rate or a period average.
type Basis string

const (
	BasisAnnual        Basis = "annual"
	BasisPeriodAverage Basis = "period-average"
)

var hundred = decimal.NewFromInt(100)

// Annualized is the single percentage a series was reduced to.
type Annualized struct {
	Series       SeriesID
	Code         int
	Strategy     string
	Basis        Basis
	Value        decimal.Decimal
	Start        time.Time
	End          time.Time
	Observations int
	LastDate     time.Time
	AsOf         time.Time
}

// Reduce applies the strategy to the series.
func Reduce(series Series, strategy Strategy) (Annualized, error) {
	if strategy == nil {
		strategy = Compounding{}
	}
	obs := series.Observations
	if len(obs) == 0 {
		return Annualized{}, &EmptySeriesError{Code: series.Info.Code, Start: series.Start, End: series.End}
	}

	result := Annualized{
		Series:       series.Info.ID,
		Code:         series.Info.Code,
		Strategy:     strategy.Name(),
		Basis:        BasisAnnual,
		Start:        series.Start,
		End:          series.End,
		Observations: len(obs),
		LastDate:     obs[len(obs)-1].Date,
	}

	var err error
	switch s := strategy.(type) {
	case Compounding:
		result.Value, err = compound(obs, series.Info.Periodicity)
	case ArithmeticMean:
		result.Value = mean(obs)
		result.Basis = BasisPeriodAverage
	case Latest:
		result.Value, err = latest(obs[len(obs)-1], s, series.Info.Periodicity)
		result.Observations = 1
		result.Start = obs[len(obs)-1].Date
	default:
		err = fmt.Errorf("unsupported strategy %T", strategy)
	}
	if err != nil {
		return Annualized{}, &DecodeError{Code: series.Info.Code, Err: err}
	}
	return result, nil
}

// compound annualizes prod(1+v/100)^(periodsPerYear/n). The geometric mean of the
// factors is prod^(1/n), so the same figure is gm^periodsPerYear.
func compound(obs []Observation, p Periodicity) (decimal.Decimal, error) {
	factors := make([]float64, len(obs))
	for i, o := range obs {
		f, err := growthFactor(o)
		if err != nil {
			return decimal.Decimal{}, err
		}
		factors[i] = f
	}
	return annualize(stat.GeometricMean(factors, nil), p)
}

func growthFactor(o Observation) (float64, error) {
	f := o.Value.Div(hundred).Add(decimal.NewFromInt(1)).InexactFloat64()
	if f <= 0 || math.IsInf(f, 0) {
		return 0, errors.New("observation " + FormatSGSDate(o.Date) + " yields a non-positive growth factor")
	}
	return f, nil
}

// annualize raises a per-period factor to a year and returns the rate in percent.
func annualize(factor float64, p Periodicity) (decimal.Decimal, error) {
	annual := (math.Pow(factor, p.PeriodsPerYear()) - 1) * 100
	if math.IsNaN(annual) || math.IsInf(annual, 0) {
		return decimal.Decimal{}, errors.New("annualized value is not finite")
	}
	return decimal.NewFromFloat(annual), nil
}

func mean(obs []Observation) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range obs {
		sum = sum.Add(o.Value)
	}
	return sum.Div(decimal.NewFromInt(int64(len(obs))))
}

func latest(o Observation, l Latest, p Periodicity) (decimal.Decimal, error) {
	if l.Treatment == CompoundSingle {
		f, err := growthFactor(o)
		if err != nil {
			return decimal.Decimal{}, err
		}
		return annualize(f, p)
	}
	adjusted := o.Value.Sub(l.Spread)
	if adjusted.IsNegative() {
		return decimal.Zero, nil
	}
	return adjusted, nil
}

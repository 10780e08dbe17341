package rates

import (
	"strings"

	"github.com/shopspring/decimal"
)

// LatestWindow is how many trailing records are requested when only the most recent
// observation matters. Holidays and publication gaps make a single record unreliable.
const LatestWindow = 20

// Strategy selects how a series is reduced to one percentage. The set of
// implementations is closed: Compounding, ArithmeticMean and Latest.
type Strategy interface {
	Name() string
	// UsesLookback reports whether the strategy reads a date range.
	UsesLookback() bool
	strategy()
}

// Compounding multiplies 1+v/100 across the series and annualizes the product with
// the series' periods-per-year over the observation count.
type Compounding struct{}

func (Compounding) Name() string       { return "compounding" }
func (Compounding) UsesLookback() bool { return true }
func (Compounding) strategy()          {}

// ArithmeticMean is sum(v)/n. The result is a raw period average, not an annual
// figure, and is tagged BasisPeriodAverage.
type ArithmeticMean struct{}

func (ArithmeticMean) Name() string       { return "mean" }
func (ArithmeticMean) UsesLookback() bool { return true }
func (ArithmeticMean) strategy()          {}

// Treatment decides what Latest does with the most recent observation.
type Treatment int

const (
	// AsAnnual takes the value as already annual, minus Spread, floored at zero.
	AsAnnual Treatment = iota
	// CompoundSingle compounds one period to a year: (1+v/100)^periodsPerYear - 1.
	CompoundSingle
)

// Latest reduces a series to its most recent observation.
type Latest struct {
	Treatment Treatment
	Spread    decimal.Decimal
}

func (l Latest) Name() string {
	if l.Treatment == CompoundSingle {
		return "latest-compounded"
	}
	return "latest"
}

func (Latest) UsesLookback() bool { return false }
func (Latest) strategy()          {}

// ParseStrategy maps a configuration or query name to a Strategy. An empty name
// selects Compounding.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "compounding", "compound":
		return Compounding{}, nil
	case "mean", "arithmetic-mean", "average":
		return ArithmeticMean{}, nil
	case "latest":
		return Latest{Treatment: AsAnnual}, nil
	case "latest-compounded":
		return Latest{Treatment: CompoundSingle}, nil
	default:
		return nil, &ValidationError{Field: "strategy", Value: name, Reason: "expected compounding, mean, latest or latest-compounded"}
	}
}

var (
	_ Strategy = Compounding{}
	_ Strategy = ArithmeticMean{}
	_ Strategy = Latest{}
)

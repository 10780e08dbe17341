package rates

import (
	"time"

	"github.com/shopspring/decimal"
)

// SGSDateLayout is the dd/mm/yyyy layout the SGS API speaks.
const SGSDateLayout = "02/01/2006"

// Observation is one periodic percentage published by the source.
type Observation struct {
	Date  time.Time
	Value decimal.Decimal
}

// Series holds the observations of one series over one date range, ascending.
type Series struct {
	Info         SeriesInfo
	Start        time.Time
	End          time.Time
	Observations []Observation
}

// Window derives the inclusive [start, end] range for a look-back of whole months
// ending on asOf. Month arithmetic normalises like time.AddDate, so 31 March minus one
// month lands on 3 March (or 2 March in leap years).
func Window(asOf time.Time, months int) (time.Time, time.Time, error) {
	if months <= 0 {
		return time.Time{}, time.Time{}, &ValidationError{Field: "lookback_months", Value: months, Reason: "must be a positive whole number of months"}
	}
	end := StartOfDay(asOf)
	start := end.AddDate(0, -months, 0)
	return start, end, nil
}

// StartOfDay drops the clock part of t, keeping its location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// FormatSGSDate renders t as dd/mm/yyyy.
func FormatSGSDate(t time.Time) string {
	return t.Format(SGSDateLayout)
}

// ParseSGSDate parses a dd/mm/yyyy date in loc.
func ParseSGSDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(SGSDateLayout, s, loc)
}

package rates

import (
	"fmt"
	"sort"
	"strings"
)

// SeriesID names a rate series independently of its SGS numeric code.
type SeriesID string

const (
	CDI          SeriesID = "cdi"
	SELIC        SeriesID = "selic"
	SELICMonthly SeriesID = "selic-monthly"
	SELICTarget  SeriesID = "selic-target"
	IPCA         SeriesID = "ipca"
)

// Periodicity is the length of the period a single observation covers.
type Periodicity string

const (
	Daily   Periodicity = "daily"
	Monthly Periodicity = "monthly"
	Annual  Periodicity = "annual"
)

// BusinessDaysPerYear is the CDI/SELIC day-count convention.
const BusinessDaysPerYear = 252

// PeriodsPerYear returns the exponent base used to annualize one period.
func (p Periodicity) PeriodsPerYear() float64 {
	switch p {
	case Daily:
		return BusinessDaysPerYear
	case Monthly:
		return 12
	default:
		return 1
	}
}

// SeriesInfo describes one SGS series.
type SeriesInfo struct {
	ID          SeriesID
	Code        int
	Periodicity Periodicity
	Name        string
}

var catalog = map[SeriesID]SeriesInfo{
	CDI:          {ID: CDI, Code: 12, Periodicity: Daily, Name: "CDI (% a.d.)"},
	SELIC:        {ID: SELIC, Code: 11, Periodicity: Daily, Name: "Selic (% a.d.)"},
	SELICMonthly: {ID: SELICMonthly, Code: 4390, Periodicity: Monthly, Name: "Selic acumulada no mês (% a.m.)"},
	SELICTarget:  {ID: SELICTarget, Code: 432, Periodicity: Annual, Name: "Meta Selic (% a.a.)"},
	IPCA:         {ID: IPCA, Code: 433, Periodicity: Monthly, Name: "IPCA (% a.m.)"},
}

// Lookup resolves a series by id, case-insensitively.
func Lookup(id string) (SeriesInfo, error) {
	info, ok := catalog[SeriesID(strings.ToLower(strings.TrimSpace(id)))]
	if !ok {
		return SeriesInfo{}, &ValidationError{Field: "series", Value: id, Reason: "unknown series, expected one of " + strings.Join(KnownSeries(), ", ")}
	}
	return info, nil
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id SeriesID) SeriesInfo {
	info, ok := catalog[id]
	if !ok {
		panic(fmt.Sprintf("rates: series %q not in catalog", id))
	}
	return info
}

// KnownSeries lists the catalog ids in stable order.
func KnownSeries() []string {
	ids := make([]string, 0, len(catalog))
	for id := range catalog {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	return ids
}

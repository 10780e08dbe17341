package fetcher

import (
	"context"
	"time"

	"rate-annualizer/internal/rates"
)

// SeriesFetcher retrieves raw observations of one SGS series.
type SeriesFetcher interface {
	// FetchRange returns every observation dated within [start, end], inclusive.
	FetchRange(ctx context.Context, info rates.SeriesInfo, start, end time.Time) (rates.Series, error)
	// FetchLatest returns the most recent n observations, unbounded by date.
	FetchLatest(ctx context.Context, info rates.SeriesInfo, n int) (rates.Series, error)
}

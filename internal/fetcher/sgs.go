package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"rate-annualizer/internal/rates"
)

const (
	defaultSGSBaseURL = "https://api.bcb.gov.br"
	sgsSeriesPath     = "/dados/serie/bcdata.sgs.%d/dados"
	maxErrorBody      = 512
)

// SGSOptions parameterise the BCB SGS client.
type SGSOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Location  *time.Location
}

// SGS fetches time series from the central bank's SGS JSON API.
type SGS struct {
	opts    SGSOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	loc     *time.Location
}

// NewSGS constructs an SGS client.
func NewSGS(opts SGSOptions, logger zerolog.Logger) *SGS {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSGSBaseURL
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &SGS{
		opts:    opts,
		logger:  logger.With().Str("component", "sgs_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		loc:     loc,
	}
}

// FetchRange retrieves observations between start and end, inclusive.
func (s *SGS) FetchRange(ctx context.Context, info rates.SeriesInfo, start, end time.Time) (rates.Series, error) {
	if end.Before(start) {
		return rates.Series{}, &rates.ValidationError{Field: "range", Value: rates.FormatSGSDate(start) + "-" + rates.FormatSGSDate(end), Reason: "start after end"}
	}

	// SGS expects the slashes of dd/mm/yyyy unescaped.
	endpoint := s.baseURL + fmt.Sprintf(sgsSeriesPath, info.Code) +
		fmt.Sprintf("?formato=json&dataInicial=%s&dataFinal=%s", rates.FormatSGSDate(start), rates.FormatSGSDate(end))
	obs, err := s.get(ctx, info, endpoint)
	if err != nil {
		return rates.Series{}, err
	}

	return rates.Series{Info: info, Start: start, End: end, Observations: obs}, nil
}

// FetchLatest retrieves the last n observations.
func (s *SGS) FetchLatest(ctx context.Context, info rates.SeriesInfo, n int) (rates.Series, error) {
	if n <= 0 {
		n = rates.LatestWindow
	}

	endpoint := s.baseURL + fmt.Sprintf(sgsSeriesPath, info.Code) + fmt.Sprintf("/ultimos/%d?formato=json", n)
	obs, err := s.get(ctx, info, endpoint)
	if err != nil {
		return rates.Series{}, err
	}

	series := rates.Series{Info: info, Observations: obs}
	if len(obs) > 0 {
		series.Start = obs[0].Date
		series.End = obs[len(obs)-1].Date
	}
	return series, nil
}

func (s *SGS) get(ctx context.Context, info rates.SeriesInfo, endpoint string) ([]rates.Observation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &rates.TransportError{Code: info.Code, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "ratesim/1.0")
	}

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &rates.TransportError{Code: info.Code, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &rates.TransportError{Code: info.Code, Err: fmt.Errorf("read body: %w", err)}
	}

	s.logger.Debug().
		Int("series", info.Code).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("sgs request finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseHTTPError(info.Code, resp.StatusCode, payload)
	}

	return decodeObservations(info.Code, payload, s.loc)
}

type sgsRecord struct {
	Data  string `json:"data"`
	Valor string `json:"valor"`
}

type sgsErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func decodeObservations(code int, payload []byte, loc *time.Location) ([]rates.Observation, error) {
	var records []sgsRecord
	if err := json.Unmarshal(payload, &records); err != nil {
		return nil, &rates.DecodeError{Code: code, Err: err}
	}

	obs := make([]rates.Observation, 0, len(records))
	for _, rec := range records {
		date, err := rates.ParseSGSDate(strings.TrimSpace(rec.Data), loc)
		if err != nil {
			return nil, &rates.DecodeError{Code: code, Err: fmt.Errorf("parse date %q: %w", rec.Data, err)}
		}
		value, err := decimal.NewFromString(strings.TrimSpace(rec.Valor))
		if err != nil {
			return nil, &rates.DecodeError{Code: code, Err: fmt.Errorf("parse value %q on %s: %w", rec.Valor, rec.Data, err)}
		}
		obs = append(obs, rates.Observation{Date: date, Value: value})
	}
	for i := 1; i < len(obs); i++ {
		if obs[i].Date.Before(obs[i-1].Date) {
			return nil, &rates.DecodeError{Code: code, Err: errors.New("observations not in ascending date order")}
		}
	}
	return obs, nil
}

func parseHTTPError(code, status int, payload []byte) error {
	var apiErr sgsErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return &rates.HTTPStatusError{Code: code, StatusCode: status, Body: apiErr.Message}
		}
		if apiErr.Error != "" {
			return &rates.HTTPStatusError{Code: code, StatusCode: status, Body: apiErr.Error}
		}
	}
	body := strings.TrimSpace(string(payload))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &rates.HTTPStatusError{Code: code, StatusCode: status, Body: body}
}

var _ SeriesFetcher = (*SGS)(nil)

package form

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"rate-annualizer/internal/rates"
	"rate-annualizer/internal/service"
)

// RateSource is the annualizer surface the form needs.
type RateSource interface {
	Annualize(ctx context.Context, req service.Request) (rates.Annualized, error)
	CurrentCDI(ctx context.Context, policy service.Policy) (rates.Annualized, error)
	TrailingInflation(ctx context.Context) (rates.Annualized, error)
}

// Mode selects which figures an update writes.
type Mode string

const (
	// ModeLookback annualizes CDI and IPCA over the user's look-back.
	ModeLookback Mode = "lookback"
	// ModeCurrent writes the current CDI and trailing twelve-month IPCA.
	ModeCurrent Mode = "current"
)

// ParseMode accepts "" as ModeLookback.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeLookback:
		return ModeLookback, nil
	case ModeCurrent:
		return ModeCurrent, nil
	default:
		return "", &rates.ValidationError{Field: "mode", Value: s, Reason: "expected lookback or current"}
	}
}

// Result is what an update wrote to the target.
type Result struct {
	Mode          Mode             `json:"mode"`
	Months        int              `json:"months,omitempty"`
	Rate          rates.Annualized `json:"-"`
	Inflation     rates.Annualized `json:"-"`
	RateText      string           `json:"rate,omitempty"`
	InflationText string           `json:"inflation,omitempty"`
	Message       string           `json:"message"`
	Status        Status           `json:"status"`
}

// Updater fills the rate and inflation fields.
type Updater struct {
	source  RateSource
	tokens  *Tokens
	rateReq service.Request
	inflReq service.Request
	policy  service.Policy
	logger  zerolog.Logger
}

// UpdaterOptions selects the series and strategies written to the form.
type UpdaterOptions struct {
	RateSeries       string
	InflationSeries  string
	Strategy         rates.Strategy
	CurrentCDIPolicy service.Policy
}

func NewUpdater(source RateSource, tokens *Tokens, opts UpdaterOptions, logger zerolog.Logger) *Updater {
	if tokens == nil {
		tokens = NewTokens()
	}
	if opts.RateSeries == "" {
		opts.RateSeries = string(rates.CDI)
	}
	if opts.InflationSeries == "" {
		opts.InflationSeries = string(rates.IPCA)
	}
	if opts.Strategy == nil {
		opts.Strategy = rates.Compounding{}
	}
	return &Updater{
		source:  source,
		tokens:  tokens,
		rateReq: service.Request{Series: opts.RateSeries, Strategy: opts.Strategy},
		inflReq: service.Request{Series: opts.InflationSeries, Strategy: opts.Strategy},
		policy:  opts.CurrentCDIPolicy,
		logger:  logger.With().Str("component", "form_updater").Logger(),
	}
}

// Tokens exposes the request tokens the updater checks against.
func (u *Updater) Tokens() *Tokens {
	return u.tokens
}

// Update annualizes CDI and IPCA over months and writes both to target. key
// scopes the request token: a newer Update for the same key cancels this one,
// and a superseded update returns ErrSuperseded without touching target.
//
// Fetch failures revert both selectors to Unknown and show MsgFailure; the
// underlying error is returned for logging.
func (u *Updater) Update(ctx context.Context, key string, months int, target Target) (Result, error) {
	return u.run(ctx, key, ModeLookback, months, target)
}

// UpdateCurrent writes the current CDI and the trailing twelve-month IPCA.
func (u *Updater) UpdateCurrent(ctx context.Context, key string, target Target) (Result, error) {
	return u.run(ctx, key, ModeCurrent, 0, target)
}

// UpdateMode dispatches on mode.
func (u *Updater) UpdateMode(ctx context.Context, key string, mode Mode, months int, target Target) (Result, error) {
	return u.run(ctx, key, mode, months, target)
}

func (u *Updater) run(ctx context.Context, key string, mode Mode, months int, target Target) (Result, error) {
	result := Result{Mode: mode, Months: months}

	// An invalid period still supersedes whatever was in flight for key.
	tok, ctx := u.tokens.Begin(ctx, key+"/"+FieldPeriod)
	defer u.tokens.Finish(tok)

	if mode == ModeLookback && months <= 0 {
		result.Message, result.Status = MsgInvalidPeriod, StatusInvalid
		u.tokens.Commit(tok, func() { target.ShowStatus(result.Message, result.Status) })
		return result, &rates.ValidationError{Field: "lookback_months", Value: months, Reason: "must be a positive whole number of months"}
	}

	loading := MsgLoading
	if mode == ModeCurrent {
		loading = MsgLoadingLatest
	}
	u.tokens.Commit(tok, func() { target.ShowStatus(loading, StatusLoading) })

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if mode == ModeCurrent {
			result.Rate, err = u.source.CurrentCDI(gctx, u.policy)
		} else {
			req := u.rateReq
			req.LookbackMonths = months
			result.Rate, err = u.source.Annualize(gctx, req)
		}
		if err != nil {
			return fmt.Errorf("rate: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		if mode == ModeCurrent {
			result.Inflation, err = u.source.TrailingInflation(gctx)
		} else {
			req := u.inflReq
			req.LookbackMonths = months
			result.Inflation, err = u.source.Annualize(gctx, req)
		}
		if err != nil {
			return fmt.Errorf("inflation: %w", err)
		}
		return nil
	})
	fetchErr := g.Wait()

	if fetchErr != nil {
		result.Message, result.Status = MsgFailure, StatusFailure
		applied := u.tokens.Commit(tok, func() {
			target.SetKnowledge(SelectorRate, Unknown)
			target.SetKnowledge(SelectorInflation, Unknown)
			target.ShowStatus(result.Message, result.Status)
		})
		if !applied {
			return Result{Mode: mode, Months: months}, ErrSuperseded
		}
		u.logger.Warn().Err(fetchErr).Str("key", key).Int("months", months).Msg("rate update failed, manual entry required")
		return result, fetchErr
	}

	result.RateText = rates.FormatPercent(result.Rate.Value)
	result.InflationText = rates.FormatPercent(result.Inflation.Value)
	result.Status = StatusSuccess
	if mode == ModeCurrent {
		result.Message = CurrentMessage(result.RateText, result.InflationText)
	} else {
		result.Message = SuccessMessage(months, result.RateText, result.InflationText)
	}

	applied := u.tokens.Commit(tok, func() {
		target.SetField(FieldRate, result.RateText)
		target.SetField(FieldInflation, result.InflationText)
		target.SetKnowledge(SelectorRate, Known)
		target.SetKnowledge(SelectorInflation, Known)
		target.ShowStatus(result.Message, result.Status)
	})
	if !applied {
		u.logger.Debug().Str("key", key).Msg("discarding stale rate update")
		return Result{Mode: mode, Months: months}, ErrSuperseded
	}

	u.logger.Info().Str("key", key).Int("months", months).
		Str("rate", result.RateText).
		Str("inflation", result.InflationText).
		Msg("form rates updated")
	return result, nil
}

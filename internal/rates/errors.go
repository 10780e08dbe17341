package rates

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateUnavailable is the uniform failure signal: no value could be obtained
// from the rate source. Every source-side error below matches it via errors.Is.
var ErrRateUnavailable = errors.New("rate unavailable")

// TransportError wraps a network level failure talking to the rate source.
type TransportError struct {
	Code int
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sgs %d: transport: %v", e.Code, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrRateUnavailable }

// HTTPStatusError reports a non-2xx response.
type HTTPStatusError struct {
	Code       int
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("sgs %d: http status %d: %s", e.Code, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("sgs %d: http status %d", e.Code, e.StatusCode)
}

func (e *HTTPStatusError) Is(target error) bool { return target == ErrRateUnavailable }

// EmptySeriesError is returned when the requested range holds no observations.
type EmptySeriesError struct {
	Code  int
	Start time.Time
	End   time.Time
}

func (e *EmptySeriesError) Error() string {
	if e.Start.IsZero() {
		return fmt.Sprintf("sgs %d: no observations returned", e.Code)
	}
	return fmt.Sprintf("sgs %d: no observations between %s and %s", e.Code, FormatSGSDate(e.Start), FormatSGSDate(e.End))
}

func (e *EmptySeriesError) Is(target error) bool { return target == ErrRateUnavailable }

// DecodeError covers malformed payloads and non-numeric observation values.
type DecodeError struct {
	Code int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("sgs %d: decode: %v", e.Code, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrRateUnavailable }

// ValidationError is a caller-side input problem, raised before any fetch.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

package geocode

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoResults is returned by Search when the provider answered successfully
// but matched nothing.
var ErrNoResults = eris.New("geocode: no results")

// NetworkError is a transport failure or a non-2xx response other than 429.
// StatusCode is zero for transport failures.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("geocode: provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("geocode: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError is returned when a single request exceeds its timeout.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("geocode: request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RateLimitedError is an HTTP 429 from the provider.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("geocode: rate limited, retry after %s", e.RetryAfter)
}

// LowQualityError means the best candidate for a query scored below the
// acceptance threshold.
type LowQualityError struct {
	Score     float64
	Threshold float64
}

func (e *LowQualityError) Error() string {
	return fmt.Sprintf("geocode: best candidate scored %.2f, below threshold %.2f", e.Score, e.Threshold)
}

// Package source fetches raw exchange-rate time series from the
// exchangerate.host timeframe API.
package source

import (
	"errors"
	"fmt"
	"time"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
)

// Default client settings.
const (
	DefaultBaseURL     = "https://api.exchangerate.host"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = 1500 * time.Millisecond
)

// Payload is a decoded API response. Objects decode to map[string]any and
// numbers to json.Number so the document can be re-serialised unchanged.
type Payload = any

var (
	// ErrFetchFailed marks a chunk whose every attempt failed.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrNonJSON is returned for bodies that do not parse as JSON.
	ErrNonJSON = errors.New("non-JSON response from API")
)

// FetchError is the terminal error for a chunk after retries are exhausted.
type FetchError struct {
	Chunk    daterange.Chunk
	Attempts int
	Err      error // last observed cause
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch timeframe %s after %d attempt(s): %v", e.Chunk, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// APIError is a logical failure reported inside an otherwise successful
// response: success=false or a non-empty error field.
type APIError struct {
	SuccessFalse bool
	Detail       any
}

func (e *APIError) Error() string {
	if e.SuccessFalse {
		return fmt.Sprintf("API returned success=false: %v", e.Detail)
	}
	return fmt.Sprintf("API error: %v", e.Detail)
}

// StatusError is an HTTP status of 400 or above.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}

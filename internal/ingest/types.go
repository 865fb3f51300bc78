package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
)

// Request is a fully resolved ingestion request.
type Request struct {
	Output         string // root output location, for reporting
	Start          time.Time
	End            time.Time
	Currencies     []string
	AccessKey      string
	MaxDaysPerCall int
}

// Validate checks the request before any network activity.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Output) == "" {
		return fmt.Errorf("%w: output location is required", ErrInvalidConfiguration)
	}
	if r.MaxDaysPerCall <= 0 {
		return fmt.Errorf("%w: max days per call must be positive, got %d", ErrInvalidConfiguration, r.MaxDaysPerCall)
	}
	if len(r.Currencies) == 0 {
		return fmt.Errorf("%w: at least one currency is required", ErrInvalidConfiguration)
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidConfiguration)
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidConfiguration,
			r.Start.Format(daterange.Layout), r.End.Format(daterange.Layout))
	}
	return nil
}

// Object is a payload written to storage.
type Object struct {
	Chunk    daterange.Chunk
	Key      string
	URI      string
	Bytes    int64
	Checksum string
	Replaced bool // an object already existed at Key
}

// Report summarises a run. It is returned on failure too, describing how far
// the run got.
type Report struct {
	RunID      string
	Start      time.Time
	End        time.Time
	Chunks     int
	Written    []Object
	Skipped    []daterange.Chunk
	AnyWritten bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

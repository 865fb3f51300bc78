package ingest

import (
	"errors"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/source"
)

var (
	// ErrInvalidConfiguration marks a request that cannot be run: bad dates,
	// non-positive chunk span, missing output or no currencies. It is
	// reported before any network activity.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrFetchFailed marks a chunk whose fetch exhausted every attempt.
	ErrFetchFailed = source.ErrFetchFailed

	// ErrWriteRejected marks a destination refused by the write guard.
	ErrWriteRejected = errors.New("write rejected")

	// ErrWriteFailed marks a storage error while writing an object.
	ErrWriteFailed = errors.New("write failed")

	// ErrNoDataIngested marks a run in which every chunk was skipped.
	ErrNoDataIngested = errors.New("no data ingested")
)

// Package catalog records run and object lineage for ingestion runs.
package catalog

import (
	"context"
	"time"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Config selects the catalog backend.
type Config struct {
	PostgresDSN string
}

// Run describes an ingestion run when it starts.
type Run struct {
	RunID           string
	Output          string
	StartDate       time.Time
	EndDate         time.Time
	Currencies      []string
	Chunks          int
	ProducerVersion string
	StartedAt       time.Time
}

// RunResult describes how a run ended.
type RunResult struct {
	RunID   string
	Status  Status
	Written int
	Skipped int
	Error   string
}

// ObjectRecord is the lineage entry for one written object.
type ObjectRecord struct {
	RunID      string
	Key        string
	URI        string
	ChunkStart time.Time
	ChunkEnd   time.Time
	ByteSize   int64
	Checksum   string
}

// Writer persists run and object lineage.
type Writer interface {
	StartRun(ctx context.Context, run Run) error
	RecordObject(ctx context.Context, rec ObjectRecord) error
	FinishRun(ctx context.Context, res RunResult) error

	// LastEventHash returns the completion event hash of the most recent
	// run into output that emitted one, or "".
	LastEventHash(ctx context.Context, output string) (string, error)
	// SaveEventHash attaches the completion event hash to a run.
	SaveEventHash(ctx context.Context, runID, eventHash string) error

	Close() error
}

// NewWriter returns a PostgreSQL writer when a DSN is configured and a no-op
// writer otherwise.
func NewWriter(ctx context.Context, cfg Config) (Writer, error) {
	if cfg.PostgresDSN == "" {
		return NoopWriter{}, nil
	}
	return NewPostgresWriter(ctx, cfg)
}

// NoopWriter discards all records.
type NoopWriter struct{}

func (NoopWriter) StartRun(context.Context, Run) error             { return nil }
func (NoopWriter) RecordObject(context.Context, ObjectRecord) error { return nil }
func (NoopWriter) FinishRun(context.Context, RunResult) error       { return nil }
func (NoopWriter) Close() error                                     { return nil }

func (NoopWriter) LastEventHash(context.Context, string) (string, error) { return "", nil }
func (NoopWriter) SaveEventHash(context.Context, string, string) error   { return nil }

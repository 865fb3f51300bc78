// Package metrics provides Prometheus metrics for fx-ingest runs.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/observe"
)

const defaultNamespace = "fx_ingest"

// Metrics holds all Prometheus metrics for a run. It implements
// observe.Observer so the ingestion core can feed it directly.
type Metrics struct {
	registry *prometheus.Registry

	// Chunk metrics
	ChunksPlanned prometheus.Counter
	ChunksWritten prometheus.Counter
	ChunksSkipped prometheus.Counter

	// Fetch metrics
	FetchAttempts       prometheus.Counter
	FetchFailures       prometheus.Counter
	FetchFailedDuration prometheus.Histogram

	// Write metrics
	ChunkDuration prometheus.Histogram
	ObjectBytes   prometheus.Histogram

	// Run metrics
	Runs               *prometheus.CounterVec
	LastSuccessSeconds prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	PushURL string // Pushgateway URL; empty disables pushing
	Job     string // Pushgateway job name
}

// New creates the metrics on a dedicated registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ChunksPlanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_planned_total",
			Help:      "Total number of month-aligned chunks planned",
		}),
		ChunksWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Total number of chunks written to storage",
		}),
		ChunksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_skipped_total",
			Help:      "Total number of chunks skipped for lacking data fields",
		}),
		FetchAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Total number of timeframe fetch attempts",
		}),
		FetchFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempt_failures_total",
			Help:      "Total number of fetch attempts that failed and were retried or gave up",
		}),
		FetchFailedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_failed_duration_seconds",
			Help:      "Time spent on fetch attempts that failed",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Time to fetch, validate and write one chunk",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ObjectBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "object_bytes",
			Help:      "Size of written objects in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 15), // 1KB to ~32MB
		}),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of runs by outcome",
			},
			[]string{"outcome"},
		),
		LastSuccessSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
	}
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe implements observe.Observer.
func (m *Metrics) Observe(e observe.Event) {
	switch e.Kind {
	case observe.RunPlanned:
		m.ChunksPlanned.Add(float64(e.Total))
	case observe.FetchAttempt:
		m.FetchAttempts.Inc()
	case observe.FetchAttemptFailed:
		m.FetchFailures.Inc()
		m.FetchFailedDuration.Observe(e.Duration.Seconds())
	case observe.ChunkSkipped:
		m.ChunksSkipped.Inc()
	case observe.ChunkWritten:
		m.ChunksWritten.Inc()
		m.ChunkDuration.Observe(e.Duration.Seconds())
		m.ObjectBytes.Observe(float64(e.Bytes))
	}
}

// RecordRun records the run outcome, labelled by the error class.
func (m *Metrics) RecordRun(outcome string, at time.Time) {
	m.Runs.WithLabelValues(outcome).Inc()
	if outcome == "success" {
		m.LastSuccessSeconds.Set(float64(at.Unix()))
	}
}

// Push sends the registry to the Pushgateway once. It is a no-op without a
// push URL.
func (m *Metrics) Push(ctx context.Context, cfg Config) error {
	if cfg.PushURL == "" {
		return nil
	}
	job := cfg.Job
	if job == "" {
		job = defaultNamespace
	}
	if err := push.New(cfg.PushURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", cfg.PushURL, err)
	}
	return nil
}

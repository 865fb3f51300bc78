// Package observe carries structured pipeline events from the ingestion core
// to whoever is watching: logs, metrics, a progress bar.
package observe

import (
	"log/slog"
	"time"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
)

// Kind names a pipeline event.
type Kind string

const (
	RunPlanned         Kind = "run.planned"
	FetchAttempt       Kind = "fetch.attempt"
	FetchAttemptFailed Kind = "fetch.attempt_failed"
	ChunkSkipped       Kind = "chunk.skipped"
	ChunkWritten       Kind = "chunk.written"
)

// Event is a single pipeline occurrence. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind     Kind
	Chunk    daterange.Chunk
	Attempt  int           // fetch attempts, 1-based
	Err      error         // FetchAttemptFailed
	Reason   string        // ChunkSkipped
	Key      string        // ChunkWritten
	URI      string        // ChunkWritten
	Bytes    int64         // ChunkWritten
	Total    int           // RunPlanned: number of chunks
	Duration time.Duration // FetchAttempt(Failed): time spent on the attempt
}

// Observer receives pipeline events. Implementations must not block.
type Observer interface {
	Observe(Event)
}

// Func adapts a function to Observer.
type Func func(Event)

func (f Func) Observe(e Event) { f(e) }

// Nop discards every event.
var Nop Observer = Func(func(Event) {})

type multi []Observer

func (m multi) Observe(e Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

// Multi fans events out to every non-nil observer, in order.
func Multi(observers ...Observer) Observer {
	var m multi
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	if len(m) == 0 {
		return Nop
	}
	return m
}

// Log reports events through a structured logger.
func Log(log *slog.Logger) Observer {
	return Func(func(e Event) {
		switch e.Kind {
		case RunPlanned:
			log.Info("split into month-aligned chunks", "chunks", e.Total)
		case FetchAttempt:
			log.Info("fetching chunk", "chunk", e.Chunk.String(), "attempt", e.Attempt)
		case FetchAttemptFailed:
			log.Warn("fetch attempt failed",
				"chunk", e.Chunk.String(),
				"attempt", e.Attempt,
				"duration", e.Duration.String(),
				"error", e.Err,
			)
		case ChunkSkipped:
			log.Warn("skipping chunk", "chunk", e.Chunk.String(), "reason", e.Reason)
		case ChunkWritten:
			log.Info("uploaded raw json",
				"chunk", e.Chunk.String(),
				"uri", e.URI,
				"bytes", e.Bytes,
			)
		}
	})
}

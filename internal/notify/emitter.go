package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Config selects where completion events go.
type Config struct {
	Endpoint  string        // HTTP endpoint; empty disables delivery
	BackupDir string        // local audit copies; empty disables
	Timeout   time.Duration // per request, default 30s

	// Heads tracks chain heads. When nil the backup directory serves, and
	// without either every event starts a new chain.
	Heads HeadStore
}

// Emitter publishes completion events.
type Emitter interface {
	Emit(ctx context.Context, evt *Event) error
	Close() error
}

// NewEmitter creates an emitter for cfg. With neither an endpoint nor a
// backup directory it returns a no-op emitter.
func NewEmitter(cfg Config, log *slog.Logger) (Emitter, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Endpoint == "" && cfg.BackupDir == "" {
		log.Debug("notification disabled, using no-op emitter")
		return NoopEmitter{}, nil
	}

	e := &EventEmitter{log: log, heads: cfg.Heads}

	if cfg.BackupDir != "" {
		backup, err := NewFileBackup(cfg.BackupDir)
		if err != nil {
			return nil, fmt.Errorf("create file backup: %w", err)
		}
		e.backup = backup
		if e.heads == nil {
			e.heads = backup
		}
	}

	if cfg.Endpoint != "" {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		e.poster = &poster{
			endpoint: cfg.Endpoint,
			client:   &http.Client{Timeout: timeout},
			retries:  3,
			delay:    time.Second,
			onRetry: func(attempt int, err error, wait time.Duration) {
				log.Warn("notify attempt failed, retrying",
					"attempt", attempt,
					"error", err,
					"retry_in", wait.String(),
				)
			},
		}
	}

	return e, nil
}

// EventEmitter backs events up to disk and POSTs them to an endpoint.
type EventEmitter struct {
	log    *slog.Logger
	heads  HeadStore
	backup *FileBackup
	poster *poster
}

// Emit stamps the event, links it to the previous event for the same output,
// saves a local copy and delivers it.
func (e *EventEmitter) Emit(ctx context.Context, evt *Event) error {
	prevHash := ""
	if e.heads != nil {
		h, err := e.heads.LastEventHash(ctx, evt.ChainKey())
		if err != nil {
			return fmt.Errorf("get chain head: %w", err)
		}
		prevHash = h
	}

	evt.Version = EventVersion
	evt.EventType = EventType
	evt.EventID = uuid.NewString()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	evt.SetChainHashes(prevHash)

	e.log.Info("emitting completion event",
		"run_id", evt.Run.RunID,
		"objects", len(evt.Objects),
		"event_hash", evt.Chain.EventHash,
	)

	// Backup first; the HTTP POST is the primary path
	if e.backup != nil {
		if err := e.backup.Save(evt); err != nil {
			if e.poster == nil {
				return err
			}
			e.log.Warn("event backup failed", "error", err)
		}
	}

	if e.poster != nil {
		if err := e.poster.postWithRetry(ctx, evt); err != nil {
			return fmt.Errorf("emit event: %w", err)
		}
	}

	if e.heads != nil {
		if err := e.heads.SaveEventHash(ctx, evt.Run.RunID, evt.Chain.EventHash); err != nil {
			e.log.Warn("failed to update chain head", "error", err)
		}
	}

	return nil
}

// Close releases resources.
func (e *EventEmitter) Close() error {
	return nil
}

// NoopEmitter drops every event.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, *Event) error { return nil }
func (NoopEmitter) Close() error                        { return nil }

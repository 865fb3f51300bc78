package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresWriter implements Writer using PostgreSQL.
type PostgresWriter struct {
	pool *pgxpool.Pool
}

// NewPostgresWriter connects to the catalog database and ensures the
// _meta_fx_* tables exist.
func NewPostgresWriter(ctx context.Context, cfg Config) (*PostgresWriter, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	// Configure connection pool
	poolCfg.MaxConns = 5
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &PostgresWriter{pool: pool}, nil
}

// StartRun inserts the run row in the running state.
func (w *PostgresWriter) StartRun(ctx context.Context, run Run) error {
	query := `
		INSERT INTO _meta_fx_runs (
			run_id, output, start_date, end_date, currencies,
			chunk_count, status, producer_version, started_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := w.pool.Exec(ctx, query,
		run.RunID,
		run.Output,
		run.StartDate,
		run.EndDate,
		strings.Join(run.Currencies, ","),
		run.Chunks,
		string(StatusRunning),
		run.ProducerVersion,
		run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("start run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordObject writes the lineage row for an object. Re-ingesting the same
// chunk overwrites the object, so the row is upserted by key.
func (w *PostgresWriter) RecordObject(ctx context.Context, rec ObjectRecord) error {
	query := `
		INSERT INTO _meta_fx_objects (
			object_key, run_id, storage_uri, chunk_start, chunk_end,
			byte_size, checksum
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (object_key)
		DO UPDATE SET
			run_id = EXCLUDED.run_id,
			storage_uri = EXCLUDED.storage_uri,
			byte_size = EXCLUDED.byte_size,
			checksum = EXCLUDED.checksum,
			created_at = NOW()
	`

	_, err := w.pool.Exec(ctx, query,
		rec.Key,
		rec.RunID,
		rec.URI,
		rec.ChunkStart,
		rec.ChunkEnd,
		rec.ByteSize,
		rec.Checksum,
	)
	if err != nil {
		return fmt.Errorf("record object %s: %w", rec.Key, err)
	}
	return nil
}

// FinishRun stores the final status and counters of a run.
func (w *PostgresWriter) FinishRun(ctx context.Context, res RunResult) error {
	query := `
		UPDATE _meta_fx_runs
		SET status = $2,
			written_count = $3,
			skipped_count = $4,
			error_message = NULLIF($5, ''),
			finished_at = NOW()
		WHERE run_id = $1
	`

	tag, err := w.pool.Exec(ctx, query,
		res.RunID,
		string(res.Status),
		res.Written,
		res.Skipped,
		res.Error,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", res.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run %s: run not found", res.RunID)
	}
	return nil
}

// LastEventHash returns the event hash of the latest run into output that
// emitted a completion event.
func (w *PostgresWriter) LastEventHash(ctx context.Context, output string) (string, error) {
	query := `
		SELECT event_hash
		FROM _meta_fx_runs
		WHERE output = $1 AND event_hash IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1
	`

	var hash string
	err := w.pool.QueryRow(ctx, query, output).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last event hash for %s: %w", output, err)
	}
	return hash, nil
}

// SaveEventHash stores the completion event hash on the run row.
func (w *PostgresWriter) SaveEventHash(ctx context.Context, runID, eventHash string) error {
	tag, err := w.pool.Exec(ctx, `UPDATE _meta_fx_runs SET event_hash = $2 WHERE run_id = $1`, runID, eventHash)
	if err != nil {
		return fmt.Errorf("save event hash for run %s: %w", runID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save event hash for run %s: run not found", runID)
	}
	return nil
}

// Close releases the connection pool.
func (w *PostgresWriter) Close() error {
	if w.pool != nil {
		w.pool.Close()
	}
	return nil
}

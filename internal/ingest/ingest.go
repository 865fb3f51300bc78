// Package ingest drives an FX ingestion run: it splits the requested interval
// into month-aligned chunks, fetches each one, and writes every usable payload
// to partitioned storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/catalog"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/notify"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/observe"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/source"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

// Fetcher retrieves the payload for one chunk.
type Fetcher interface {
	Fetch(ctx context.Context, chunk daterange.Chunk, currencies []string, accessKey string) (source.Payload, error)
}

// Options wires the optional collaborators of an Ingester.
type Options struct {
	Catalog       catalog.Writer
	CatalogStrict bool // catalog errors fail the run
	Notifier      notify.Emitter
	NotifyStrict  bool // notification errors fail the run
	Observer      observe.Observer
	Logger        *slog.Logger
	NewRunID      func() string
}

// Ingester orchestrates a run. Chunks are processed strictly in order, one
// at a time.
type Ingester struct {
	fetcher      Fetcher
	writer       *PartitionWriter
	meta         catalog.Writer
	metaStrict   bool
	notifier     notify.Emitter
	notifyStrict bool
	obs          observe.Observer
	log          *slog.Logger
	newRunID     func() string
}

// New creates an Ingester. Nil collaborators in opts are replaced by no-ops.
func New(fetcher Fetcher, writer *PartitionWriter, opts Options) *Ingester {
	in := &Ingester{
		fetcher:      fetcher,
		writer:       writer,
		meta:         opts.Catalog,
		metaStrict:   opts.CatalogStrict,
		notifier:     opts.Notifier,
		notifyStrict: opts.NotifyStrict,
		obs:          observe.Multi(opts.Observer),
		log:          opts.Logger,
		newRunID:     opts.NewRunID,
	}
	if in.meta == nil {
		in.meta = catalog.NoopWriter{}
	}
	if in.notifier == nil {
		in.notifier = notify.NoopEmitter{}
	}
	if in.log == nil {
		in.log = slog.Default()
	}
	in.log = in.log.With("component", "ingest")
	if in.newRunID == nil {
		in.newRunID = uuid.NewString
	}
	return in
}

// Run ingests req. It stops at the first chunk whose fetch or write fails and
// returns ErrNoDataIngested when every chunk was skipped. The report is
// returned alongside any error raised after planning.
func (in *Ingester) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	chunks, err := daterange.Split(req.Start, req.End, req.MaxDaysPerCall)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	report := &Report{
		RunID:     in.newRunID(),
		Start:     req.Start,
		End:       req.End,
		Chunks:    len(chunks),
		StartedAt: time.Now().UTC(),
	}
	log := in.log.With("run_id", report.RunID)

	log.Info("starting run",
		"start_date", req.Start.Format(daterange.Layout),
		"end_date", req.End.Format(daterange.Layout),
		"currencies", req.Currencies,
		"max_days_per_call", req.MaxDaysPerCall,
		"output", req.Output,
	)
	in.obs.Observe(observe.Event{Kind: observe.RunPlanned, Total: len(chunks)})

	if err := in.lenient(log, in.metaStrict, "catalog start run", in.meta.StartRun(ctx, catalog.Run{
		RunID:           report.RunID,
		Output:          req.Output,
		StartDate:       req.Start,
		EndDate:         req.End,
		Currencies:      req.Currencies,
		Chunks:          len(chunks),
		ProducerVersion: Version,
		StartedAt:       report.StartedAt,
	})); err != nil {
		return report, err
	}

	runErr := in.runChunks(ctx, log, req, chunks, report)
	if runErr == nil && !report.AnyWritten {
		runErr = fmt.Errorf("%w: all %d chunk(s) between %s and %s were skipped", ErrNoDataIngested,
			len(chunks), req.Start.Format(daterange.Layout), req.End.Format(daterange.Layout))
	}
	if runErr == nil {
		runErr = in.lenient(log, in.notifyStrict, "completion event", in.notifier.Emit(ctx, completionEvent(req, report)))
	}
	report.FinishedAt = time.Now().UTC()

	in.finish(ctx, log, report, runErr)
	if runErr != nil {
		log.Error("run failed", "error", runErr, "written", len(report.Written), "skipped", len(report.Skipped))
		return report, runErr
	}

	log.Info("run completed",
		"chunks", report.Chunks,
		"written", len(report.Written),
		"skipped", len(report.Skipped),
		"duration", report.Duration().String(),
	)
	return report, nil
}

func (in *Ingester) runChunks(ctx context.Context, log *slog.Logger, req Request, chunks []daterange.Chunk, report *Report) error {
	for _, chunk := range chunks {
		started := time.Now()

		payload, err := in.fetcher.Fetch(ctx, chunk, req.Currencies, req.AccessKey)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk, err)
		}

		if verdict := Validate(payload); verdict.Skippable() {
			report.Skipped = append(report.Skipped, chunk)
			in.obs.Observe(observe.Event{Kind: observe.ChunkSkipped, Chunk: chunk, Reason: verdict.Reason})
			continue
		}

		obj, err := in.writer.Write(ctx, payload, in.writer.Key(chunk))
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk, err)
		}
		obj.Chunk = chunk
		if obj.Replaced {
			log.Info("overwriting existing object", "chunk", chunk.String(), "uri", obj.URI)
		}
		report.Written = append(report.Written, obj)
		report.AnyWritten = true

		in.obs.Observe(observe.Event{
			Kind:     observe.ChunkWritten,
			Chunk:    chunk,
			Key:      obj.Key,
			URI:      obj.URI,
			Bytes:    obj.Bytes,
			Duration: time.Since(started),
		})

		if err := in.lenient(log, in.metaStrict, "catalog record object", in.meta.RecordObject(ctx, catalog.ObjectRecord{
			RunID:      report.RunID,
			Key:        obj.Key,
			URI:        obj.URI,
			ChunkStart: chunk.Start,
			ChunkEnd:   chunk.End,
			ByteSize:   obj.Bytes,
			Checksum:   obj.Checksum,
		})); err != nil {
			return fmt.Errorf("chunk %s: %w", chunk, err)
		}
	}
	return nil
}

// finish records the final run status. The catalog update uses a context
// detached from cancellation so an interrupted run is still marked failed.
func (in *Ingester) finish(ctx context.Context, log *slog.Logger, report *Report, runErr error) {
	res := catalog.RunResult{
		RunID:   report.RunID,
		Status:  catalog.StatusSucceeded,
		Written: len(report.Written),
		Skipped: len(report.Skipped),
	}
	if runErr != nil {
		res.Status = catalog.StatusFailed
		res.Error = runErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := in.meta.FinishRun(ctx, res); err != nil {
		log.Warn("catalog finish run failed", "error", err)
	}
}

// lenient logs err and swallows it unless strict is set.
func (in *Ingester) lenient(log *slog.Logger, strict bool, what string, err error) error {
	if err == nil {
		return nil
	}
	if strict {
		return fmt.Errorf("%s: %w", what, err)
	}
	log.Warn(what+" failed, continuing", "error", err)
	return nil
}

func completionEvent(req Request, report *Report) *notify.Event {
	objects := make([]notify.ObjectInfo, 0, len(report.Written))
	for _, obj := range report.Written {
		objects = append(objects, notify.ObjectInfo{
			Key:        obj.Key,
			URI:        obj.URI,
			ChunkStart: obj.Chunk.Start.Format(daterange.Layout),
			ChunkEnd:   obj.Chunk.End.Format(daterange.Layout),
			ByteSize:   obj.Bytes,
			Checksum:   obj.Checksum,
		})
	}

	return &notify.Event{
		Run: notify.RunInfo{
			RunID:      report.RunID,
			Output:     req.Output,
			StartDate:  req.Start.Format(daterange.Layout),
			EndDate:    req.End.Format(daterange.Layout),
			Currencies: req.Currencies,
			Chunks:     report.Chunks,
			Written:    len(report.Written),
			Skipped:    len(report.Skipped),
		},
		Objects: objects,
		Producer: notify.ProducerInfo{
			Name:    "fx-ingest",
			Version: Version,
			GitSHA:  GitSHA,
		},
	}
}

// IsConfigError reports whether err stems from an invalid request.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}

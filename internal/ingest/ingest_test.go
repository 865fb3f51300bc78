package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/catalog"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/notify"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/observe"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/source"
)

// fetchFunc adapts a function to Fetcher.
type fetchFunc func(ctx context.Context, chunk daterange.Chunk) (source.Payload, error)

func (f fetchFunc) Fetch(ctx context.Context, chunk daterange.Chunk, _ []string, _ string) (source.Payload, error) {
	return f(ctx, chunk)
}

func usable(chunk daterange.Chunk) source.Payload {
	return map[string]any{
		"success": true,
		"quotes":  map[string]any{chunk.Start.Format(daterange.Layout): map[string]any{"USDEUR": 0.9}},
	}
}

// fakeCatalog records catalog calls.
type fakeCatalog struct {
	started  []catalog.Run
	objects  []catalog.ObjectRecord
	finished []catalog.RunResult
	hashes   map[string]string
	err      error
}

func (c *fakeCatalog) StartRun(_ context.Context, run catalog.Run) error {
	c.started = append(c.started, run)
	return c.err
}

func (c *fakeCatalog) RecordObject(_ context.Context, rec catalog.ObjectRecord) error {
	c.objects = append(c.objects, rec)
	return c.err
}

func (c *fakeCatalog) FinishRun(_ context.Context, res catalog.RunResult) error {
	c.finished = append(c.finished, res)
	return nil
}

func (c *fakeCatalog) LastEventHash(_ context.Context, output string) (string, error) {
	for i := len(c.started) - 1; i >= 0; i-- {
		run := c.started[i]
		if h := c.hashes[run.RunID]; run.Output == output && h != "" {
			return h, nil
		}
	}
	return "", nil
}

func (c *fakeCatalog) SaveEventHash(_ context.Context, runID, eventHash string) error {
	if c.hashes == nil {
		c.hashes = make(map[string]string)
	}
	c.hashes[runID] = eventHash
	return nil
}

func (c *fakeCatalog) Close() error { return nil }

// fakeNotifier records emitted events.
type fakeNotifier struct {
	events []*notify.Event
	err    error
}

func (n *fakeNotifier) Emit(_ context.Context, evt *notify.Event) error {
	n.events = append(n.events, evt)
	return n.err
}

func (n *fakeNotifier) Close() error { return nil }

// recordingEmitter keeps every event passed to a real emitter.
type recordingEmitter struct {
	notify.Emitter
	events []*notify.Event
}

func (r *recordingEmitter) Emit(ctx context.Context, evt *notify.Event) error {
	r.events = append(r.events, evt)
	return r.Emitter.Emit(ctx, evt)
}

type kindCounter map[observe.Kind]int

func (k kindCounter) Observe(e observe.Event) { k[e.Kind]++ }

type harness struct {
	store    *fakeStore
	catalog  *fakeCatalog
	notifier *fakeNotifier
	kinds    kindCounter
}

func newIngester(t *testing.T, fetcher Fetcher, mutate func(*Options)) (*Ingester, *harness) {
	t.Helper()
	h := &harness{
		store:    newFakeStore(),
		catalog:  &fakeCatalog{},
		notifier: &fakeNotifier{},
		kinds:    kindCounter{},
	}
	w, _ := newWriter(t, h.store, "raw")
	opts := Options{
		Catalog:  h.catalog,
		Notifier: h.notifier,
		Observer: h.kinds,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewRunID: func() string { return "run-test" },
	}
	if mutate != nil {
		mutate(&opts)
	}
	return New(fetcher, w, opts), h
}

func request(start, end time.Time, maxDays int) Request {
	return Request{
		Output:         "s3://bucket/raw",
		Start:          start,
		End:            end,
		Currencies:     []string{"USD", "EUR", "INR"},
		MaxDaysPerCall: maxDays,
	}
}

func TestRun_WritesEveryChunk(t *testing.T) {
	var seen []daterange.Chunk
	in, h := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		seen = append(seen, c)
		return usable(c), nil
	}), nil)

	report, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 15), daterange.Date(2025, 6, 10), 365))
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, "2025-05-15..2025-05-31", seen[0].String())
	assert.Equal(t, "2025-06-01..2025-06-10", seen[1].String())

	assert.True(t, report.AnyWritten)
	assert.Equal(t, "run-test", report.RunID)
	require.Len(t, report.Written, 2)
	assert.Contains(t, h.store.objects, "raw/year=2025/month=05/timeframe_2025-05-15_to_2025-05-31.json")
	assert.Contains(t, h.store.objects, "raw/year=2025/month=06/timeframe_2025-06-01_to_2025-06-10.json")

	assert.Equal(t, 1, h.kinds[observe.RunPlanned])
	assert.Equal(t, 2, h.kinds[observe.ChunkWritten])

	require.Len(t, h.catalog.started, 1)
	assert.Len(t, h.catalog.objects, 2)
	require.Len(t, h.catalog.finished, 1)
	assert.Equal(t, catalog.StatusSucceeded, h.catalog.finished[0].Status)

	require.Len(t, h.notifier.events, 1)
	evt := h.notifier.events[0]
	assert.Equal(t, "run-test", evt.Run.RunID)
	assert.Equal(t, 2, evt.Run.Written)
	assert.Len(t, evt.Objects, 2)
}

func TestRun_SkipsUnusableChunks(t *testing.T) {
	in, h := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		if c.Start.Day() == 1 {
			return map[string]any{"success": true, "quotes": map[string]any{}}, nil
		}
		return usable(c), nil
	}), nil)

	report, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 15), daterange.Date(2025, 6, 10), 365))
	require.NoError(t, err)
	assert.Len(t, report.Written, 1)
	assert.Len(t, report.Skipped, 1)
	assert.Equal(t, 1, h.kinds[observe.ChunkSkipped])
	assert.Len(t, h.store.objects, 1)
}

func TestRun_AllFetchesFailAbortsRun(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"success":false,"error":{"info":"invalid access key"}}`))
	}))
	defer srv.Close()

	client, err := source.NewTimeframeClient(source.Config{
		BaseURL:     srv.URL,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
	}, nil, nil)
	require.NoError(t, err)

	in, h := newIngester(t, client, nil)
	report, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 15), daterange.Date(2025, 6, 10), 365))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "chunk 2025-05-15..2025-05-31")
	assert.EqualValues(t, 3, calls.Load(), "second chunk is never fetched")
	assert.Empty(t, h.store.objects)
	assert.False(t, report.AnyWritten)

	require.Len(t, h.catalog.finished, 1)
	assert.Equal(t, catalog.StatusFailed, h.catalog.finished[0].Status)
	assert.Empty(t, h.notifier.events)
}

func TestRun_AllChunksSkipped(t *testing.T) {
	in, h := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		return map[string]any{"success": true, "rates": map[string]any{}}, nil
	}), nil)

	report, err := in.Run(context.Background(), request(daterange.Date(2025, 1, 1), daterange.Date(2025, 3, 31), 365))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrNoDataIngested)
	assert.NotErrorIs(t, err, ErrFetchFailed)
	assert.Empty(t, h.store.objects)
	assert.Len(t, report.Skipped, 3)
	assert.Equal(t, 3, h.kinds[observe.ChunkSkipped])
	assert.Equal(t, catalog.StatusFailed, h.catalog.finished[0].Status)
}

func TestRun_WriteRejectedIsFatal(t *testing.T) {
	fetched := 0
	in, h := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		fetched++
		return usable(c), nil
	}), nil)
	h.store.scheme = "s3://deploy/currency-script/"

	_, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 15), daterange.Date(2025, 6, 10), 365))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteRejected)
	assert.Equal(t, 1, fetched)
	assert.Zero(t, h.store.puts)
}

func TestRun_WriteFailedIsFatal(t *testing.T) {
	in, h := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		return usable(c), nil
	}), nil)
	h.store.err = errors.New("bucket gone")

	_, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 1), daterange.Date(2025, 5, 31), 365))
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Contains(t, err.Error(), "chunk 2025-05-01..2025-05-31")
}

func TestRun_InvalidRequest(t *testing.T) {
	calls := 0
	in, _ := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		calls++
		return usable(c), nil
	}), nil)

	valid := request(daterange.Date(2025, 1, 1), daterange.Date(2025, 1, 10), 5)
	tests := map[string]func(r *Request){
		"missing output":   func(r *Request) { r.Output = "" },
		"zero max days":    func(r *Request) { r.MaxDaysPerCall = 0 },
		"no currencies":    func(r *Request) { r.Currencies = nil },
		"inverted":         func(r *Request) { r.Start, r.End = r.End, r.Start },
		"missing end date": func(r *Request) { r.End = time.Time{} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			_, err := in.Run(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidConfiguration)
			assert.True(t, IsConfigError(err))
		})
	}
	assert.Zero(t, calls, "no fetch before validation passes")
}

func TestRun_LenientCollaborators(t *testing.T) {
	in, h := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		return usable(c), nil
	}), nil)
	h.catalog.err = errors.New("catalog down")
	h.notifier.err = errors.New("scheduler down")

	report, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 1), daterange.Date(2025, 5, 31), 365))
	require.NoError(t, err)
	assert.True(t, report.AnyWritten)
}

func TestRun_StrictCollaborators(t *testing.T) {
	fetch := fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		return usable(c), nil
	})

	t.Run("catalog", func(t *testing.T) {
		in, h := newIngester(t, fetch, func(o *Options) { o.CatalogStrict = true })
		h.catalog.err = errors.New("catalog down")
		_, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 1), daterange.Date(2025, 5, 31), 365))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "catalog start run")
		assert.Empty(t, h.store.objects)
	})

	t.Run("notify", func(t *testing.T) {
		in, h := newIngester(t, fetch, func(o *Options) { o.NotifyStrict = true })
		h.notifier.err = errors.New("scheduler down")
		_, err := in.Run(context.Background(), request(daterange.Date(2025, 5, 1), daterange.Date(2025, 5, 31), 365))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "completion event")
		assert.Equal(t, catalog.StatusFailed, h.catalog.finished[0].Status)
	})
}

func TestRun_ChainsEventsThroughCatalog(t *testing.T) {
	meta := &fakeCatalog{}
	emitter, err := notify.NewEmitter(notify.Config{BackupDir: t.TempDir(), Heads: meta},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	rec := &recordingEmitter{Emitter: emitter}

	var n atomic.Int32
	in, _ := newIngester(t, fetchFunc(func(_ context.Context, c daterange.Chunk) (source.Payload, error) {
		return usable(c), nil
	}), func(o *Options) {
		o.Catalog = meta
		o.Notifier = rec
		o.NewRunID = func() string { return fmt.Sprintf("run-%d", n.Add(1)) }
	})

	may := request(daterange.Date(2025, 5, 1), daterange.Date(2025, 5, 31), 365)
	_, err = in.Run(context.Background(), may)
	require.NoError(t, err)
	require.Contains(t, meta.hashes, "run-1")

	_, err = in.Run(context.Background(), request(daterange.Date(2025, 6, 1), daterange.Date(2025, 6, 30), 365))
	require.NoError(t, err)
	require.Contains(t, meta.hashes, "run-2")
	assert.NotEqual(t, meta.hashes["run-1"], meta.hashes["run-2"])

	require.Len(t, rec.events, 2)
	assert.Empty(t, rec.events[0].Chain.PrevEventHash)
	assert.Equal(t, meta.hashes["run-1"], rec.events[1].Chain.PrevEventHash)
	assert.Equal(t, meta.hashes["run-2"], rec.events[1].Chain.EventHash)

	head, err := meta.LastEventHash(context.Background(), may.Output)
	require.NoError(t, err)
	assert.Equal(t, meta.hashes["run-2"], head)

	// Another output starts its own chain.
	other := may
	other.Output = "s3://bucket/other"
	_, err = in.Run(context.Background(), other)
	require.NoError(t, err)
	require.Len(t, rec.events, 3)
	assert.Empty(t, rec.events[2].Chain.PrevEventHash)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in, h := newIngester(t, fetchFunc(func(ctx context.Context, c daterange.Chunk) (source.Payload, error) {
		cancel()
		return nil, fmt.Errorf("fetch: %w", ctx.Err())
	}), nil)

	_, err := in.Run(ctx, request(daterange.Date(2025, 5, 1), daterange.Date(2025, 6, 30), 365))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.catalog.finished, 1, "interrupted runs are still marked failed")
	assert.Equal(t, catalog.StatusFailed, h.catalog.finished[0].Status)
}

package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/source"
	"github.com/withObsrvr/obsrvr-fx-ingest/internal/storage"
)

// DefaultDenyPatterns keep the job from overwriting its own deployed source.
var DefaultDenyPatterns = []string{`/currency-script/`, `currency\.py$`}

// WriterConfig configures a PartitionWriter.
type WriterConfig struct {
	Prefix       string   // key prefix inside the store
	StagingDir   string   // staging files; empty means the OS temp dir
	DenyPatterns []string // destination URIs matching any of these are refused
}

// PartitionWriter serialises payloads and puts them at partitioned keys.
type PartitionWriter struct {
	store      storage.ObjectStore
	prefix     string
	stagingDir string
	deny       []*regexp.Regexp
}

// NewPartitionWriter compiles the deny patterns and returns a writer over store.
func NewPartitionWriter(store storage.ObjectStore, cfg WriterConfig) (*PartitionWriter, error) {
	deny := make([]*regexp.Regexp, 0, len(cfg.DenyPatterns))
	for _, p := range cfg.DenyPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: deny pattern %q: %v", ErrInvalidConfiguration, p, err)
		}
		deny = append(deny, re)
	}

	return &PartitionWriter{
		store:      store,
		prefix:     cfg.Prefix,
		stagingDir: cfg.StagingDir,
		deny:       deny,
	}, nil
}

// Key returns the object key for chunk.
func (w *PartitionWriter) Key(chunk daterange.Chunk) string {
	return storage.PartitionRef{Start: chunk.Start, End: chunk.End}.Path(w.prefix)
}

// Guard returns ErrWriteRejected when uri matches a deny pattern.
func (w *PartitionWriter) Guard(uri string) error {
	for _, re := range w.deny {
		if re.MatchString(uri) {
			return fmt.Errorf("%w: destination %s matches deny pattern %q", ErrWriteRejected, uri, re.String())
		}
	}
	return nil
}

// Write stores payload at key in a single put. The guard runs before the
// store is touched. The staging file is removed whether or not the put
// succeeds.
func (w *PartitionWriter) Write(ctx context.Context, payload source.Payload, key string) (Object, error) {
	uri := w.store.URI(key)
	if err := w.Guard(uri); err != nil {
		return Object{}, err
	}

	// A failed lookup only loses the overwrite notice; Put reports real
	// storage problems.
	replaced, _ := w.store.Exists(ctx, key)

	data, err := encode(payload)
	if err != nil {
		return Object{}, fmt.Errorf("%w: encode payload for %s: %v", ErrWriteFailed, key, err)
	}

	staged, err := os.CreateTemp(w.stagingDir, "fx-ingest-*.json")
	if err != nil {
		return Object{}, fmt.Errorf("%w: create staging file: %v", ErrWriteFailed, err)
	}
	defer func() {
		staged.Close()
		os.Remove(staged.Name())
	}()

	if _, err := staged.Write(data); err != nil {
		return Object{}, fmt.Errorf("%w: stage %s: %v", ErrWriteFailed, key, err)
	}
	if _, err := staged.Seek(0, io.SeekStart); err != nil {
		return Object{}, fmt.Errorf("%w: rewind staging file: %v", ErrWriteFailed, err)
	}

	if err := w.store.Put(ctx, key, staged, int64(len(data))); err != nil {
		return Object{}, fmt.Errorf("%w: put %s: %w", ErrWriteFailed, uri, err)
	}

	return Object{
		Key:      key,
		URI:      uri,
		Bytes:    int64(len(data)),
		Checksum: storage.ComputeChecksum(data),
		Replaced: replaced,
	}, nil
}

// encode renders payload as JSON with sorted keys and unescaped HTML
// characters.
func encode(payload source.Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/daterange"
)

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in   string
		want Location
	}{
		{"s3://my-bucket/raw/fx/", Location{Scheme: "s3", Bucket: "my-bucket", Prefix: "raw/fx"}},
		{"s3://my-bucket", Location{Scheme: "s3", Bucket: "my-bucket"}},
		{"gs://lake/exchange", Location{Scheme: "gs", Bucket: "lake", Prefix: "exchange"}},
		{"minio://landing/rates", Location{Scheme: "minio", Bucket: "landing", Prefix: "rates"}},
		{"mem://scratch", Location{Scheme: "mem", Bucket: "scratch"}},
		{"file:///tmp/fx", Location{Scheme: "file", Bucket: "/tmp/fx"}},
		{"./out/", Location{Bucket: "out"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLocation_Rejects(t *testing.T) {
	for _, in := range []string{"", "   ", "ftp://host/x", "s3:///nobucket"} {
		_, err := ParseLocation(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestPartitionRef_Path(t *testing.T) {
	ref := PartitionRef{Start: daterange.Date(2025, 5, 15), End: daterange.Date(2025, 5, 31)}
	assert.Equal(t, "timeframe_2025-05-15_to_2025-05-31.json", ref.Filename())
	assert.Equal(t, "raw/year=2025/month=05/timeframe_2025-05-15_to_2025-05-31.json", ref.Path("raw"))
	assert.Equal(t, "year=2025/month=05/timeframe_2025-05-15_to_2025-05-31.json", ref.Path(""))
}

func TestComputeChecksum(t *testing.T) {
	got := ComputeChecksum([]byte("hello"))
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", got)
}

func TestLocalStore_PutAndExists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	key := "year=2025/month=01/timeframe_2025-01-01_to_2025-01-31.json"

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	data := []byte(`{"success":true}`)
	require.NoError(t, store.Put(ctx, key, bytes.NewReader(data), int64(len(data))))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Join(dir, "year=2025", "month=01"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.True(t, strings.HasPrefix(store.URI(key), "file://"))
	assert.True(t, strings.HasSuffix(store.URI(key), "/"+key))
}

func TestBlobStore_Memory(t *testing.T) {
	ctx := context.Background()
	store, loc, err := Open(ctx, StorageConfig{Output: "mem://fx/raw"})
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "raw", loc.Prefix)

	key := PartitionRef{Start: daterange.Date(2024, 2, 1), End: daterange.Date(2024, 2, 29)}.Path(loc.Prefix)
	data := []byte(`{"quotes":{}}`)
	require.NoError(t, store.Put(ctx, key, bytes.NewReader(data), int64(len(data))))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "mem://fx/raw/year=2024/month=02/timeframe_2024-02-01_to_2024-02-29.json", store.URI(key))
}

func TestOpen_LocalPath(t *testing.T) {
	dir := t.TempDir()
	store, loc, err := Open(context.Background(), StorageConfig{Output: dir})
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "", loc.Scheme)
	assert.IsType(t, &LocalStore{}, store)
}

func TestOpen_MinIORequiresCredentials(t *testing.T) {
	_, _, err := Open(context.Background(), StorageConfig{Output: "minio://bucket/raw"})
	assert.Error(t, err)
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // gs:// driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // s3:// driver
)

// BlobStore writes objects through a gocloud bucket.
// Works with AWS S3, GCS, Backblaze B2, Cloudflare R2 and in-memory buckets.
type BlobStore struct {
	bucket *blob.Bucket
	loc    Location
}

// NewBlobStore opens the bucket named by loc. params are appended to the
// bucket URL as driver options.
func NewBlobStore(ctx context.Context, loc Location, params url.Values) (*BlobStore, error) {
	bucketURL := fmt.Sprintf("%s://%s", loc.Scheme, loc.Bucket)
	if loc.Scheme == "file" {
		if err := os.MkdirAll(loc.Bucket, 0755); err != nil {
			return nil, fmt.Errorf("create base directory %s: %w", loc.Bucket, err)
		}
		bucketURL = "file://" + loc.Bucket
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open %s bucket %s: %w", loc.Scheme, loc.Bucket, err)
	}

	return &BlobStore{bucket: bucket, loc: loc}, nil
}

// Put streams r into a new object. The object only becomes visible when the
// writer closes cleanly; a failed copy cancels the upload.
func (s *BlobStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("create writer for %s: %w", key, err)
	}

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("write data to %s: %w", key, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}

	return nil
}

// Exists checks if an object already exists at key.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	if s.loc.Scheme == "file" {
		return "file://" + path.Join(s.loc.Bucket, key)
	}
	return fmt.Sprintf("%s://%s/%s", s.loc.Scheme, s.loc.Bucket, key)
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

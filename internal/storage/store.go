package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// ObjectStore abstracts writing raw payload objects to storage.
type ObjectStore interface {
	// Put stores the contents of r at key in a single write. Readers never
	// observe a partially written object.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Exists checks if an object already exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// URI returns the canonical URI for the given key.
	// For local: file:///path, GCS: gs://bucket/path, S3: s3://bucket/path
	URI(key string) string

	// Close releases any resources.
	Close() error
}

// Location is a parsed output location.
type Location struct {
	Scheme string // "s3" | "gs" | "file" | "mem" | "minio" | "" (local path)
	Bucket string // bucket name, or base directory for file and local
	Prefix string // key prefix inside the bucket, without surrounding slashes
}

// ParseLocation splits an output location such as s3://bucket/raw/ into its
// scheme, bucket and key prefix. Strings without a scheme are local paths.
func ParseLocation(output string) (Location, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return Location{}, fmt.Errorf("output location is empty")
	}

	if !strings.Contains(output, "://") {
		return Location{Bucket: filepath.Clean(output)}, nil
	}

	u, err := url.Parse(output)
	if err != nil {
		return Location{}, fmt.Errorf("parse output location %q: %w", output, err)
	}

	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return Location{}, fmt.Errorf("file location %q has no path", output)
		}
		return Location{Scheme: u.Scheme, Bucket: filepath.Clean(u.Path)}, nil
	case "s3", "gs", "mem", "minio":
		if u.Host == "" {
			return Location{}, fmt.Errorf("%s location %q has no bucket", u.Scheme, output)
		}
		return Location{
			Scheme: u.Scheme,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
		}, nil
	default:
		return Location{}, fmt.Errorf("unsupported output scheme %q", u.Scheme)
	}
}

// StorageConfig configures the storage backend.
type StorageConfig struct {
	Output string // output location, see ParseLocation

	// S3 (also works for B2, R2 via gocloud)
	S3Endpoint string
	S3Region   string

	// MinIO, used for minio:// locations
	MinIO MinIOConfig
}

// Open creates the object store for cfg.Output and returns it along with the
// parsed location.
func Open(ctx context.Context, cfg StorageConfig) (ObjectStore, Location, error) {
	loc, err := ParseLocation(cfg.Output)
	if err != nil {
		return nil, Location{}, err
	}

	var store ObjectStore
	switch loc.Scheme {
	case "":
		store, err = NewLocalStore(loc.Bucket)
	case "minio":
		store, err = NewMinIOStore(cfg.MinIO, loc.Bucket)
	case "s3":
		store, err = NewBlobStore(ctx, loc, s3Params(cfg.S3Region, cfg.S3Endpoint))
	default:
		store, err = NewBlobStore(ctx, loc, nil)
	}
	if err != nil {
		return nil, Location{}, err
	}
	return store, loc, nil
}

func s3Params(region, endpoint string) url.Values {
	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	return params
}

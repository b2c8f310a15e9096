package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore abstracts where batches and model artifacts live: S3 (or any
// S3-compatible endpoint) in deployment, the local filesystem in
// single-process mode and tests.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error

	// DownloadDir mirrors every object under prefix into dest, preserving
	// relative paths. Used to materialize model artifact directories.
	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)
}

// Package storage provides the object stores snapshots are written to: a
// local directory or an S3 bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStorage abstracts object storage. Object paths always use forward
// slashes.
type ObjectStorage interface {
	// Upload copies the local file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to the local file at localPath, or returns
	// ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object succeeds.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns the paths of all objects under prefix in
	// lexicographic order.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// Storage types.
const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// Options selects and configures an object store.
type Options struct {
	// Type is "local" (default) or "s3".
	Type string

	// Path is the base directory of local storage.
	Path string

	// Bucket is the S3 bucket.
	Bucket string

	// S3 configures the S3 client.
	S3 S3Config
}

// Open opens the object store described by opts.
func Open(ctx context.Context, opts Options) (ObjectStorage, error) {
	switch strings.ToLower(opts.Type) {
	case "", TypeLocal:
		return NewLocalStorage(opts.Path)
	case TypeS3:
		if opts.Bucket == "" {
			return nil, errors.New("storage: s3 requires a bucket")
		}
		return NewS3Storage(ctx, opts.Bucket, opts.S3)
	default:
		return nil, fmt.Errorf("storage: unknown type %q", opts.Type)
	}
}

// JoinPath joins object path elements with forward slashes, dropping empty
// elements and stray separators.
func JoinPath(elem ...string) string {
	parts := make([]string, 0, len(elem))
	for _, e := range elem {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

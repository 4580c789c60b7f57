// Package storage defines the backing object store the gateway writes through.
// The MinIO implementation works with any S3-compatible provider (MinIO,
// Cloudflare R2, AWS S3); the local and memory stores serve development and tests.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Head when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// ErrExists is returned by Put when IfAbsent is set and the key is taken.
var ErrExists = errors.New("object already exists")

// ObjectInfo describes an object already present in the store.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// PutInput is a single streamed write.
type PutInput struct {
	Key          string
	Body         io.Reader
	Size         int64 // -1 when the length is not known up front
	ContentType  string
	CacheControl string
	// IfAbsent makes the write fail with ErrExists instead of replacing an
	// existing object.
	IfAbsent bool
}

// PutResult is what the store reports for a completed write.
type PutResult struct {
	Key  string
	ETag string
	Size int64
}

// Storage is the interface for probing and writing objects.
//
// Implementations must be safe for concurrent use. Put must not buffer more
// of Body than the backend requires, and must honour IfAbsent atomically
// where the backend offers a conditional write.
type Storage interface {
	// Head returns metadata for key, or ErrNotFound.
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	// Put streams in.Body to the store under in.Key.
	Put(ctx context.Context, in PutInput) (*PutResult, error)
}

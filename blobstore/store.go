// Package blobstore provides the byte-level storage abstraction backing the
// chunk store.
//
// A Store persists opaque, immutable blobs keyed by name. The chunk store
// names blobs by content hash, so Put is idempotent for a given name and
// implementations never need to overwrite differing content.
//
// # Built-in Implementations
//
//   - LocalStore: sharded local filesystem layout (the default)
//   - MemoryStore: in-memory store for testing
//   - s3.Store: Amazon S3
//   - minio.Store: MinIO and other S3-compatible object stores
//
// Implementations must be safe for concurrent use.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNotFound)`.
var ErrNotFound = errors.New("blob not found")

// Store persists immutable named blobs.
type Store interface {
	// Put writes a blob atomically. Writing an existing name is a no-op.
	Put(ctx context.Context, name string, data []byte) error
	// Get reads a whole blob.
	Get(ctx context.Context, name string) ([]byte, error)
	// Has reports whether a blob exists without reading it.
	Has(ctx context.Context, name string) (bool, error)
	// Delete removes a blob. Deleting a missing blob is a no-op.
	Delete(ctx context.Context, name string) error
	// List returns all blob names with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Stat describes a stored blob without exposing its content.
type Stat struct {
	Name string
	Size int64
}

// Statter is an optional interface for Stores that can stat blobs cheaply.
type Statter interface {
	Stat(ctx context.Context, name string) (Stat, error)
}

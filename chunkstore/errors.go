package chunkstore

import (
	"errors"
	"fmt"

	"github.com/aifs-project/aifs/model"
)

var (
	// ErrNotFound is returned when a chunk does not exist in the backing store.
	ErrNotFound = errors.New("chunk not found")
)

// IntegrityError indicates that the stored bytes of a chunk could not be
// authenticated or decoded (failed GCM tag, truncated body, bad frame).
// Fatal to this read, not to the store.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type IntegrityError struct {
	Hash  model.ID
	cause error
}

func (e *IntegrityError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("chunk %s failed integrity check: %v", e.Hash, e.cause)
	}
	return fmt.Sprintf("chunk %s failed integrity check", e.Hash)
}

func (e *IntegrityError) Unwrap() error { return e.cause }

// CorruptionError indicates that a chunk decrypted and decompressed cleanly
// but its content no longer hashes to the address it was stored under.
type CorruptionError struct {
	Want model.ID
	Got  model.ID
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("chunk corrupted: addressed %s, content hashes to %s", e.Want, e.Got)
}

// UnavailableError indicates a backing-store failure that is not a missing
// chunk (network error, permission failure, disk error).
//
// The original underlying error can be accessed via errors.Unwrap.
type UnavailableError struct {
	Op    string
	Hash  model.ID
	cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("chunk store unavailable during %s of %s: %v", e.Op, e.Hash, e.cause)
}

func (e *UnavailableError) Unwrap() error { return e.cause }

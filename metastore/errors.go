package metastore

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when creating a record that must not
	// already be present (tags, snapshots, namespace keys).
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTxTerminal is returned when mutating a transaction that already
	// reached a terminal state.
	ErrTxTerminal = errors.New("transaction is terminal")

	// ErrConflict is returned when a write lost the optimistic concurrency
	// race too many times in a row. The operation is safe to retry.
	ErrConflict = errors.New("write conflict")
)

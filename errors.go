package aifs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aifs-project/aifs/chunkstore"
	"github.com/aifs-project/aifs/kms"
	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
	"github.com/aifs-project/aifs/tx"
)

var (
	// ErrNotFound is returned when an asset, snapshot, branch, tag or
	// transaction does not exist (or is not yet visible to readers).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating something immutable
	// that already exists with different content (tags, snapshots,
	// namespace keys without overwrite).
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidK is returned when a search k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrSignatureInvalid is returned when a snapshot signature does not
	// verify against the resolved public key.
	ErrSignatureInvalid = errors.New("snapshot signature invalid")

	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine closed")

	// ErrConflict is returned when concurrent writers exhausted the
	// metadata plane's optimistic retries. The operation is safe to
	// retry; content addressing makes re-puts idempotent.
	ErrConflict = errors.New("write conflict")

	// ErrInvalidName is returned for namespace, branch or tag names the
	// engine cannot store.
	ErrInvalidName = errors.New("invalid name")
)

// ValidationError indicates a payload that does not decode as its
// declared kind. Nothing is stored when validation fails.
//
// The original underlying error can be accessed via errors.Unwrap.
type ValidationError struct {
	Kind  model.Kind
	cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s payload: %v", e.Kind, e.cause)
}

func (e *ValidationError) Unwrap() error { return e.cause }

// CycleError indicates a put whose declared parents would create a
// lineage cycle.
type CycleError struct {
	Asset  model.ID
	Parent model.ID
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("lineage cycle: asset %s is an ancestor of declared parent %s", e.Asset, e.Parent)
}

// KeyDivergenceError indicates that the key a snapshot was signed with
// differs from the registered key it was verified against. Pass
// WithAllowKeyDivergence to verify against the embedded key anyway.
type KeyDivergenceError struct {
	Namespace string
	Signer    string
	Pinned    string
}

func (e *KeyDivergenceError) Error() string {
	return fmt.Sprintf("signer key for namespace %q diverges from registered key (signer %s, registered %s)",
		e.Namespace, e.Signer, e.Pinned)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification across the planes.
	if errors.Is(err, metastore.ErrNotFound) ||
		errors.Is(err, chunkstore.ErrNotFound) ||
		errors.Is(err, kms.ErrUnknownKey) ||
		errors.Is(err, tx.ErrUnknownTx) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, metastore.ErrAlreadyExists) {
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	}
	if errors.Is(err, metastore.ErrConflict) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}

	return err
}

// validateName rejects names the key layout cannot represent: the
// metadata plane separates key fields with NUL.
func validateName(field, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidName, field)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %s contains a NUL byte", ErrInvalidName, field)
	}
	return nil
}

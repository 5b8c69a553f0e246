// Package kms abstracts data-key management for chunk encryption.
//
// Chunks are encrypted under per-chunk data encryption keys (DEKs). A
// Provider wraps DEKs under a key identified by a stable key id; the wrapped
// form is what the metadata plane persists. The default Local provider
// envelope-encrypts DEKs under a process-held master key. Production
// deployments substitute an external KMS behind the same interface.
package kms

import (
	"context"
	"errors"
)

// DEKSize is the size in bytes of a data encryption key (AES-256).
const DEKSize = 32

var (
	// ErrUnknownKey is returned when a key id is not known to the provider.
	ErrUnknownKey = errors.New("kms: unknown key id")
	// ErrUnwrap is returned when a wrapped DEK fails authentication.
	ErrUnwrap = errors.New("kms: unwrap failed")
)

// DataKey is a freshly generated DEK together with its wrapped form.
type DataKey struct {
	// Plaintext is the raw DEK. Never persisted.
	Plaintext []byte
	// Wrapped is the DEK encrypted under the provider key. Safe to persist.
	Wrapped []byte
	// KeyID identifies the provider key the DEK is wrapped under.
	KeyID string
}

// Provider wraps and unwraps data encryption keys.
type Provider interface {
	// GenerateDataKey mints a fresh DEK wrapped under the current key.
	GenerateDataKey(ctx context.Context) (DataKey, error)
	// Unwrap recovers the plaintext DEK from its wrapped form.
	Unwrap(ctx context.Context, wrapped []byte, keyID string) ([]byte, error)
	// ReWrap re-wraps an existing DEK under the current key without
	// exposing it to the caller. Used for key rotation: chunk ciphertext
	// is untouched, only the stored wrapped DEK changes.
	ReWrap(ctx context.Context, wrapped []byte, keyID string) (DataKey, error)
	// CurrentKeyID returns the key id new DEKs are wrapped under.
	CurrentKeyID() string
}

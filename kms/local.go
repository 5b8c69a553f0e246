package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"sync"
)

// Local is a Provider backed by a process-held master key. DEKs are wrapped
// with AES-256-GCM; the nonce is prepended to the wrapped form.
type Local struct {
	mu     sync.RWMutex
	keys   map[string]cipher.AEAD
	keyID  string
	serial int
}

// NewLocal creates a Local provider. If masterKey is nil a random 256-bit
// master key is generated; such a provider cannot unwrap DEKs across
// restarts and is intended for tests and development mode.
func NewLocal(masterKey []byte) (*Local, error) {
	if masterKey == nil {
		masterKey = make([]byte, 32)
		if _, err := rand.Read(masterKey); err != nil {
			return nil, err
		}
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("kms: master key must be 32 bytes, got %d", len(masterKey))
	}
	aead, err := newAEAD(masterKey)
	if err != nil {
		return nil, err
	}
	l := &Local{
		keys:   map[string]cipher.AEAD{"local-1": aead},
		keyID:  "local-1",
		serial: 1,
	}
	return l, nil
}

// Rotate installs a new master key and makes it current. Previously wrapped
// DEKs remain decryptable under their recorded key id.
func (l *Local) Rotate(masterKey []byte) (string, error) {
	if len(masterKey) != 32 {
		return "", fmt.Errorf("kms: master key must be 32 bytes, got %d", len(masterKey))
	}
	aead, err := newAEAD(masterKey)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.serial++
	l.keyID = fmt.Sprintf("local-%d", l.serial)
	l.keys[l.keyID] = aead
	return l.keyID, nil
}

// GenerateDataKey mints a fresh DEK wrapped under the current key.
func (l *Local) GenerateDataKey(ctx context.Context) (DataKey, error) {
	dek := make([]byte, DEKSize)
	if _, err := rand.Read(dek); err != nil {
		return DataKey{}, err
	}
	l.mu.RLock()
	keyID := l.keyID
	aead := l.keys[keyID]
	l.mu.RUnlock()

	wrapped, err := seal(aead, dek)
	if err != nil {
		return DataKey{}, err
	}
	return DataKey{Plaintext: dek, Wrapped: wrapped, KeyID: keyID}, nil
}

// Unwrap recovers the plaintext DEK from its wrapped form.
func (l *Local) Unwrap(ctx context.Context, wrapped []byte, keyID string) ([]byte, error) {
	l.mu.RLock()
	aead, ok := l.keys[keyID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}
	if len(wrapped) < aead.NonceSize() {
		return nil, ErrUnwrap
	}
	dek, err := aead.Open(nil, wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}
	return dek, nil
}

// ReWrap re-wraps an existing DEK under the current key.
func (l *Local) ReWrap(ctx context.Context, wrapped []byte, keyID string) (DataKey, error) {
	dek, err := l.Unwrap(ctx, wrapped, keyID)
	if err != nil {
		return DataKey{}, err
	}
	l.mu.RLock()
	current := l.keyID
	aead := l.keys[current]
	l.mu.RUnlock()

	rewrapped, err := seal(aead, dek)
	if err != nil {
		return DataKey{}, err
	}
	return DataKey{Plaintext: dek, Wrapped: rewrapped, KeyID: current}, nil
}

// CurrentKeyID returns the key id new DEKs are wrapped under.
func (l *Local) CurrentKeyID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.keyID
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

package metastore

import (
	"context"

	"github.com/dgraph-io/badger/v4"

	"github.com/aifs-project/aifs/model"
)

// RegisterNamespaceKey pins the signing key of a namespace. A second
// registration fails unless overwrite is set, which requires the admin
// capability at the call site.
func (s *Store) RegisterNamespaceKey(ctx context.Context, key model.NamespaceKey, overwrite bool) error {
	return s.update(func(txn *badger.Txn) error {
		ok, err := s.exists(txn, nsKeyKey(key.Namespace))
		if err != nil {
			return err
		}
		if ok && !overwrite {
			return ErrAlreadyExists
		}
		return s.set(txn, nsKeyKey(key.Namespace), key)
	})
}

// GetNamespaceKey loads the pinned key of a namespace.
func (s *Store) GetNamespaceKey(ctx context.Context, namespace string) (model.NamespaceKey, error) {
	var key model.NamespaceKey
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, nsKeyKey(namespace), &key)
	})
	return key, err
}

// PinTrustedKey stores a public key under a caller-chosen key id. Re-pinning
// the same id overwrites, mirroring how operators rotate trust anchors.
func (s *Store) PinTrustedKey(ctx context.Context, key model.TrustedKey) error {
	return s.update(func(txn *badger.Txn) error {
		return s.set(txn, trustedKeyKey(key.KeyID), key)
	})
}

// GetTrustedKey loads a pinned key by id.
func (s *Store) GetTrustedKey(ctx context.Context, keyID string) (model.TrustedKey, error) {
	var key model.TrustedKey
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, trustedKeyKey(keyID), &key)
	})
	return key, err
}

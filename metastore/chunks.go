package metastore

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/aifs-project/aifs/model"
)

// PutChunkRef stores a chunk sidecar record. An existing record for the same
// hash keeps its refcount; everything else is overwritten, which makes
// re-puts after key rotation safe.
func (s *Store) PutChunkRef(ctx context.Context, ref model.ChunkRef) error {
	return s.update(func(txn *badger.Txn) error {
		rec := ref
		var existing model.ChunkRef
		err := s.get(txn, chunkKey(rec.Hash), &existing)
		if err == nil {
			rec.RefCount = existing.RefCount
		} else if err != ErrNotFound {
			return err
		}
		return s.set(txn, chunkKey(rec.Hash), rec)
	})
}

// GetChunkRef loads a chunk sidecar record.
func (s *Store) GetChunkRef(ctx context.Context, hash model.ID) (model.ChunkRef, error) {
	var ref model.ChunkRef
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, chunkKey(hash), &ref)
	})
	return ref, err
}

// IncChunkRef increments the refcount and returns the new value.
func (s *Store) IncChunkRef(ctx context.Context, hash model.ID) (uint64, error) {
	return s.addChunkRef(hash, 1)
}

// DecChunkRef decrements the refcount and returns the new value. The record
// survives at zero; Prune decides its fate.
func (s *Store) DecChunkRef(ctx context.Context, hash model.ID) (uint64, error) {
	return s.addChunkRef(hash, -1)
}

func (s *Store) addChunkRef(hash model.ID, delta int64) (uint64, error) {
	var count uint64
	err := s.update(func(txn *badger.Txn) error {
		var ref model.ChunkRef
		if err := s.get(txn, chunkKey(hash), &ref); err != nil {
			return err
		}
		if delta < 0 && ref.RefCount == 0 {
			return fmt.Errorf("chunk %s refcount already zero", hash)
		}
		ref.RefCount = uint64(int64(ref.RefCount) + delta)
		count = ref.RefCount
		return s.set(txn, chunkKey(hash), ref)
	})
	return count, err
}

// ZeroRefChunks returns the hashes of all chunks with refcount zero,
// the prune candidates.
func (s *Store) ZeroRefChunks(ctx context.Context) ([]model.ID, error) {
	var hashes []model.ID
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(prefixChunk),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ref model.ChunkRef
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, &ref)
			}); err != nil {
				return err
			}
			if ref.RefCount == 0 {
				hashes = append(hashes, ref.Hash)
			}
		}
		return nil
	})
	return hashes, err
}

// ChunkRefs streams every chunk sidecar record to fn. Used by key
// rotation, which has to re-wrap each stored DEK.
func (s *Store) ChunkRefs(ctx context.Context, fn func(ref model.ChunkRef) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(prefixChunk),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ref model.ChunkRef
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, &ref)
			}); err != nil {
				return err
			}
			if err := fn(ref); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteChunkRef removes a chunk sidecar record after its blob was pruned.
func (s *Store) DeleteChunkRef(ctx context.Context, hash model.ID) error {
	return s.update(func(txn *badger.Txn) error {
		ok, err := s.exists(txn, chunkKey(hash))
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return txn.Delete(chunkKey(hash))
	})
}

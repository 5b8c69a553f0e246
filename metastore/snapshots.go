package metastore

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aifs-project/aifs/model"
)

// CreateSnapshot persists a snapshot. Snapshot ids are content-derived, so a
// retry with identical content is a no-op; an id collision with different
// content is rejected.
func (s *Store) CreateSnapshot(ctx context.Context, snap model.Snapshot) error {
	return s.update(func(txn *badger.Txn) error {
		var existing model.Snapshot
		err := s.get(txn, snapshotKey(snap.ID), &existing)
		if err == nil {
			if existing.MerkleRoot == snap.MerkleRoot && existing.Timestamp == snap.Timestamp {
				return nil
			}
			return ErrAlreadyExists
		}
		if err != ErrNotFound {
			return err
		}
		if err := s.set(txn, snapshotKey(snap.ID), snap); err != nil {
			return err
		}
		return txn.Set(snapshotByNSKey(snap.Namespace, snap.ID), nil)
	})
}

// GetSnapshot loads a snapshot by id.
func (s *Store) GetSnapshot(ctx context.Context, sid model.SnapshotID) (model.Snapshot, error) {
	var snap model.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, snapshotKey(sid), &snap)
	})
	return snap, err
}

// ListSnapshots returns all snapshots of a namespace.
func (s *Store) ListSnapshots(ctx context.Context, namespace string) ([]model.Snapshot, error) {
	var snaps []model.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanKeys(txn, []byte(prefixSnapByNS+namespace+sep), func(key []byte) error {
			sid, err := model.ParseSnapshotID(lastField(key))
			if err != nil {
				return err
			}
			var snap model.Snapshot
			if err := s.get(txn, snapshotKey(sid), &snap); err != nil {
				return err
			}
			snaps = append(snaps, snap)
			return nil
		})
	})
	return snaps, err
}

// CreateOrUpdateBranch moves the branch pointer and appends the history row
// in the same transaction. The creating event carries a zero old snapshot.
// History rows are numbered by a per-branch counter read and advanced in
// the same transaction, so concurrent moves serialize and never collide
// on a key.
func (s *Store) CreateOrUpdateBranch(ctx context.Context, namespace, name string, sid model.SnapshotID, meta map[string]string) (model.BranchEvent, error) {
	now := time.Now().UTC()
	event := model.BranchEvent{
		Namespace:   namespace,
		Name:        name,
		NewSnapshot: sid,
		At:          now,
		Metadata:    meta,
	}
	err := s.update(func(txn *badger.Txn) error {
		event.OldSnapshot = model.SnapshotID{}
		var existing model.Branch
		err := s.get(txn, branchKey(namespace, name), &existing)
		if err == nil {
			event.OldSnapshot = existing.Snapshot
		} else if err != ErrNotFound {
			return err
		}

		var seq uint64
		if err := s.get(txn, branchSeqKey(namespace, name), &seq); err != nil && err != ErrNotFound {
			return err
		}
		seq++
		if err := s.set(txn, branchSeqKey(namespace, name), seq); err != nil {
			return err
		}

		branch := model.Branch{
			Namespace: namespace,
			Name:      name,
			Snapshot:  sid,
			UpdatedAt: now,
		}
		if err := s.set(txn, branchKey(namespace, name), branch); err != nil {
			return err
		}
		return s.set(txn, branchHistKey(namespace, name, seq), event)
	})
	if err != nil {
		return model.BranchEvent{}, err
	}
	s.logger.DebugContext(ctx, "branch updated",
		slog.String("namespace", namespace),
		slog.String("branch", name),
		slog.String("snapshot", sid.String()),
	)
	return event, nil
}

// GetBranch loads a branch pointer.
func (s *Store) GetBranch(ctx context.Context, namespace, name string) (model.Branch, error) {
	var branch model.Branch
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, branchKey(namespace, name), &branch)
	})
	return branch, err
}

// DeleteBranch removes the pointer. History rows stay.
func (s *Store) DeleteBranch(ctx context.Context, namespace, name string) error {
	return s.update(func(txn *badger.Txn) error {
		ok, err := s.exists(txn, branchKey(namespace, name))
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return txn.Delete(branchKey(namespace, name))
	})
}

// ListBranches returns all branch pointers of a namespace.
func (s *Store) ListBranches(ctx context.Context, namespace string) ([]model.Branch, error) {
	var branches []model.Branch
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(prefixBranch + namespace + sep),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var branch model.Branch
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, &branch)
			}); err != nil {
				return err
			}
			branches = append(branches, branch)
		}
		return nil
	})
	return branches, err
}

// BranchHistory returns the append-only event log of a branch, oldest first.
// The log survives branch deletion.
func (s *Store) BranchHistory(ctx context.Context, namespace, name string) ([]model.BranchEvent, error) {
	var events []model.BranchEvent
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         branchHistPrefix(namespace, name),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var event model.BranchEvent
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, &event)
			}); err != nil {
				return err
			}
			events = append(events, event)
		}
		return nil
	})
	return events, err
}

// CreateTag persists an immutable tag. Re-tagging an existing name fails
// regardless of target.
func (s *Store) CreateTag(ctx context.Context, tag model.Tag) error {
	return s.update(func(txn *badger.Txn) error {
		ok, err := s.exists(txn, tagKey(tag.Namespace, tag.Name))
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyExists
		}
		return s.set(txn, tagKey(tag.Namespace, tag.Name), tag)
	})
}

// GetTag loads a tag.
func (s *Store) GetTag(ctx context.Context, namespace, name string) (model.Tag, error) {
	var tag model.Tag
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, tagKey(namespace, name), &tag)
	})
	return tag, err
}

// ListTags returns all tags of a namespace.
func (s *Store) ListTags(ctx context.Context, namespace string) ([]model.Tag, error) {
	var tags []model.Tag
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         []byte(prefixTag + namespace + sep),
			PrefetchValues: true,
		})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var tag model.Tag
			if err := it.Item().Value(func(val []byte) error {
				return decode(val, &tag)
			}); err != nil {
				return err
			}
			tags = append(tags, tag)
		}
		return nil
	})
	return tags, err
}

package metastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aifs-project/aifs/model"
)

// ListFilter narrows ListAssets. Zero value lists everything in the
// namespace in creation order.
type ListFilter struct {
	Namespace string
	// Kind restricts to one asset kind when non-nil.
	Kind *model.Kind
	// MetaEquals requires every listed key to match the asset metadata
	// exactly.
	MetaEquals map[string]string
	// VisibleOnly drops assets whose creating transaction has not committed.
	VisibleOnly bool
	// Limit caps the page size; 0 means no cap.
	Limit int
	// Cursor resumes a previous listing. Opaque.
	Cursor string
}

func timeIndexValue(t time.Time) string {
	return fmt.Sprintf("%020d", t.UTC().UnixNano())
}

// UpsertAsset writes the asset record and all its secondary index keys.
func (s *Store) UpsertAsset(ctx context.Context, asset model.Asset) error {
	if asset.Namespace == "" {
		return fmt.Errorf("asset %s has no namespace", asset.ID)
	}
	return s.update(func(txn *badger.Txn) error {
		if err := s.set(txn, assetKey(asset.Namespace, asset.ID), asset); err != nil {
			return err
		}
		if err := txn.Set(assetByIDKey(asset.ID), []byte(asset.Namespace)); err != nil {
			return err
		}
		if err := txn.Set(assetByKindKey(asset.Kind, asset.Namespace, asset.ID), nil); err != nil {
			return err
		}
		if err := txn.Set(assetByTimeKey(asset.Namespace, timeIndexValue(asset.CreatedAt), asset.ID), nil); err != nil {
			return err
		}
		if asset.TxID != "" {
			if err := txn.Set(assetByTxKey(asset.TxID, asset.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetAsset loads an asset by id alone, resolving its namespace through the
// id index.
func (s *Store) GetAsset(ctx context.Context, id model.ID) (model.Asset, error) {
	var asset model.Asset
	err := s.db.View(func(txn *badger.Txn) error {
		ns, err := s.assetNamespace(txn, id)
		if err != nil {
			return err
		}
		return s.get(txn, assetKey(ns, id), &asset)
	})
	return asset, err
}

// HasAsset reports whether an asset row exists, visible or not.
func (s *Store) HasAsset(ctx context.Context, id model.ID) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		ok, err := s.exists(txn, assetByIDKey(id))
		found = ok
		return err
	})
	return found, err
}

func (s *Store) assetNamespace(txn *badger.Txn, id model.ID) (string, error) {
	item, err := txn.Get(assetByIDKey(id))
	if err == badger.ErrKeyNotFound {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	var ns string
	err = item.Value(func(val []byte) error {
		ns = string(val)
		return nil
	})
	return ns, err
}

// ListAssets pages through a namespace in creation order. The returned
// cursor is non-empty when more results remain.
func (s *Store) ListAssets(ctx context.Context, filter ListFilter) ([]model.Asset, string, error) {
	var (
		assets []model.Asset
		next   string
	)
	prefix := []byte(prefixAssetByTime + filter.Namespace + sep)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			Prefix:         prefix,
			PrefetchValues: false,
		})
		defer it.Close()

		if filter.Cursor != "" {
			// The cursor is the first unread index key; Seek is inclusive.
			it.Seek([]byte(filter.Cursor))
		} else {
			it.Rewind()
		}

		for ; it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			id, err := model.ParseID(lastField(key))
			if err != nil {
				return fmt.Errorf("malformed time index key %q: %w", key, err)
			}

			var asset model.Asset
			if err := s.get(txn, assetKey(filter.Namespace, id), &asset); err != nil {
				return err
			}
			if !matchFilter(asset, filter) {
				continue
			}
			if filter.Limit > 0 && len(assets) == filter.Limit {
				next = string(key)
				return nil
			}
			assets = append(assets, asset)
		}
		return nil
	})
	return assets, next, err
}

func matchFilter(asset model.Asset, filter ListFilter) bool {
	if filter.Kind != nil && asset.Kind != *filter.Kind {
		return false
	}
	if filter.VisibleOnly && !asset.Visible {
		return false
	}
	for k, v := range filter.MetaEquals {
		if asset.Metadata[k] != v {
			return false
		}
	}
	return true
}

// VisibleAssetIDs returns the ids of all visible assets in a namespace in
// creation order.
func (s *Store) VisibleAssetIDs(ctx context.Context, namespace string) ([]model.ID, error) {
	var ids []model.ID
	filter := ListFilter{Namespace: namespace, VisibleOnly: true}
	for {
		assets, cursor, err := s.ListAssets(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, a := range assets {
			ids = append(ids, a.ID)
		}
		if cursor == "" {
			return ids, nil
		}
		filter.Cursor = cursor
	}
}

// SetVisibility flips the visibility of a single asset.
func (s *Store) SetVisibility(ctx context.Context, id model.ID, visible bool) error {
	return s.update(func(txn *badger.Txn) error {
		ns, err := s.assetNamespace(txn, id)
		if err != nil {
			return err
		}
		var asset model.Asset
		if err := s.get(txn, assetKey(ns, id), &asset); err != nil {
			return err
		}
		asset.Visible = visible
		return s.set(txn, assetKey(ns, id), asset)
	})
}

// DeleteAsset removes the asset record, its index keys and the lineage
// edges recording its parents. Edges where the asset is a parent stay, so
// surviving children keep their recorded provenance.
func (s *Store) DeleteAsset(ctx context.Context, id model.ID) (model.Asset, error) {
	var asset model.Asset
	err := s.update(func(txn *badger.Txn) error {
		ns, err := s.assetNamespace(txn, id)
		if err != nil {
			return err
		}
		if err := s.get(txn, assetKey(ns, id), &asset); err != nil {
			return err
		}
		return s.deleteAssetInTxn(txn, asset)
	})
	if err != nil {
		return model.Asset{}, err
	}
	s.logger.DebugContext(ctx, "asset deleted",
		slog.String("id", id.String()),
		slog.String("namespace", asset.Namespace),
	)
	return asset, nil
}

func (s *Store) deleteAssetInTxn(txn *badger.Txn, asset model.Asset) error {
	for _, key := range [][]byte{
		assetKey(asset.Namespace, asset.ID),
		assetByIDKey(asset.ID),
		assetByKindKey(asset.Kind, asset.Namespace, asset.ID),
		assetByTimeKey(asset.Namespace, timeIndexValue(asset.CreatedAt), asset.ID),
	} {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	if asset.TxID != "" {
		if err := txn.Delete(assetByTxKey(asset.TxID, asset.ID)); err != nil {
			return err
		}
	}

	// Drop the edges naming this asset as child, with their mirrors.
	var parents []model.ID
	if err := s.scanKeys(txn, []byte(prefixLineageUp+asset.ID.String()+sep), func(key []byte) error {
		parent, err := model.ParseID(lastField(key))
		if err != nil {
			return err
		}
		parents = append(parents, parent)
		return nil
	}); err != nil {
		return err
	}
	for _, parent := range parents {
		if err := txn.Delete(lineageUpKey(asset.ID, parent)); err != nil {
			return err
		}
		if err := txn.Delete(lineageDownKey(parent, asset.ID)); err != nil {
			return err
		}
	}
	return nil
}

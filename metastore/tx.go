package metastore

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/aifs-project/aifs/model"
)

// PutTx writes the durable mirror of a transaction.
func (s *Store) PutTx(ctx context.Context, rec model.TxRecord) error {
	return s.update(func(txn *badger.Txn) error {
		return s.set(txn, txKey(rec.ID), rec)
	})
}

// GetTx loads a transaction record.
func (s *Store) GetTx(ctx context.Context, id model.TxID) (model.TxRecord, error) {
	var rec model.TxRecord
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, txKey(id), &rec)
	})
	return rec, err
}

// SetTxState transitions a transaction's durable state. Transitions out of a
// terminal state are rejected.
func (s *Store) SetTxState(ctx context.Context, id model.TxID, state model.TxState) error {
	return s.update(func(txn *badger.Txn) error {
		var rec model.TxRecord
		if err := s.get(txn, txKey(id), &rec); err != nil {
			return err
		}
		if rec.State.Terminal() {
			return ErrTxTerminal
		}
		rec.State = state
		return s.set(txn, txKey(id), rec)
	})
}

// CommitTx is the visibility flip: in one durable transaction it marks the
// record committed with committed_at and sets every attached asset visible.
// Readers either see the transaction fully committed or not at all.
func (s *Store) CommitTx(ctx context.Context, id model.TxID, committedAt time.Time) error {
	err := s.update(func(txn *badger.Txn) error {
		var rec model.TxRecord
		if err := s.get(txn, txKey(id), &rec); err != nil {
			return err
		}
		if rec.State.Terminal() {
			return ErrTxTerminal
		}

		for _, assetID := range rec.Assets {
			ns, err := s.assetNamespace(txn, assetID)
			if err != nil {
				return err
			}
			var asset model.Asset
			if err := s.get(txn, assetKey(ns, assetID), &asset); err != nil {
				return err
			}
			asset.Visible = true
			if err := s.set(txn, assetKey(ns, assetID), asset); err != nil {
				return err
			}
		}

		rec.State = model.TxCommitted
		rec.CommittedAt = committedAt
		return s.set(txn, txKey(id), rec)
	})
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "transaction committed", slog.String("tx", string(id)))
	return nil
}

// RollbackTx removes every asset row attached to the transaction and marks
// it rolled back, all in one durable transaction. None of the assets can
// have been visible, so no reader observes a partial removal.
func (s *Store) RollbackTx(ctx context.Context, id model.TxID) error {
	err := s.update(func(txn *badger.Txn) error {
		var rec model.TxRecord
		if err := s.get(txn, txKey(id), &rec); err != nil {
			return err
		}
		if rec.State.Terminal() {
			return ErrTxTerminal
		}

		for _, assetID := range rec.Assets {
			ns, err := s.assetNamespace(txn, assetID)
			if err == ErrNotFound {
				continue
			}
			if err != nil {
				return err
			}
			var asset model.Asset
			if err := s.get(txn, assetKey(ns, assetID), &asset); err != nil {
				return err
			}
			if err := s.deleteAssetInTxn(txn, asset); err != nil {
				return err
			}
		}

		rec.State = model.TxRolledBack
		return s.set(txn, txKey(id), rec)
	})
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "transaction rolled back", slog.String("tx", string(id)))
	return nil
}

// AssetsByTx returns the ids attached to a transaction via the tx index.
func (s *Store) AssetsByTx(ctx context.Context, id model.TxID) ([]model.ID, error) {
	var ids []model.ID
	err := s.db.View(func(txn *badger.Txn) error {
		return s.scanKeys(txn, []byte(prefixAssetByTx+string(id)+sep), func(key []byte) error {
			assetID, err := model.ParseID(lastField(key))
			if err != nil {
				return err
			}
			ids = append(ids, assetID)
			return nil
		})
	})
	return ids, err
}

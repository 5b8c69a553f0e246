package aifs

import (
	"context"
	"time"

	"github.com/aifs-project/aifs/model"
)

// BeginTransaction starts a transaction. Assets put under it stay
// invisible to every reader until CommitTransaction.
func (e *Engine) BeginTransaction(ctx context.Context) (model.TxID, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	id, err := e.txm.Begin(ctx)
	return id, translateError(err)
}

// AddDependency declares that the transaction depends on parent being
// visible at commit time.
func (e *Engine) AddDependency(ctx context.Context, id model.TxID, parent model.ID) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	return translateError(e.txm.AddDependency(ctx, id, parent))
}

// CommitTransaction atomically flips every attached asset visible after
// verifying all declared parents are visible. On success an
// asset_committed event is published per asset.
func (e *Engine) CommitTransaction(ctx context.Context, id model.TxID) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	start := time.Now()

	rec, err := e.txm.Get(ctx, id)
	if err != nil {
		return translateError(err)
	}

	err = e.txm.Commit(ctx, id)
	e.metrics.RecordCommit(len(rec.Assets), time.Since(start), err)
	e.logger.LogCommit(ctx, id, len(rec.Assets), time.Since(start), err)
	if err != nil {
		return translateError(err)
	}

	now := time.Now().UTC()
	for _, assetID := range rec.Assets {
		asset, err := e.meta.GetAsset(ctx, assetID)
		if err != nil {
			continue
		}
		e.events.Publish(model.Event{
			Type:      model.EventAssetCommitted,
			Namespace: asset.Namespace,
			AssetID:   assetID,
			At:        now,
		})
	}
	return nil
}

// RollbackTransaction discards the transaction: attached asset rows and
// lineage are removed, chunk refcounts are released and provisional
// index entries dropped. Chunk data itself is left for PruneChunks.
func (e *Engine) RollbackTransaction(ctx context.Context, id model.TxID) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	// Capture chunk and index references before the rows disappear.
	rec, err := e.txm.Get(ctx, id)
	if err != nil {
		return translateError(err)
	}
	type cleanup struct {
		namespace string
		chunks    []model.ID
		indexed   bool
	}
	cleanups := make(map[model.ID]cleanup, len(rec.Assets))
	for _, assetID := range rec.Assets {
		asset, err := e.meta.GetAsset(ctx, assetID)
		if err != nil {
			continue
		}
		cleanups[assetID] = cleanup{
			namespace: asset.Namespace,
			chunks:    asset.Chunks,
			indexed:   asset.Embedding != nil,
		}
	}

	if err := e.txm.Rollback(ctx, id); err != nil {
		return translateError(err)
	}

	for assetID, c := range cleanups {
		for _, hash := range c.chunks {
			if _, err := e.meta.DecChunkRef(ctx, hash); err != nil && !isNotFound(err) {
				e.logger.Warn("refcount release failed during rollback",
					"asset", assetID.String(), "chunk", hash.String(), "error", err)
			}
		}
		if c.indexed {
			e.index.Delete(ctx, c.namespace, assetID)
		}
	}
	e.logger.InfoContext(ctx, "transaction rolled back", "tx", string(id), "assets", len(rec.Assets))
	return nil
}

// GetTransaction returns the durable transaction record.
func (e *Engine) GetTransaction(ctx context.Context, id model.TxID) (model.TxRecord, error) {
	if err := e.checkOpen(); err != nil {
		return model.TxRecord{}, err
	}
	rec, err := e.txm.Get(ctx, id)
	return rec, translateError(err)
}

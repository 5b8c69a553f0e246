package tx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
)

func newTestManager(t *testing.T) (*Manager, *metastore.Store) {
	t.Helper()
	store, err := metastore.Open("", metastore.WithInMemory(), metastore.WithSyncWrites(false))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return NewManager(store), store
}

func writeAsset(t *testing.T, store *metastore.Store, payload string, txID model.TxID) model.ID {
	t.Helper()
	id := model.Sum([]byte(payload))
	require.NoError(t, store.UpsertAsset(context.Background(), model.Asset{
		ID:        id,
		Kind:      model.KindBlob,
		Namespace: "prod",
		Size:      uint64(len(payload)),
		CreatedAt: time.Now(),
		Chunks:    []model.ID{id},
		TxID:      txID,
	}))
	return id
}

func TestCommitMakesAssetsVisible(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	txID, err := m.Begin(ctx)
	require.NoError(t, err)

	assetID := writeAsset(t, store, "asset", txID)
	require.NoError(t, m.AddAsset(ctx, txID, assetID))

	// Invisible before commit.
	asset, err := store.GetAsset(ctx, assetID)
	require.NoError(t, err)
	assert.False(t, asset.Visible)

	require.NoError(t, m.Commit(ctx, txID))

	asset, err = store.GetAsset(ctx, assetID)
	require.NoError(t, err)
	assert.True(t, asset.Visible)

	rec, err := m.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, model.TxCommitted, rec.State)
	assert.False(t, rec.CommittedAt.IsZero())
}

func TestCommitFailsOnInvisibleParent(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	// Parent written under a transaction that never commits.
	parentTx, err := m.Begin(ctx)
	require.NoError(t, err)
	parentID := writeAsset(t, store, "parent", parentTx)
	require.NoError(t, m.AddAsset(ctx, parentTx, parentID))

	childTx, err := m.Begin(ctx)
	require.NoError(t, err)
	childID := writeAsset(t, store, "child", childTx)
	require.NoError(t, m.AddAsset(ctx, childTx, childID))
	require.NoError(t, m.AddDependency(ctx, childTx, parentID))

	err = m.Commit(ctx, childTx)
	var pnv *ParentNotVisibleError
	require.ErrorAs(t, err, &pnv)
	assert.Equal(t, parentID, pnv.Parent)

	// Failed, not terminal: rollback is still allowed and the child asset
	// never leaks visibility.
	rec, err := m.Get(ctx, childTx)
	require.NoError(t, err)
	assert.Equal(t, model.TxFailed, rec.State)

	require.NoError(t, m.Rollback(ctx, childTx))
	_, err = store.GetAsset(ctx, childID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestCommitAfterParentCommit(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	parentTx, err := m.Begin(ctx)
	require.NoError(t, err)
	parentID := writeAsset(t, store, "parent", parentTx)
	require.NoError(t, m.AddAsset(ctx, parentTx, parentID))
	require.NoError(t, m.Commit(ctx, parentTx))

	childTx, err := m.Begin(ctx)
	require.NoError(t, err)
	childID := writeAsset(t, store, "child", childTx)
	require.NoError(t, m.AddAsset(ctx, childTx, childID))
	require.NoError(t, m.AddDependency(ctx, childTx, parentID))
	require.NoError(t, m.Commit(ctx, childTx))

	asset, err := store.GetAsset(ctx, childID)
	require.NoError(t, err)
	assert.True(t, asset.Visible)
}

func TestRollbackRemovesAssets(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	txID, err := m.Begin(ctx)
	require.NoError(t, err)
	assetID := writeAsset(t, store, "doomed", txID)
	require.NoError(t, m.AddAsset(ctx, txID, assetID))

	require.NoError(t, m.Rollback(ctx, txID))

	_, err = store.GetAsset(ctx, assetID)
	assert.ErrorIs(t, err, metastore.ErrNotFound)

	rec, err := m.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, model.TxRolledBack, rec.State)
}

func TestAttachRequiresPending(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	txID, err := m.Begin(ctx)
	require.NoError(t, err)
	assetID := writeAsset(t, store, "late", txID)
	require.NoError(t, m.AddAsset(ctx, txID, assetID))
	require.NoError(t, m.Commit(ctx, txID))

	assert.ErrorIs(t, m.AddAsset(ctx, txID, model.Sum([]byte("x"))), ErrUnknownTx)
	assert.ErrorIs(t, m.Commit(ctx, txID), ErrUnknownTx)

	assert.ErrorIs(t, m.AddAsset(ctx, "never-issued", assetID), ErrUnknownTx)
}

func TestGetFallsBackToDurableMirror(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	txID, err := m.Begin(ctx)
	require.NoError(t, err)
	assetID := writeAsset(t, store, "durable", txID)
	require.NoError(t, m.AddAsset(ctx, txID, assetID))
	require.NoError(t, m.Commit(ctx, txID))

	// The manager retired the tx from its table, but the mirror answers.
	rec, err := m.Get(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, model.TxCommitted, rec.State)
	assert.Equal(t, []model.ID{assetID}, rec.Assets)

	_, err = m.Get(ctx, "no-such-tx")
	assert.ErrorIs(t, err, ErrUnknownTx)
}

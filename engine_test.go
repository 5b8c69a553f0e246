package aifs

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifs-project/aifs/codec"
	"github.com/aifs-project/aifs/event"
	"github.com/aifs-project/aifs/merkle"
	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
	"github.com/aifs-project/aifs/tx"
)

func newTestEngine(t *testing.T, optFns ...Option) *Engine {
	t.Helper()
	engine, err := Open(t.TempDir(), append([]Option{WithInMemory()}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func embedPayload(t *testing.T, vector []float32) []byte {
	t.Helper()
	data, err := codec.EncodeEmbed(codec.EmbedPayload{
		Vector:    vector,
		ModelName: "test-encoder",
		Dimension: uint32(len(vector)),
		Metric:    model.MetricCosine,
	})
	require.NoError(t, err)
	return data
}

func TestEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	data := []byte("hello aifs")
	id, err := engine.PutAsset(ctx, "train", model.KindBlob, data)
	require.NoError(t, err)
	assert.Equal(t, model.Sum(data), id)

	asset, err := engine.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "train", asset.Namespace)
	assert.Equal(t, model.KindBlob, asset.Kind)
	assert.True(t, asset.Visible)
	assert.Len(t, asset.Chunks, 1)

	got, err := engine.GetAssetData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	info, err := engine.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, Version, info.Version)
	require.Len(t, info.Namespaces, 1)
	assert.Equal(t, "train", info.Namespaces[0].Name)
	assert.Equal(t, uint64(1), info.Namespaces[0].Assets)

	require.NoError(t, engine.Close())
	_, err = engine.GetAsset(ctx, id)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPutAssetDeduplicates(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	data := []byte("same bytes")
	first, err := engine.PutAsset(ctx, "ns", model.KindBlob, data)
	require.NoError(t, err)
	second, err := engine.PutAsset(ctx, "ns", model.KindBlob, data)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// Same content in another namespace collides on the content
	// address and is rejected.
	_, err = engine.PutAsset(ctx, "other", model.KindBlob, data)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

// Two writers racing on the same bytes both land on the same content
// address; neither may surface a transient conflict.
func TestPutAssetConcurrentSameBytes(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	data := []byte("raced bytes")
	type result struct {
		id  model.ID
		err error
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			id, err := engine.PutAsset(ctx, "ns", model.KindBlob, data)
			results <- result{id: id, err: err}
		}()
	}
	first := <-results
	second := <-results
	require.NoError(t, first.err)
	require.NoError(t, second.err)
	assert.Equal(t, first.id, second.id)

	got, err := engine.GetAssetData(ctx, first.id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestNamesRejectNULAndEmpty(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.PutAsset(ctx, "", model.KindBlob, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = engine.PutAsset(ctx, "ns\x00evil", model.KindBlob, []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = engine.PutAsset(ctx, "ns", model.KindBlob, []byte("x"))
	require.NoError(t, err)
	snap, err := engine.CreateSnapshot(ctx, "ns")
	require.NoError(t, err)

	// A NUL would shift the key fields in the metadata store.
	_, err = engine.CreateBranch(ctx, "ns", "main\x00x", snap.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = engine.CreateTag(ctx, "ns", "v1\x00x", snap.ID)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = engine.CreateBranch(ctx, "ns", "", snap.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestPutAssetRejectsMalformedPayload(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.PutAsset(ctx, "ns", model.KindTensor, []byte("not a tensor"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.KindTensor, verr.Kind)
}

func TestTransactionVisibility(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	events, err := engine.SubscribeEvents(ctx, event.WithTypes(model.EventAssetCommitted))
	require.NoError(t, err)

	txID, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)

	data := []byte("staged")
	id, err := engine.PutAsset(ctx, "ns", model.KindBlob, data, WithTx(txID))
	require.NoError(t, err)

	// Pending assets read as absent everywhere.
	_, err = engine.GetAsset(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = engine.GetAssetData(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	listed, _, err := engine.ListAssets(ctx, metastore.ListFilter{Namespace: "ns", VisibleOnly: true})
	require.NoError(t, err)
	assert.Empty(t, listed)

	require.NoError(t, engine.CommitTransaction(ctx, txID))

	asset, err := engine.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.True(t, asset.Visible)

	rec, err := engine.GetTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, model.TxCommitted, rec.State)
	assert.False(t, rec.CommittedAt.IsZero())

	select {
	case ev := <-events:
		assert.Equal(t, model.EventAssetCommitted, ev.Type)
		assert.Equal(t, id, ev.AssetID)
		assert.Equal(t, "ns", ev.Namespace)
	case <-time.After(time.Second):
		t.Fatal("no commit event delivered")
	}
}

func TestRollbackReleasesEverything(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	txID, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	id, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("doomed"), WithTx(txID))
	require.NoError(t, err)

	require.NoError(t, engine.RollbackTransaction(ctx, txID))

	_, err = engine.GetAsset(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	// The chunk is orphaned and reclaimable.
	pruned, err := engine.PruneChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
}

func TestCommitFailsOnHiddenParent(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	staging, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	parent, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("parent"), WithTx(staging))
	require.NoError(t, err)

	derived, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = engine.PutAsset(ctx, "ns", model.KindBlob, []byte("child"),
		WithTx(derived), WithParents(Parent{ID: parent, TransformName: "train"}))
	require.NoError(t, err)

	err = engine.CommitTransaction(ctx, derived)
	var pnv *tx.ParentNotVisibleError
	require.ErrorAs(t, err, &pnv)
	assert.Equal(t, parent, pnv.Parent)

	// Committing the parent first unblocks nothing: the failed
	// transaction is terminal, only rollback remains.
	require.NoError(t, engine.CommitTransaction(ctx, staging))
	require.NoError(t, engine.RollbackTransaction(ctx, derived))
}

func TestLineageAndCycleRejection(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	rootData := []byte("raw corpus")
	rootID, err := engine.PutAsset(ctx, "ns", model.KindBlob, rootData)
	require.NoError(t, err)
	childID, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("cleaned corpus"),
		WithParents(Parent{ID: rootID, TransformName: "clean", TransformDigest: "sha256:abc"}))
	require.NoError(t, err)

	parents, err := engine.Parents(ctx, childID)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, rootID, parents[0].Parent)
	assert.Equal(t, "clean", parents[0].TransformName)

	children, err := engine.Children(ctx, rootID)
	require.NoError(t, err)
	assert.Equal(t, []model.ID{childID}, children)

	// Deleting the root and re-putting its content as a child of its
	// own descendant would close a cycle.
	require.NoError(t, engine.DeleteAsset(ctx, rootID))
	_, err = engine.PutAsset(ctx, "ns", model.KindBlob, rootData,
		WithParents(Parent{ID: childID}))
	var cerr *CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, childID, cerr.Parent)
}

func TestMultiChunkRoundtrip(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	elements := make([]byte, 9<<20)
	for i := range elements {
		elements[i] = byte(i % 251)
	}
	payload, err := codec.EncodeTensor(codec.TensorHeader{
		DType: codec.U8,
		Shape: []uint64{uint64(len(elements))},
	}, elements)
	require.NoError(t, err)

	id, err := engine.PutAsset(ctx, "ns", model.KindTensor, payload)
	require.NoError(t, err)

	asset, err := engine.GetAsset(ctx, id)
	require.NoError(t, err)
	assert.Len(t, asset.Chunks, 3)

	got, err := engine.GetAssetData(ctx, id)
	require.NoError(t, err)
	require.True(t, bytes.Equal(payload, got))

	_, buf, err := codec.DecodeTensor(got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(elements, buf))
}

func TestSnapshotCreateAndVerify(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	a, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("one"))
	require.NoError(t, err)
	b, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("two"))
	require.NoError(t, err)

	snap, err := engine.CreateSnapshot(ctx, "ns", WithSnapshotMetadata(map[string]string{"run": "7"}))
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.ID{a, b}, snap.AssetIDs)
	assert.Equal(t, "7", snap.Metadata["run"])
	assert.Len(t, snap.Signature, 64)

	require.NoError(t, engine.VerifySnapshot(ctx, snap.ID))
	require.NoError(t, engine.VerifySnapshot(ctx, snap.ID, WithPublicKey(engine.SigningPublicKey())))

	// A wrong key fails closed.
	err = engine.VerifySnapshot(ctx, snap.ID, WithPublicKey(make([]byte, 32)))
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	// Inclusion proof for a member asset.
	proof, n, err := engine.ProveAsset(ctx, snap.ID, a)
	require.NoError(t, err)
	assert.True(t, merkle.VerifyProof(proof, snap.MerkleRoot, n))

	// Identical captures collapse to the same snapshot id.
	again, err := engine.CreateSnapshot(ctx, "ns")
	require.NoError(t, err)
	assert.Equal(t, snap.MerkleRoot, again.MerkleRoot)
}

func TestSnapshotEmptyNamespace(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	snap, err := engine.CreateSnapshot(ctx, "void")
	require.NoError(t, err)
	assert.Empty(t, snap.AssetIDs)
	assert.Equal(t, "true", snap.Metadata["empty"])
	require.NoError(t, engine.VerifySnapshot(ctx, snap.ID))
}

func TestSnapshotKeyDivergence(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("x"))
	require.NoError(t, err)
	snap, err := engine.CreateSnapshot(ctx, "ns")
	require.NoError(t, err)

	// A foreign registered key diverges from the snapshot signer.
	foreign := make([]byte, 32)
	foreign[0] = 1
	require.NoError(t, engine.RegisterNamespaceKey(ctx, "ns", foreign, nil, false))

	err = engine.VerifySnapshot(ctx, snap.ID, WithNamespaceKey())
	var kde *KeyDivergenceError
	require.ErrorAs(t, err, &kde)
	assert.Equal(t, "ns", kde.Namespace)

	// Opting in falls back to the embedded signer key.
	require.NoError(t, engine.VerifySnapshot(ctx, snap.ID, WithNamespaceKey(), WithAllowKeyDivergence()))

	// Re-registration needs overwrite; with the engine key pinned,
	// strict verification passes.
	err = engine.RegisterNamespaceKey(ctx, "ns", engine.SigningPublicKey(), nil, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	require.NoError(t, engine.RegisterNamespaceKey(ctx, "ns", engine.SigningPublicKey(), nil, true))
	require.NoError(t, engine.VerifySnapshot(ctx, snap.ID, WithNamespaceKey()))

	// Trusted-key mode follows the same divergence rules.
	require.NoError(t, engine.PinTrustedKey(ctx, "release-key", engine.SigningPublicKey(), "ns", nil))
	require.NoError(t, engine.VerifySnapshot(ctx, snap.ID, WithTrustedKey("release-key")))
}

func TestBranchesAndTags(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("v1"))
	require.NoError(t, err)
	first, err := engine.CreateSnapshot(ctx, "ns")
	require.NoError(t, err)
	_, err = engine.PutAsset(ctx, "ns", model.KindBlob, []byte("v2"))
	require.NoError(t, err)
	second, err := engine.CreateSnapshot(ctx, "ns", WithSnapshotMetadata(map[string]string{"rev": "2"}))
	require.NoError(t, err)

	ev, err := engine.CreateBranch(ctx, "ns", "main", first.ID, nil)
	require.NoError(t, err)
	assert.True(t, ev.OldSnapshot.IsZero())

	ev, err = engine.CreateBranch(ctx, "ns", "main", second.ID, map[string]string{"by": "ci"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, ev.OldSnapshot)
	assert.Equal(t, second.ID, ev.NewSnapshot)

	branch, err := engine.GetBranch(ctx, "ns", "main")
	require.NoError(t, err)
	assert.Equal(t, second.ID, branch.Snapshot)

	history, err := engine.BranchHistory(ctx, "ns", "main")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].NewSnapshot)

	require.NoError(t, engine.DeleteBranch(ctx, "ns", "main"))
	_, err = engine.GetBranch(ctx, "ns", "main")
	assert.ErrorIs(t, err, ErrNotFound)
	history, err = engine.BranchHistory(ctx, "ns", "main")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// Branch targets must exist.
	_, err = engine.CreateBranch(ctx, "ns", "dev", model.SnapshotID{0xff}, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	tag, err := engine.CreateTag(ctx, "ns", "v1.0", first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, tag.Snapshot)
	_, err = engine.CreateTag(ctx, "ns", "v1.0", second.ID)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	tags, err := engine.ListTags(ctx, "ns")
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestSearchVectors(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	vectors := map[string][]float32{
		"red":   {1, 0, 0},
		"green": {0, 1, 0},
		"blue":  {0, 0, 1},
	}
	ids := make(map[string]model.ID, len(vectors))
	for name, vec := range vectors {
		id, err := engine.PutAsset(ctx, "ns", model.KindEmbed, embedPayload(t, vec),
			WithMetadata(map[string]string{"color": name}))
		require.NoError(t, err)
		ids[name] = id
	}

	results, err := engine.SearchVectors(ctx, "ns", []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, ids["red"], results[0].AssetID)

	// Metadata filter narrows candidates before scoring.
	results, err = engine.SearchVectors(ctx, "ns", []float32{0.9, 0.1, 0}, 3,
		WithSearchFilter(map[string]string{"color": "blue"}))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids["blue"], results[0].AssetID)

	_, err = engine.SearchVectors(ctx, "ns", []float32{1, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestSearchHidesPendingAssets(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	_, err := engine.PutAsset(ctx, "ns", model.KindEmbed, embedPayload(t, []float32{1, 0}))
	require.NoError(t, err)

	txID, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	pending, err := engine.PutAsset(ctx, "ns", model.KindEmbed, embedPayload(t, []float32{0.99, 0.01}), WithTx(txID))
	require.NoError(t, err)

	results, err := engine.SearchVectors(ctx, "ns", []float32{1, 0}, 5)
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, pending, r.AssetID)
	}

	require.NoError(t, engine.CommitTransaction(ctx, txID))
	results, err = engine.SearchVectors(ctx, "ns", []float32{1, 0}, 5)
	require.NoError(t, err)
	found := false
	for _, r := range results {
		found = found || r.AssetID == pending
	}
	assert.True(t, found)
}

func TestDeleteAndPrune(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	shared := []byte("shared payload")
	id, err := engine.PutAsset(ctx, "ns", model.KindBlob, shared)
	require.NoError(t, err)
	chunk := model.Sum(shared)

	ref, err := engine.ChunkInfo(ctx, chunk)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ref.RefCount)

	require.NoError(t, engine.DeleteAsset(ctx, id))
	_, err = engine.GetAsset(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	pruned, err := engine.PruneChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	_, err = engine.ChunkInfo(ctx, chunk)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateMasterKey(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	data := []byte("rotate me")
	id, err := engine.PutAsset(ctx, "ns", model.KindBlob, data)
	require.NoError(t, err)

	newKey := bytes.Repeat([]byte{7}, 32)
	keyID, err := engine.RotateMasterKey(ctx, newKey)
	require.NoError(t, err)
	assert.Equal(t, "local-2", keyID)

	ref, err := engine.ChunkInfo(ctx, model.Sum(data))
	require.NoError(t, err)
	assert.Equal(t, keyID, ref.KMSKeyID)

	got, err := engine.GetAssetData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReopenFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	engine, err := Open(dir, WithSyncWrites(false))
	require.NoError(t, err)
	data := []byte("durable")
	id, err := engine.PutAsset(ctx, "ns", model.KindBlob, data)
	require.NoError(t, err)
	embedID, err := engine.PutAsset(ctx, "ns", model.KindEmbed, embedPayload(t, []float32{0, 1}))
	require.NoError(t, err)
	signer := engine.SigningPublicKey()
	require.NoError(t, engine.Close())

	engine, err = Open(dir, WithSyncWrites(false))
	require.NoError(t, err)
	defer engine.Close()

	// Key material persists across restarts.
	assert.Equal(t, signer, engine.SigningPublicKey())

	got, err := engine.GetAssetData(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	results, err := engine.SearchVectors(ctx, "ns", []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, embedID, results[0].AssetID)
}

func TestAutoCommitDisabled(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, WithAutoCommit(false))

	_, err := engine.PutAsset(ctx, "ns", model.KindBlob, []byte("x"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	txID, err := engine.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = engine.PutAsset(ctx, "ns", model.KindBlob, []byte("x"), WithTx(txID))
	require.NoError(t, err)
	require.NoError(t, engine.CommitTransaction(ctx, txID))
}

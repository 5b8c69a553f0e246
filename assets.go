package aifs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aifs-project/aifs/codec"
	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
)

// chunkSize is the split boundary for structured payloads. Blobs are
// always stored as a single chunk regardless of size.
const chunkSize = 4 << 20

// defaultMaxWorkers bounds parallel chunk fetches per get unless
// overridden with WithMaxWorkers.
const defaultMaxWorkers = 4

// Parent declares a lineage edge of a new asset.
type Parent struct {
	ID              model.ID
	TransformName   string
	TransformDigest string
}

// PutOptions configures PutAsset.
type PutOptions struct {
	// TxID attaches the put to an existing transaction. When empty the
	// put runs in its own transaction and commits immediately.
	TxID model.TxID

	// Metadata is attached to the asset row and doubles as the
	// equality-filter attributes of its embedding.
	Metadata map[string]string

	// Parents declare lineage. Each parent must already exist.
	Parents []Parent

	// Embedding indexes the asset under the given vector. For KindEmbed
	// payloads the embedded vector is used automatically when this is
	// nil.
	Embedding []float32
}

// PutOption mutates PutOptions.
type PutOption func(*PutOptions)

// WithTx attaches the put to an existing transaction. The asset stays
// invisible until that transaction commits.
func WithTx(id model.TxID) PutOption {
	return func(o *PutOptions) { o.TxID = id }
}

// WithMetadata attaches key/value metadata to the asset.
func WithMetadata(meta map[string]string) PutOption {
	return func(o *PutOptions) { o.Metadata = meta }
}

// WithParents declares the lineage parents of the asset.
func WithParents(parents ...Parent) PutOption {
	return func(o *PutOptions) { o.Parents = parents }
}

// WithEmbedding indexes the asset under the given vector.
func WithEmbedding(vector []float32) PutOption {
	return func(o *PutOptions) { o.Embedding = vector }
}

// PutAsset validates, chunks, encrypts and stores data as an asset of
// the given kind. The returned id is derived from content only: the
// chunk hash for single-chunk assets, the hash of the concatenated
// chunk hashes otherwise. Re-putting identical content is a no-op
// returning the existing id.
//
// Outside an explicit transaction the asset is visible when PutAsset
// returns; inside one it stays hidden until commit.
func (e *Engine) PutAsset(ctx context.Context, namespace string, kind model.Kind, data []byte, optFns ...PutOption) (model.ID, error) {
	start := time.Now()
	id, err := e.putAsset(ctx, namespace, kind, data, optFns...)
	e.metrics.RecordPut(len(data), time.Since(start), err)
	e.logger.LogPut(ctx, namespace, kind, id, len(data), err)
	return id, translateError(err)
}

func (e *Engine) putAsset(ctx context.Context, namespace string, kind model.Kind, data []byte, optFns ...PutOption) (model.ID, error) {
	if err := e.checkOpen(); err != nil {
		return model.ID{}, err
	}
	if err := validateName("namespace", namespace); err != nil {
		return model.ID{}, err
	}
	if !kind.Valid() {
		return model.ID{}, fmt.Errorf("invalid kind %d", kind)
	}
	if err := codec.Validate(kind, data); err != nil {
		return model.ID{}, &ValidationError{Kind: kind, cause: err}
	}

	opts := PutOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	chunks := splitChunks(kind, data)
	assetID := deriveAssetID(chunks)

	// Content addressing makes re-puts idempotent.
	if existing, err := e.meta.GetAsset(ctx, assetID); err == nil {
		if existing.Namespace != namespace {
			return model.ID{}, fmt.Errorf("%w: asset %s belongs to namespace %q", ErrAlreadyExists, assetID, existing.Namespace)
		}
		e.logger.DebugContext(ctx, "put deduplicated", "asset", assetID.String())
		return assetID, nil
	} else if !isNotFound(err) {
		return model.ID{}, err
	}

	embedding := opts.Embedding
	if embedding == nil && kind == model.KindEmbed {
		payload, err := codec.DecodeEmbed(data)
		if err != nil {
			return model.ID{}, &ValidationError{Kind: kind, cause: err}
		}
		embedding = payload.Vector
	}

	edges, err := e.lineageEdges(ctx, assetID, opts.Parents)
	if err != nil {
		return model.ID{}, err
	}

	txID := opts.TxID
	own := txID == ""
	if own {
		if !e.opts.autoCommit {
			return model.ID{}, fmt.Errorf("auto-commit disabled: put requires an explicit transaction")
		}
		if txID, err = e.txm.Begin(ctx); err != nil {
			return model.ID{}, err
		}
	}
	fail := func(err error) (model.ID, error) {
		if own {
			if rbErr := e.RollbackTransaction(ctx, txID); rbErr != nil {
				e.logger.Error("rollback after failed put", "tx", string(txID), "error", rbErr)
			}
		}
		return model.ID{}, err
	}

	if err := e.txm.AddAsset(ctx, txID, assetID); err != nil {
		return fail(err)
	}
	for _, parent := range opts.Parents {
		if err := e.txm.AddDependency(ctx, txID, parent.ID); err != nil {
			return fail(err)
		}
	}

	hashes, err := e.storeChunks(ctx, chunks)
	if err != nil {
		return fail(err)
	}

	asset := model.Asset{
		ID:        assetID,
		Kind:      kind,
		Namespace: namespace,
		Size:      uint64(len(data)),
		CreatedAt: time.Now().UTC(),
		Metadata:  opts.Metadata,
		Chunks:    hashes,
		Embedding: embedding,
		TxID:      txID,
		Visible:   false,
	}
	if err := e.meta.UpsertAsset(ctx, asset); err != nil {
		// No row to roll back yet: release the refcounts directly.
		e.releaseChunks(ctx, hashes)
		return fail(err)
	}
	if len(edges) > 0 {
		if err := e.meta.AddLineageEdges(ctx, edges); err != nil {
			return fail(err)
		}
	}

	// Provisional: the visibility join hides the vector until commit.
	if embedding != nil {
		if err := e.index.Add(ctx, namespace, assetID, embedding, opts.Metadata); err != nil {
			return fail(err)
		}
	}

	if own {
		if err := e.CommitTransaction(ctx, txID); err != nil {
			return model.ID{}, err
		}
	}
	return assetID, nil
}

// splitChunks cuts structured payloads at the chunk boundary. Blobs are
// a single chunk so their asset id equals the chunk hash.
func splitChunks(kind model.Kind, data []byte) [][]byte {
	if kind == model.KindBlob || len(data) <= chunkSize {
		return [][]byte{data}
	}
	chunks := make([][]byte, 0, (len(data)+chunkSize-1)/chunkSize)
	for len(data) > chunkSize {
		chunks = append(chunks, data[:chunkSize])
		data = data[chunkSize:]
	}
	return append(chunks, data)
}

func deriveAssetID(chunks [][]byte) model.ID {
	if len(chunks) == 1 {
		return model.Sum(chunks[0])
	}
	concat := make([]byte, 0, len(chunks)*model.IDSize)
	for _, chunk := range chunks {
		hash := model.Sum(chunk)
		concat = append(concat, hash[:]...)
	}
	return model.Sum(concat)
}

// lineageEdges validates declared parents and rejects cycles. A cycle
// can only form when the new asset already exists as an ancestor of a
// declared parent (content addressing allows re-put of old content).
func (e *Engine) lineageEdges(ctx context.Context, assetID model.ID, parents []Parent) ([]model.LineageEdge, error) {
	if len(parents) == 0 {
		return nil, nil
	}
	edges := make([]model.LineageEdge, 0, len(parents))
	for _, parent := range parents {
		if parent.ID == assetID {
			return nil, &CycleError{Asset: assetID, Parent: parent.ID}
		}
		if _, err := e.meta.GetAsset(ctx, parent.ID); err != nil {
			return nil, fmt.Errorf("parent %s: %w", parent.ID, err)
		}
		ancestors, err := e.meta.Ancestors(ctx, parent.ID)
		if err != nil {
			return nil, err
		}
		if _, ok := ancestors[assetID]; ok {
			return nil, &CycleError{Asset: assetID, Parent: parent.ID}
		}
		edges = append(edges, model.LineageEdge{
			Child:           assetID,
			Parent:          parent.ID,
			TransformName:   parent.TransformName,
			TransformDigest: parent.TransformDigest,
		})
	}
	return edges, nil
}

// storeChunks writes each chunk (deduplicating against known refs) and
// bumps refcounts. Returns the ordered chunk hashes of the asset.
func (e *Engine) storeChunks(ctx context.Context, chunks [][]byte) ([]model.ID, error) {
	hashes := make([]model.ID, len(chunks))
	for i, chunk := range chunks {
		hash := model.Sum(chunk)
		hashes[i] = hash

		_, err := e.meta.GetChunkRef(ctx, hash)
		if isNotFound(err) {
			ref, putErr := e.chunks.Put(ctx, chunk)
			if putErr != nil {
				return nil, putErr
			}
			if err := e.meta.PutChunkRef(ctx, ref); err != nil {
				return nil, err
			}
		} else if err != nil {
			return nil, err
		}

		if _, err := e.meta.IncChunkRef(ctx, hash); err != nil {
			return nil, err
		}
	}
	return hashes, nil
}

func (e *Engine) releaseChunks(ctx context.Context, hashes []model.ID) {
	for _, hash := range hashes {
		if _, err := e.meta.DecChunkRef(ctx, hash); err != nil {
			e.logger.Warn("refcount release failed", "chunk", hash.String(), "error", err)
		}
	}
}

// GetAsset returns the metadata row of a visible asset.
func (e *Engine) GetAsset(ctx context.Context, id model.ID) (model.Asset, error) {
	if err := e.checkOpen(); err != nil {
		return model.Asset{}, err
	}
	asset, err := e.meta.GetAsset(ctx, id)
	if err != nil {
		return model.Asset{}, translateError(err)
	}
	if !asset.Visible {
		// Pending assets read as absent.
		return model.Asset{}, fmt.Errorf("%w: asset %s", ErrNotFound, id)
	}
	return asset, nil
}

// GetAssetData fetches, decrypts and reassembles the payload of a
// visible asset, re-validating it against its kind before returning.
func (e *Engine) GetAssetData(ctx context.Context, id model.ID) ([]byte, error) {
	start := time.Now()
	data, err := e.getAssetData(ctx, id)
	e.metrics.RecordGet(len(data), time.Since(start), err)
	e.logger.LogGet(ctx, id, len(data), err)
	return data, translateError(err)
}

func (e *Engine) getAssetData(ctx context.Context, id model.ID) ([]byte, error) {
	asset, err := e.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}

	parts := make([][]byte, len(asset.Chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.maxWorkers)
	for i, hash := range asset.Chunks {
		g.Go(func() error {
			ref, err := e.meta.GetChunkRef(gctx, hash)
			if err != nil {
				return err
			}
			parts[i], err = e.chunks.Get(gctx, ref)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	data := make([]byte, 0, asset.Size)
	for _, part := range parts {
		data = append(data, part...)
	}
	if err := codec.Validate(asset.Kind, data); err != nil {
		return nil, &ValidationError{Kind: asset.Kind, cause: err}
	}
	return data, nil
}

// DeleteAsset removes a visible asset's metadata row and decrements its
// chunk refcounts. Chunk data is reclaimed later by PruneChunks once a
// refcount reaches zero.
func (e *Engine) DeleteAsset(ctx context.Context, id model.ID) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	asset, err := e.GetAsset(ctx, id)
	if err != nil {
		return err
	}
	for _, hash := range asset.Chunks {
		if _, err := e.meta.DecChunkRef(ctx, hash); err != nil {
			return translateError(err)
		}
	}
	if _, err := e.meta.DeleteAsset(ctx, id); err != nil {
		return translateError(err)
	}
	e.index.Delete(ctx, asset.Namespace, id)
	e.logger.DebugContext(ctx, "asset deleted", "asset", id.String())
	return nil
}

// ListAssets pages through assets matching the filter, newest first.
// The returned cursor resumes the listing when non-empty.
func (e *Engine) ListAssets(ctx context.Context, filter metastore.ListFilter) ([]model.Asset, string, error) {
	if err := e.checkOpen(); err != nil {
		return nil, "", err
	}
	assets, cursor, err := e.meta.ListAssets(ctx, filter)
	return assets, cursor, translateError(err)
}

// Parents returns the lineage edges pointing at the parents of id.
func (e *Engine) Parents(ctx context.Context, id model.ID) ([]model.LineageEdge, error) {
	edges, err := e.meta.Parents(ctx, id)
	return edges, translateError(err)
}

// Children returns the ids derived from id.
func (e *Engine) Children(ctx context.Context, id model.ID) ([]model.ID, error) {
	children, err := e.meta.Children(ctx, id)
	return children, translateError(err)
}

// Namespaces lists per-namespace asset and snapshot counts.
func (e *Engine) Namespaces(ctx context.Context) ([]metastore.NamespaceInfo, error) {
	infos, err := e.meta.Namespaces(ctx)
	return infos, translateError(err)
}

func isNotFound(err error) bool {
	return errors.Is(err, metastore.ErrNotFound)
}

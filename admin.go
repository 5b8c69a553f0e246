package aifs

import (
	"context"
	"fmt"
	"time"

	"github.com/aifs-project/aifs/event"
	"github.com/aifs-project/aifs/kms"
	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
)

// PruneChunks deletes every chunk whose refcount reached zero and
// removes its sidecar record. Returns the number of chunks reclaimed.
func (e *Engine) PruneChunks(ctx context.Context) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	hashes, err := e.meta.ZeroRefChunks(ctx)
	if err != nil {
		return 0, translateError(err)
	}
	deleted, err := e.chunks.Prune(ctx, hashes)
	if err != nil {
		return deleted, translateError(err)
	}
	for _, hash := range hashes {
		if err := e.meta.DeleteChunkRef(ctx, hash); err != nil && !isNotFound(err) {
			return deleted, translateError(err)
		}
	}
	e.logger.InfoContext(ctx, "chunks pruned", "count", deleted)
	return deleted, nil
}

// RotateMasterKey installs a new 32-byte master key on the local KMS
// provider and re-wraps every stored DEK under it. Chunk ciphertext is
// not touched; only sidecar records change. Fails when the engine runs
// against an external KMS provider.
func (e *Engine) RotateMasterKey(ctx context.Context, newKey []byte) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	local, ok := e.keys.(*kms.Local)
	if !ok {
		return "", fmt.Errorf("key rotation requires the local KMS provider")
	}

	keyID, err := local.Rotate(newKey)
	if err != nil {
		return "", err
	}

	var refs []model.ChunkRef
	if err := e.meta.ChunkRefs(ctx, func(ref model.ChunkRef) error {
		refs = append(refs, ref)
		return nil
	}); err != nil {
		return keyID, translateError(err)
	}

	for _, ref := range refs {
		if ref.KMSKeyID == keyID {
			continue
		}
		rewrapped, err := e.chunks.ReWrap(ctx, ref)
		if err != nil {
			return keyID, translateError(err)
		}
		if err := e.meta.PutChunkRef(ctx, rewrapped); err != nil {
			return keyID, translateError(err)
		}
	}

	e.logger.InfoContext(ctx, "master key rotated", "key_id", keyID, "chunks", len(refs))
	return keyID, nil
}

// RegisterNamespaceKey pins the snapshot verification key of a
// namespace. Re-registering fails unless overwrite is set; the RPC
// layer gates overwrite behind the admin capability.
func (e *Engine) RegisterNamespaceKey(ctx context.Context, namespace string, pub []byte, metadata map[string]string, overwrite bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	key := model.NamespaceKey{
		Namespace: namespace,
		PubKey:    pub,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	return translateError(e.meta.RegisterNamespaceKey(ctx, key, overwrite))
}

// PinTrustedKey stores a verification key under a caller-chosen id for
// WithTrustedKey verification.
func (e *Engine) PinTrustedKey(ctx context.Context, keyID string, pub []byte, namespace string, metadata map[string]string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	key := model.TrustedKey{
		KeyID:     keyID,
		PubKey:    pub,
		Namespace: namespace,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	return translateError(e.meta.PinTrustedKey(ctx, key))
}

// ChunkInfo returns the stored size of a chunk without decrypting it.
func (e *Engine) ChunkInfo(ctx context.Context, hash model.ID) (model.ChunkRef, error) {
	if err := e.checkOpen(); err != nil {
		return model.ChunkRef{}, err
	}
	ref, err := e.meta.GetChunkRef(ctx, hash)
	return ref, translateError(err)
}

// Info summarizes a running engine for introspection.
type Info struct {
	Version          string
	Dir              string
	InMemory         bool
	Metric           model.Metric
	CompressionLevel int
	KMSKeyID         string
	SignerPubKey     string
	Namespaces       []metastore.NamespaceInfo
}

// Info reports engine configuration and per-namespace counts.
func (e *Engine) Info(ctx context.Context) (Info, error) {
	if err := e.checkOpen(); err != nil {
		return Info{}, err
	}
	namespaces, err := e.meta.Namespaces(ctx)
	if err != nil {
		return Info{}, translateError(err)
	}
	return Info{
		Version:          Version,
		Dir:              e.dir,
		InMemory:         e.opts.inMemory,
		Metric:           e.index.Metric(),
		CompressionLevel: e.opts.compressionLevel,
		KMSKeyID:         e.keys.CurrentKeyID(),
		SignerPubKey:     e.signer.PublicKeyHex(),
		Namespaces:       namespaces,
	}, nil
}

// SubscribeEvents delivers engine events (asset commits, snapshots,
// branch and tag updates) until ctx is cancelled. Slow consumers drop
// events rather than stall writers.
func (e *Engine) SubscribeEvents(ctx context.Context, optFns ...event.SubscribeOption) (<-chan model.Event, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.events.Subscribe(ctx, optFns...), nil
}

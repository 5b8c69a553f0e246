package aifs

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/aifs-project/aifs/merkle"
	"github.com/aifs-project/aifs/model"
	"github.com/aifs-project/aifs/signing"
)

// SnapshotOptions configures CreateSnapshot.
type SnapshotOptions struct {
	// AssetIDs pins the snapshot to an explicit asset set. When nil,
	// every visible asset in the namespace is captured.
	AssetIDs []model.ID

	// Metadata is attached to the snapshot record.
	Metadata map[string]string
}

// SnapshotOption mutates SnapshotOptions.
type SnapshotOption func(*SnapshotOptions)

// WithSnapshotAssets pins the snapshot to an explicit asset set instead
// of all visible assets.
func WithSnapshotAssets(ids ...model.ID) SnapshotOption {
	return func(o *SnapshotOptions) { o.AssetIDs = ids }
}

// WithSnapshotMetadata attaches key/value metadata to the snapshot.
func WithSnapshotMetadata(meta map[string]string) SnapshotOption {
	return func(o *SnapshotOptions) { o.Metadata = meta }
}

// CreateSnapshot captures an asset set as a signed Merkle tree. The
// asset list is sorted and deduplicated, the timestamp is canonical
// RFC3339 UTC at second precision, and the snapshot id derives from the
// Merkle root and timestamp, so identical captures collapse to the same
// snapshot. Empty namespaces snapshot fine and are flagged in metadata.
func (e *Engine) CreateSnapshot(ctx context.Context, namespace string, optFns ...SnapshotOption) (model.Snapshot, error) {
	start := time.Now()
	snap, err := e.createSnapshot(ctx, namespace, optFns...)
	e.metrics.RecordSnapshot(len(snap.AssetIDs), time.Since(start), err)
	e.logger.LogSnapshot(ctx, namespace, snap.ID, len(snap.AssetIDs), err)
	return snap, translateError(err)
}

func (e *Engine) createSnapshot(ctx context.Context, namespace string, optFns ...SnapshotOption) (model.Snapshot, error) {
	if err := e.checkOpen(); err != nil {
		return model.Snapshot{}, err
	}
	if err := validateName("namespace", namespace); err != nil {
		return model.Snapshot{}, err
	}

	opts := SnapshotOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	ids := opts.AssetIDs
	if ids == nil {
		var err error
		ids, err = e.meta.VisibleAssetIDs(ctx, namespace)
		if err != nil {
			return model.Snapshot{}, err
		}
	} else {
		for _, id := range ids {
			asset, err := e.GetAsset(ctx, id)
			if err != nil {
				return model.Snapshot{}, err
			}
			if asset.Namespace != namespace {
				return model.Snapshot{}, fmt.Errorf("asset %s belongs to namespace %q", id, asset.Namespace)
			}
		}
	}

	tree := merkle.New(ids)
	root := tree.Root()
	ts := model.CanonicalTimestamp(time.Now())

	metadata := maps.Clone(opts.Metadata)
	if tree.Len() == 0 {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["empty"] = "true"
	}

	snap := model.Snapshot{
		ID:           model.NewSnapshotID(root, ts),
		Namespace:    namespace,
		MerkleRoot:   root,
		Timestamp:    ts,
		AssetIDs:     tree.Leaves(),
		Signature:    e.signer.SignSnapshot(root, ts, namespace),
		SignerPubKey: e.signer.PublicKey(),
		Metadata:     metadata,
	}
	if err := e.meta.CreateSnapshot(ctx, snap); err != nil {
		return model.Snapshot{}, err
	}

	e.events.Publish(model.Event{
		Type:      model.EventSnapshotCreated,
		Namespace: namespace,
		Snapshot:  snap.ID,
		At:        time.Now().UTC(),
	})
	return snap, nil
}

// GetSnapshot returns a snapshot record.
func (e *Engine) GetSnapshot(ctx context.Context, sid model.SnapshotID) (model.Snapshot, error) {
	if err := e.checkOpen(); err != nil {
		return model.Snapshot{}, err
	}
	snap, err := e.meta.GetSnapshot(ctx, sid)
	return snap, translateError(err)
}

// ListSnapshots returns all snapshots of a namespace.
func (e *Engine) ListSnapshots(ctx context.Context, namespace string) ([]model.Snapshot, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	snaps, err := e.meta.ListSnapshots(ctx, namespace)
	return snaps, translateError(err)
}

// VerifyOptions configures VerifySnapshot.
type VerifyOptions struct {
	// PublicKey verifies against an explicitly provided Ed25519 key.
	PublicKey []byte

	// NamespaceKey verifies against the key registered for the
	// snapshot's namespace.
	NamespaceKey bool

	// TrustedKeyID verifies against a pinned trusted key.
	TrustedKeyID string

	// AllowKeyDivergence accepts snapshots whose embedded signer key
	// differs from the registered one, verifying against the embedded
	// key instead of failing.
	AllowKeyDivergence bool
}

// VerifyOption mutates VerifyOptions.
type VerifyOption func(*VerifyOptions)

// WithPublicKey verifies the signature against the given key.
func WithPublicKey(pub []byte) VerifyOption {
	return func(o *VerifyOptions) { o.PublicKey = pub }
}

// WithNamespaceKey verifies against the key registered for the
// snapshot's namespace.
func WithNamespaceKey() VerifyOption {
	return func(o *VerifyOptions) { o.NamespaceKey = true }
}

// WithTrustedKey verifies against the pinned trusted key with the given
// id.
func WithTrustedKey(keyID string) VerifyOption {
	return func(o *VerifyOptions) { o.TrustedKeyID = keyID }
}

// WithAllowKeyDivergence tolerates a signer key that differs from the
// registered one.
func WithAllowKeyDivergence() VerifyOption {
	return func(o *VerifyOptions) { o.AllowKeyDivergence = true }
}

// VerifySnapshot checks a snapshot's integrity: the Merkle root must
// match its asset list, the id must derive from root and timestamp, and
// the signature must verify against the resolved key. Without options
// the snapshot's embedded signer key is used; WithPublicKey,
// WithNamespaceKey and WithTrustedKey select stricter key sources.
func (e *Engine) VerifySnapshot(ctx context.Context, sid model.SnapshotID, optFns ...VerifyOption) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	opts := VerifyOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	snap, err := e.meta.GetSnapshot(ctx, sid)
	if err != nil {
		return translateError(err)
	}
	return e.verifySnapshot(ctx, snap, opts)
}

func (e *Engine) verifySnapshot(ctx context.Context, snap model.Snapshot, opts VerifyOptions) error {
	// Structural integrity before any key checks.
	if root := merkle.New(snap.AssetIDs).Root(); root != snap.MerkleRoot {
		return fmt.Errorf("%w: merkle root does not cover asset list", ErrSignatureInvalid)
	}
	if model.NewSnapshotID(snap.MerkleRoot, snap.Timestamp) != snap.ID {
		return fmt.Errorf("%w: snapshot id does not derive from root and timestamp", ErrSignatureInvalid)
	}

	key := snap.SignerPubKey
	switch {
	case opts.PublicKey != nil:
		key = opts.PublicKey
	case opts.NamespaceKey:
		pinned, err := e.meta.GetNamespaceKey(ctx, snap.Namespace)
		if err != nil {
			return translateError(err)
		}
		if !bytes.Equal(pinned.PubKey, snap.SignerPubKey) {
			if !opts.AllowKeyDivergence {
				return &KeyDivergenceError{
					Namespace: snap.Namespace,
					Signer:    fmt.Sprintf("%x", snap.SignerPubKey),
					Pinned:    fmt.Sprintf("%x", pinned.PubKey),
				}
			}
		} else {
			key = pinned.PubKey
		}
	case opts.TrustedKeyID != "":
		trusted, err := e.meta.GetTrustedKey(ctx, opts.TrustedKeyID)
		if err != nil {
			return translateError(err)
		}
		if !bytes.Equal(trusted.PubKey, snap.SignerPubKey) {
			if !opts.AllowKeyDivergence {
				return &KeyDivergenceError{
					Namespace: snap.Namespace,
					Signer:    fmt.Sprintf("%x", snap.SignerPubKey),
					Pinned:    fmt.Sprintf("%x", trusted.PubKey),
				}
			}
		} else {
			key = trusted.PubKey
		}
	}

	if !signing.Verify(snap.Signature, snap.MerkleRoot, snap.Timestamp, snap.Namespace, key) {
		return ErrSignatureInvalid
	}
	return nil
}

// ProveAsset produces the Merkle inclusion proof of an asset within a
// snapshot, together with the leaf count needed to verify it.
func (e *Engine) ProveAsset(ctx context.Context, sid model.SnapshotID, assetID model.ID) (merkle.Proof, int, error) {
	snap, err := e.GetSnapshot(ctx, sid)
	if err != nil {
		return merkle.Proof{}, 0, err
	}
	tree := merkle.New(snap.AssetIDs)
	proof, err := tree.Prove(assetID)
	if err != nil {
		return merkle.Proof{}, 0, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return proof, tree.Len(), nil
}

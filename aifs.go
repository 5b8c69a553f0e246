// Package aifs implements a content-addressed, versioned storage engine
// for machine-learning workloads.
//
// Assets (blobs, tensors, embeddings, artifacts) are chunked, compressed
// and encrypted into a content-addressed chunk store; their metadata,
// lineage and visibility live in a transactional metadata plane. Sets of
// visible assets can be captured as Ed25519-signed Merkle snapshots and
// referenced through branches and tags. Embeddings are searchable through
// a per-namespace HNSW vector index.
//
// Quick start:
//
//	engine, err := aifs.Open("/var/lib/aifs")
//	if err != nil { ... }
//	defer engine.Close()
//
//	id, err := engine.PutAsset(ctx, "training", model.KindBlob, data)
//	snap, err := engine.CreateSnapshot(ctx, "training")
package aifs

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aifs-project/aifs/blobstore"
	"github.com/aifs-project/aifs/chunkstore"
	"github.com/aifs-project/aifs/event"
	"github.com/aifs-project/aifs/kms"
	"github.com/aifs-project/aifs/metastore"
	"github.com/aifs-project/aifs/model"
	"github.com/aifs-project/aifs/signing"
	"github.com/aifs-project/aifs/tx"
	"github.com/aifs-project/aifs/vectorindex"
)

// Version is the engine version reported by Info.
const Version = "0.9.0"

const (
	metaDirName   = "meta"
	chunksDirName = "chunks"
	indexFileName = "index.lz4"

	masterKeyFileName  = "kms.key"
	signingKeyFileName = "signing.key"
)

// Engine is the storage engine facade. All exported methods are safe for
// concurrent use.
type Engine struct {
	opts    options
	dir     string
	logger  *Logger
	metrics MetricsCollector

	meta   *metastore.Store
	chunks *chunkstore.Store
	keys   kms.Provider
	signer *signing.Signer
	txm    *tx.Manager
	index  *vectorindex.Index
	events *event.Broker

	mu     sync.Mutex // guards close state and index persistence
	closed bool
}

// Open opens (or initializes) an engine rooted at dir. The directory
// holds the metadata plane, the chunk store, the vector index file and,
// unless supplied via options, the generated key material.
func Open(dir string, optFns ...Option) (*Engine, error) {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	e := &Engine{
		opts:    opts,
		dir:     dir,
		logger:  opts.logger,
		metrics: opts.metricsCollector,
	}

	if !opts.inMemory {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	if err := e.openKeys(); err != nil {
		return nil, err
	}
	if err := e.openStores(); err != nil {
		return nil, err
	}
	if err := e.openIndex(); err != nil {
		e.meta.Close()
		return nil, err
	}

	e.txm = tx.NewManager(e.meta, tx.WithLogger(e.logger.Logger))
	e.events = event.NewBroker(event.WithLogger(e.logger.Logger))

	e.logger.Info("engine opened",
		"dir", dir,
		"in_memory", opts.inMemory,
		"metric", e.index.Metric().String(),
		"kms_key", e.keys.CurrentKeyID(),
	)
	return e, nil
}

// openKeys wires the KMS provider and the snapshot signer, loading or
// creating persistent key material under the storage dir when none was
// supplied through options.
func (e *Engine) openKeys() error {
	var err error

	e.keys = e.opts.keys
	if e.keys == nil {
		master := e.opts.masterKey
		if master == nil && !e.opts.inMemory {
			master, err = loadOrCreateKey(filepath.Join(e.dir, masterKeyFileName), 32)
			if err != nil {
				return fmt.Errorf("master key: %w", err)
			}
		}
		e.keys, err = kms.NewLocal(master)
		if err != nil {
			return err
		}
	}

	priv := e.opts.signingKey
	if priv == nil && !e.opts.inMemory {
		priv, err = loadOrCreateKey(filepath.Join(e.dir, signingKeyFileName), 32)
		if err != nil {
			return fmt.Errorf("signing key: %w", err)
		}
	}
	e.signer, err = signing.NewSigner(priv)
	return err
}

func (e *Engine) openStores() error {
	metaOpts := []metastore.Option{
		metastore.WithSyncWrites(e.opts.syncWrites),
		metastore.WithLogger(e.logger.Logger),
	}
	if e.opts.inMemory {
		metaOpts = append(metaOpts, metastore.WithInMemory())
	}
	meta, err := metastore.Open(filepath.Join(e.dir, metaDirName), metaOpts...)
	if err != nil {
		return fmt.Errorf("open metastore: %w", err)
	}
	e.meta = meta

	blobs := e.opts.blobs
	if blobs == nil {
		if e.opts.inMemory {
			blobs = blobstore.NewMemoryStore()
		} else {
			blobs, err = blobstore.NewLocalStore(filepath.Join(e.dir, chunksDirName))
			if err != nil {
				meta.Close()
				return fmt.Errorf("open chunk dir: %w", err)
			}
		}
	}
	e.chunks, err = chunkstore.New(blobs, e.keys,
		chunkstore.WithCompressionLevel(e.opts.compressionLevel),
		chunkstore.WithLogger(e.logger.Logger),
	)
	if err != nil {
		meta.Close()
		return err
	}
	return nil
}

// openIndex loads the persisted vector index when present, otherwise
// starts an empty one. Search results are joined against metadata-plane
// visibility, so provisional vectors stay hidden until commit.
func (e *Engine) openIndex() error {
	visible := func(ctx context.Context, id model.ID) bool {
		asset, err := e.meta.GetAsset(ctx, id)
		return err == nil && asset.Visible
	}
	indexOpts := []vectorindex.Option{
		vectorindex.WithMetric(e.opts.metric),
		vectorindex.WithVisibility(visible),
		vectorindex.WithLogger(e.logger.Logger),
	}
	if e.opts.hnswM > 0 {
		indexOpts = append(indexOpts, vectorindex.WithM(e.opts.hnswM))
	}
	if e.opts.hnswEF > 0 {
		indexOpts = append(indexOpts, vectorindex.WithEF(e.opts.hnswEF))
	}

	path := e.indexPath()
	if !e.opts.inMemory {
		if _, err := os.Stat(path); err == nil {
			index, err := vectorindex.Load(path, indexOpts...)
			if err != nil {
				return fmt.Errorf("load vector index: %w", err)
			}
			e.index = index
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}
	}

	index, err := vectorindex.New(indexOpts...)
	if err != nil {
		return err
	}
	e.index = index
	return nil
}

func (e *Engine) indexPath() string {
	return filepath.Join(e.dir, indexFileName)
}

// SigningPublicKey returns the Ed25519 key this engine signs snapshots
// with.
func (e *Engine) SigningPublicKey() []byte {
	return e.signer.PublicKey()
}

// checkOpen returns ErrClosed once Close has run.
func (e *Engine) checkOpen() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}

// loadOrCreateKey reads size random bytes from path, generating and
// persisting them (mode 0600) on first use.
func loadOrCreateKey(path string, size int) ([]byte, error) {
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != size {
			return nil, fmt.Errorf("key file %s is %d bytes, want %d", path, len(key), size)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	key = make([]byte, size)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

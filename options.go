package aifs

import (
	"github.com/aifs-project/aifs/blobstore"
	"github.com/aifs-project/aifs/chunkstore"
	"github.com/aifs-project/aifs/kms"
	"github.com/aifs-project/aifs/model"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector

	compressionLevel int
	blobs            blobstore.Store
	keys             kms.Provider
	masterKey        []byte
	signingKey       []byte

	metric model.Metric
	hnswM  int
	hnswEF int

	maxWorkers int

	syncWrites bool
	inMemory   bool
	autoCommit bool
}

// Option configures engine construction.
type Option func(*options)

// WithLogger configures structured logging. If l is nil, logging is
// disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector configures operational metrics collection.
// If c is nil, metrics are discarded.
func WithMetricsCollector(c MetricsCollector) Option {
	return func(o *options) {
		if c == nil {
			c = NoopMetricsCollector{}
		}
		o.metricsCollector = c
	}
}

// WithCompressionLevel sets the zstd level (1..22) used for chunk
// payloads. Level 1 is the default; higher levels trade CPU for size.
func WithCompressionLevel(level int) Option {
	return func(o *options) {
		o.compressionLevel = level
	}
}

// WithMaxWorkers bounds the chunk fetch parallelism per get.
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWorkers = n
		}
	}
}

// WithBlobStore replaces the default local filesystem chunk backend,
// e.g. with an s3.Store or minio.Store.
func WithBlobStore(s blobstore.Store) Option {
	return func(o *options) {
		o.blobs = s
	}
}

// WithKMSProvider replaces the default local KMS provider. The provider
// wraps the per-chunk data encryption keys.
func WithKMSProvider(p kms.Provider) Option {
	return func(o *options) {
		o.keys = p
	}
}

// WithMasterKey supplies the 32-byte master key for the local KMS
// provider instead of loading (or creating) one under the storage dir.
// Ignored when WithKMSProvider is set.
func WithMasterKey(key []byte) Option {
	return func(o *options) {
		o.masterKey = key
	}
}

// WithSigningKey supplies the Ed25519 private key (seed or full key)
// snapshots are signed with, instead of loading (or creating) one under
// the storage dir.
func WithSigningKey(priv []byte) Option {
	return func(o *options) {
		o.signingKey = priv
	}
}

// WithMetric sets the similarity metric of the vector index. The
// default is cosine. Ignored when an index file already exists; the
// persisted metric wins.
func WithMetric(m model.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithHNSW tunes the vector index graph: m is the per-node connection
// budget, ef the construction/search beam width.
func WithHNSW(m, ef int) Option {
	return func(o *options) {
		o.hnswM = m
		o.hnswEF = ef
	}
}

// WithSyncWrites controls fsync on metadata commits. Enabled by
// default; disable only for throwaway data.
func WithSyncWrites(sync bool) Option {
	return func(o *options) {
		o.syncWrites = sync
	}
}

// WithInMemory runs the whole engine in memory: metadata, chunks and
// index are discarded on Close. For tests.
func WithInMemory() Option {
	return func(o *options) {
		o.inMemory = true
	}
}

// WithAutoCommit controls whether puts outside an explicit transaction
// commit immediately (the default) or fail.
func WithAutoCommit(auto bool) Option {
	return func(o *options) {
		o.autoCommit = auto
	}
}

func defaultOptions() options {
	return options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
		compressionLevel: chunkstore.DefaultCompressionLevel,
		maxWorkers:       defaultMaxWorkers,
		metric:           model.MetricCosine,
		syncWrites:       true,
		autoCommit:       true,
	}
}

// Package chunkstore implements the encrypted, compressed, content-addressed
// chunk layer. Chunks are addressed by the BLAKE3-256 hash of their plaintext,
// compressed with zstd when that makes them smaller, and sealed with
// AES-256-GCM under a per-chunk data key wrapped by a KMS provider. The
// stored file body is nonce(12) || tag(16) || ciphertext; everything else
// about a chunk (wrapped key, codec, sizes, refcount) travels in its
// model.ChunkRef, persisted by the metadata plane.
package chunkstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/aifs-project/aifs/blobstore"
	"github.com/aifs-project/aifs/kms"
	"github.com/aifs-project/aifs/model"
)

const (
	nonceSize = 12
	tagSize   = 16

	// MinCompressionLevel and MaxCompressionLevel bound the accepted zstd levels.
	MinCompressionLevel = 1
	MaxCompressionLevel = 22

	// DefaultCompressionLevel favors throughput over ratio.
	DefaultCompressionLevel = 1
)

// Options configures a Store.
type Options struct {
	// CompressionLevel is the zstd level used for new chunks (1..22).
	CompressionLevel int
	// Logger receives structured operational logs. Nil disables logging.
	Logger *slog.Logger
}

// Option is a functional option for New.
type Option func(*Options)

// WithCompressionLevel sets the zstd level for new chunks.
func WithCompressionLevel(level int) Option {
	return func(o *Options) { o.CompressionLevel = level }
}

// WithLogger sets the logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Store seals plaintext chunks into a blobstore and opens them again.
// All methods are safe for concurrent use.
type Store struct {
	blobs  blobstore.Store
	keys   kms.Provider
	level  int
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	logger *slog.Logger
	sf     singleflight.Group
}

// ChunkStat describes a stored chunk without opening it.
type ChunkStat struct {
	Hash       model.ID
	StoredSize uint64
}

// New creates a chunk store over the given blob backend and key provider.
func New(blobs blobstore.Store, keys kms.Provider, optFns ...Option) (*Store, error) {
	opts := Options{
		CompressionLevel: DefaultCompressionLevel,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.CompressionLevel < MinCompressionLevel || opts.CompressionLevel > MaxCompressionLevel {
		return nil, fmt.Errorf("compression level %d out of range [%d, %d]",
			opts.CompressionLevel, MinCompressionLevel, MaxCompressionLevel)
	}

	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Store{
		blobs:  blobs,
		keys:   keys,
		level:  opts.CompressionLevel,
		enc:    enc,
		dec:    dec,
		logger: logger,
	}, nil
}

// Put seals data and writes it under its BLAKE3 address. Concurrent puts of
// identical content collapse into a single write and share one ChunkRef.
func (s *Store) Put(ctx context.Context, data []byte) (model.ChunkRef, error) {
	hash := model.Sum(data)

	v, err, _ := s.sf.Do(hash.String(), func() (any, error) {
		return s.put(ctx, hash, data)
	})
	if err != nil {
		return model.ChunkRef{}, err
	}
	return v.(model.ChunkRef), nil
}

func (s *Store) put(ctx context.Context, hash model.ID, data []byte) (model.ChunkRef, error) {
	codec := model.CodecZstd
	payload := s.enc.EncodeAll(data, nil)
	if len(payload) >= len(data) {
		codec = model.CodecNone
		payload = data
	}

	key, err := s.keys.GenerateDataKey(ctx)
	if err != nil {
		return model.ChunkRef{}, fmt.Errorf("generate data key: %w", err)
	}

	aead, err := newAEAD(key.Plaintext)
	if err != nil {
		return model.ChunkRef{}, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return model.ChunkRef{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, payload, aad(hash, codec))

	// Seal output is ciphertext||tag; the file body carries the tag first so
	// a truncated write fails authentication instead of yielding a short read.
	body := make([]byte, 0, nonceSize+len(sealed))
	body = append(body, nonce...)
	body = append(body, sealed[len(sealed)-tagSize:]...)
	body = append(body, sealed[:len(sealed)-tagSize]...)

	// A blob with no live ref can survive a crash between chunk write and
	// metadata commit. Its data key is lost with the crash, so replace it.
	exists, err := s.blobs.Has(ctx, hash.String())
	if err != nil {
		return model.ChunkRef{}, &UnavailableError{Op: "put", Hash: hash, cause: err}
	}
	if exists {
		if err := s.blobs.Delete(ctx, hash.String()); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
			return model.ChunkRef{}, &UnavailableError{Op: "put", Hash: hash, cause: err}
		}
	}
	if err := s.blobs.Put(ctx, hash.String(), body); err != nil {
		return model.ChunkRef{}, &UnavailableError{Op: "put", Hash: hash, cause: err}
	}

	s.logger.DebugContext(ctx, "chunk stored",
		slog.String("hash", hash.String()),
		slog.Int("size_plain", len(data)),
		slog.Int("size_stored", len(body)),
		slog.String("codec", codec.String()),
	)

	return model.ChunkRef{
		Hash:             hash,
		SizePlain:        uint64(len(data)),
		SizeStored:       uint64(len(body)),
		KMSKeyID:         key.KeyID,
		WrappedDEK:       key.Wrapped,
		Codec:            codec,
		CompressionLevel: s.level,
		CreatedAt:        time.Now().UTC(),
	}, nil
}

// Get opens the chunk described by ref and returns its plaintext.
func (s *Store) Get(ctx context.Context, ref model.ChunkRef) ([]byte, error) {
	body, err := s.blobs.Get(ctx, ref.Hash.String())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Hash)
		}
		return nil, &UnavailableError{Op: "get", Hash: ref.Hash, cause: err}
	}

	if len(body) < nonceSize+tagSize {
		return nil, &IntegrityError{Hash: ref.Hash, cause: fmt.Errorf("body too short: %d bytes", len(body))}
	}
	nonce := body[:nonceSize]
	tag := body[nonceSize : nonceSize+tagSize]
	ct := body[nonceSize+tagSize:]

	dek, err := s.keys.Unwrap(ctx, ref.WrappedDEK, ref.KMSKeyID)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key for %s: %w", ref.Hash, err)
	}

	aead, err := newAEAD(dek)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	payload, err := aead.Open(nil, nonce, sealed, aad(ref.Hash, ref.Codec))
	if err != nil {
		return nil, &IntegrityError{Hash: ref.Hash, cause: err}
	}

	data := payload
	if ref.Codec == model.CodecZstd {
		data, err = s.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, &IntegrityError{Hash: ref.Hash, cause: err}
		}
	}

	if got := model.Sum(data); got != ref.Hash {
		return nil, &CorruptionError{Want: ref.Hash, Got: got}
	}
	return data, nil
}

// Has reports whether the chunk blob exists.
func (s *Store) Has(ctx context.Context, hash model.ID) (bool, error) {
	ok, err := s.blobs.Has(ctx, hash.String())
	if err != nil {
		return false, &UnavailableError{Op: "has", Hash: hash, cause: err}
	}
	return ok, nil
}

// Delete removes the chunk blob. Refcount bookkeeping belongs to the caller.
func (s *Store) Delete(ctx context.Context, hash model.ID) error {
	if err := s.blobs.Delete(ctx, hash.String()); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return &UnavailableError{Op: "delete", Hash: hash, cause: err}
	}
	return nil
}

// Stat describes a stored chunk without decrypting it.
func (s *Store) Stat(ctx context.Context, hash model.ID) (ChunkStat, error) {
	if st, ok := s.blobs.(blobstore.Statter); ok {
		info, err := st.Stat(ctx, hash.String())
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return ChunkStat{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
			}
			return ChunkStat{}, &UnavailableError{Op: "stat", Hash: hash, cause: err}
		}
		return ChunkStat{Hash: hash, StoredSize: uint64(info.Size)}, nil
	}

	body, err := s.blobs.Get(ctx, hash.String())
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return ChunkStat{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
		}
		return ChunkStat{}, &UnavailableError{Op: "stat", Hash: hash, cause: err}
	}
	return ChunkStat{Hash: hash, StoredSize: uint64(len(body))}, nil
}

// ReWrap re-wraps the chunk's data key under the provider's current key
// without touching the stored ciphertext. The returned ref replaces the old
// one in the metadata plane.
func (s *Store) ReWrap(ctx context.Context, ref model.ChunkRef) (model.ChunkRef, error) {
	key, err := s.keys.ReWrap(ctx, ref.WrappedDEK, ref.KMSKeyID)
	if err != nil {
		return model.ChunkRef{}, fmt.Errorf("rewrap data key for %s: %w", ref.Hash, err)
	}
	ref.WrappedDEK = key.Wrapped
	ref.KMSKeyID = key.KeyID
	return ref, nil
}

// Prune deletes the given chunk blobs, typically those whose refcount reached
// zero. Missing blobs are skipped; the count of actually deleted blobs is
// returned along with the first backend error encountered.
func (s *Store) Prune(ctx context.Context, hashes []model.ID) (int, error) {
	deleted := 0
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		err := s.blobs.Delete(ctx, h.String())
		if errors.Is(err, blobstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, &UnavailableError{Op: "prune", Hash: h, cause: err}
		}
		deleted++
	}
	s.logger.InfoContext(ctx, "chunks pruned", slog.Int("deleted", deleted))
	return deleted, nil
}

func newAEAD(dek []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}

// aad binds ciphertext to both the chunk address and its compression codec,
// so swapping blobs between addresses or flipping the codec marker fails
// authentication.
func aad(hash model.ID, codec model.CompressionCodec) []byte {
	out := make([]byte, 0, len(hash)+1)
	out = append(out, hash[:]...)
	out = append(out, byte(codec))
	return out
}

package chunkstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aifs-project/aifs/blobstore"
	"github.com/aifs-project/aifs/kms"
	"github.com/aifs-project/aifs/model"
)

func newTestStore(t *testing.T, optFns ...Option) (*Store, blobstore.Store) {
	t.Helper()

	keys, err := kms.NewLocal(nil)
	require.NoError(t, err)

	blobs := blobstore.NewMemoryStore()
	s, err := New(blobs, keys, optFns...)
	require.NoError(t, err)

	return s, blobs
}

func TestPutGetRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "compressible", data: bytes.Repeat([]byte("aifs chunk payload "), 1024)},
		{name: "single byte", data: []byte{0x42}},
		{name: "empty", data: []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			ctx := context.Background()

			ref, err := s.Put(ctx, tt.data)
			require.NoError(t, err)
			assert.Equal(t, model.Sum(tt.data), ref.Hash)
			assert.Equal(t, uint64(len(tt.data)), ref.SizePlain)

			got, err := s.Get(ctx, ref)
			require.NoError(t, err)
			assert.Equal(t, tt.data, got)
		})
	}
}

func TestPutIncompressibleStaysRaw(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	data := make([]byte, 4096)
	_, err := rand.Read(data)
	require.NoError(t, err)

	ref, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, model.CodecNone, ref.Codec)
	// Stored size is plaintext plus nonce and tag only.
	assert.Equal(t, ref.SizePlain+nonceSize+tagSize, ref.SizeStored)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPutCompressibleShrinks(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("0123456789abcdef"), 4096)

	ref, err := s.Put(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, model.CodecZstd, ref.Codec)
	assert.Less(t, ref.SizeStored, ref.SizePlain)
}

func TestGetMissingChunk(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ref := model.ChunkRef{Hash: model.Sum([]byte("never stored"))}
	_, err := s.Get(ctx, ref)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTamperedBodyFailsAuthentication(t *testing.T) {
	s, blobs := newTestStore(t)
	ctx := context.Background()

	data := []byte("sensitive tensor bytes")
	ref, err := s.Put(ctx, data)
	require.NoError(t, err)

	body, err := blobs.Get(ctx, ref.Hash.String())
	require.NoError(t, err)

	// Flip one ciphertext bit and write the blob back.
	body = append([]byte(nil), body...)
	body[len(body)-1] ^= 0x01
	require.NoError(t, blobs.Delete(ctx, ref.Hash.String()))
	require.NoError(t, blobs.Put(ctx, ref.Hash.String(), body))

	_, err = s.Get(ctx, ref)
	var ie *IntegrityError
	assert.ErrorAs(t, err, &ie)
}

func TestGetTruncatedBody(t *testing.T) {
	s, blobs := newTestStore(t)
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte("short-lived"))
	require.NoError(t, err)

	require.NoError(t, blobs.Delete(ctx, ref.Hash.String()))
	require.NoError(t, blobs.Put(ctx, ref.Hash.String(), []byte{0x01, 0x02}))

	_, err = s.Get(ctx, ref)
	var ie *IntegrityError
	assert.ErrorAs(t, err, &ie)
}

func TestGetCodecFlipFailsAuthentication(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	data := make([]byte, 1024)
	_, err := rand.Read(data)
	require.NoError(t, err)

	ref, err := s.Put(ctx, data)
	require.NoError(t, err)
	require.Equal(t, model.CodecNone, ref.Codec)

	// The codec byte participates in the AAD, so lying about it must fail
	// decryption rather than feed garbage into the decompressor.
	ref.Codec = model.CodecZstd
	_, err = s.Get(ctx, ref)
	var ie *IntegrityError
	assert.ErrorAs(t, err, &ie)
}

func TestConcurrentPutsShareOneWrite(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	data := bytes.Repeat([]byte("dedup me "), 512)

	const goroutines = 16
	refs := make([]model.ChunkRef, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := s.Put(ctx, data)
			assert.NoError(t, err)
			refs[i] = ref
		}()
	}
	wg.Wait()

	for _, ref := range refs {
		got, err := s.Get(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestReWrapKeepsCiphertextReadable(t *testing.T) {
	keys, err := kms.NewLocal(nil)
	require.NoError(t, err)

	blobs := blobstore.NewMemoryStore()
	s, err := New(blobs, keys)
	require.NoError(t, err)

	ctx := context.Background()
	data := []byte("rotate my key, not my bytes")

	ref, err := s.Put(ctx, data)
	require.NoError(t, err)

	newMaster := make([]byte, 32)
	_, err = rand.Read(newMaster)
	require.NoError(t, err)
	newKeyID, err := keys.Rotate(newMaster)
	require.NoError(t, err)

	rotated, err := s.ReWrap(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, newKeyID, rotated.KMSKeyID)
	assert.NotEqual(t, ref.WrappedDEK, rotated.WrappedDEK)

	// Both the old and the re-wrapped ref must still open the same blob.
	for _, r := range []model.ChunkRef{ref, rotated} {
		got, err := s.Get(ctx, r)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestStat(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ref, err := s.Put(ctx, []byte("stat me"))
	require.NoError(t, err)

	st, err := s.Stat(ctx, ref.Hash)
	require.NoError(t, err)
	assert.Equal(t, ref.Hash, st.Hash)
	assert.Equal(t, ref.SizeStored, st.StoredSize)

	_, err = s.Stat(ctx, model.Sum([]byte("missing")))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrune(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	var hashes []model.ID
	for _, payload := range []string{"one", "two", "three"} {
		ref, err := s.Put(ctx, []byte(payload))
		require.NoError(t, err)
		hashes = append(hashes, ref.Hash)
	}
	// A hash that was never stored is skipped, not an error.
	hashes = append(hashes, model.Sum([]byte("ghost")))

	deleted, err := s.Prune(ctx, hashes)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	for _, h := range hashes {
		ok, err := s.Has(ctx, h)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestLocalBackendRoundTrip(t *testing.T) {
	keys, err := kms.NewLocal(nil)
	require.NoError(t, err)

	blobs, err := blobstore.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	s, err := New(blobs, keys, WithCompressionLevel(3))
	require.NoError(t, err)

	ctx := context.Background()
	data := bytes.Repeat([]byte("on disk "), 2048)

	ref, err := s.Put(ctx, data)
	require.NoError(t, err)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestInvalidCompressionLevel(t *testing.T) {
	keys, err := kms.NewLocal(nil)
	require.NoError(t, err)

	for _, level := range []int{0, -1, 23} {
		_, err := New(blobstore.NewMemoryStore(), keys, WithCompressionLevel(level))
		assert.Error(t, err)
	}
}

package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeUnderTest covers the behavior shared by every Store implementation.
func storeUnderTest(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "aabbcc", []byte("one")))
	require.NoError(t, s.Put(ctx, "aaddee", []byte("two")))
	require.NoError(t, s.Put(ctx, "ffeedd", []byte("three")))

	got, err := s.Get(ctx, "aabbcc")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	ok, err := s.Has(ctx, "aabbcc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Has(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// Put is idempotent and never overwrites.
	require.NoError(t, s.Put(ctx, "aabbcc", []byte("changed")))
	got, err = s.Get(ctx, "aabbcc")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	names, err := s.List(ctx, "aa")
	require.NoError(t, err)
	assert.Equal(t, []string{"aabbcc", "aaddee"}, names)

	names, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"aabbcc", "aaddee", "ffeedd"}, names)

	require.NoError(t, s.Delete(ctx, "aabbcc"))
	_, err = s.Get(ctx, "aabbcc")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete(ctx, "aabbcc")) // already gone

	if st, ok := s.(Statter); ok {
		stat, err := st.Stat(ctx, "ffeedd")
		require.NoError(t, err)
		assert.Equal(t, int64(5), stat.Size)

		_, err = st.Stat(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	storeUnderTest(t, s)
}

func TestLocalStoreShardedLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "aabbcc", []byte("payload")))
	_, err = os.Stat(filepath.Join(dir, "aa", "aabbcc"))
	require.NoError(t, err)

	// Short names land in the fallback shard.
	require.NoError(t, s.Put(ctx, "x", []byte("y")))
	_, err = os.Stat(filepath.Join(dir, "__", "x"))
	require.NoError(t, err)
}

func TestLocalStoreDeleteRemovesEmptyShard(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "aabbcc", []byte("payload")))
	require.NoError(t, s.Delete(ctx, "aabbcc"))
	_, err = os.Stat(filepath.Join(dir, "aa"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStoreHonorsContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Put(ctx, "aabbcc", []byte("payload")))
	_, err = s.Get(ctx, "aabbcc")
	assert.Error(t, err)
}

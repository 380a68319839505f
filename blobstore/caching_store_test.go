package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/internal/cache"
)

type countingStore struct {
	*MemoryStore
	reads int
}

func (s *countingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.MemoryStore.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &countingBlob{Blob: b, store: s}, nil
}

type countingBlob struct {
	Blob
	store *countingStore
}

func (b *countingBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	b.store.reads++
	return b.Blob.ReadAt(ctx, p, off)
}

func TestCachingStoreServesRepeatedReadsFromCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingStore{MemoryStore: NewMemoryStore()}
	data := bytes.Repeat([]byte("0123456789"), 100)
	require.NoError(t, inner.Put(ctx, "_0.tim", data))

	s := NewCachingStore(inner, cache.NewLRU(1<<20, nil), 64)
	blob, err := s.Open(ctx, "_0.tim")
	require.NoError(t, err)
	defer blob.Close()

	buf := make([]byte, 200)
	n, err := blob.ReadAt(ctx, buf, 50)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, data[50:250], buf)
	readsAfterFirst := inner.reads

	n, err = blob.ReadAt(ctx, buf, 50)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, readsAfterFirst, inner.reads)
}

func TestCachingBlobTail(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	data := []byte("short blob content")
	require.NoError(t, inner.Put(ctx, "a", data))

	s := NewCachingStore(inner, cache.NewLRU(1<<20, nil), 8)
	blob, err := s.Open(ctx, "a")
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := blob.ReadAt(ctx, buf, int64(len(data)-4))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)
	assert.Equal(t, data[len(data)-4:], buf[:n])

	rc, err := blob.ReadRange(ctx, 6, 4)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "blob", string(got))
}

func TestCachingStoreInvalidatesOnPut(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s := NewCachingStore(inner, cache.NewLRU(1<<20, nil), 8)

	require.NoError(t, s.Put(ctx, "x", []byte("aaaaaaaa")))
	blob, err := s.Open(ctx, "x")
	require.NoError(t, err)
	buf := make([]byte, 8)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "x", []byte("bbbbbbbb")))
	blob, err = s.Open(ctx, "x")
	require.NoError(t, err)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbb", string(buf))

	assert.ErrorIs(t, s.PutIfAbsent(ctx, "x", []byte("c")), ErrAlreadyExists)
}

func TestCachingStoreServesRepeatReadsFromCache(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "_0.tim", []byte("0123456789abcdef")))

	lru := cache.NewLRU(1<<20, nil)
	s := NewCachingStore(inner, lru, 8)
	blob, err := s.Open(ctx, "_0.tim")
	require.NoError(t, err)

	buf := make([]byte, 4)
	for range 2 {
		_, err = blob.ReadAt(ctx, buf, 8)
		require.NoError(t, err)
		assert.Equal(t, "89ab", string(buf))
	}
	st := lru.Stats()
	assert.Positive(t, st.Hits)
	assert.Equal(t, 1, st.Blocks)

	require.NoError(t, s.Delete(ctx, "_0.tim"))
	assert.Zero(t, lru.Stats().Blocks)
}

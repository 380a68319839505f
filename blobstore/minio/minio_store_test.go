package minio_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex"
	"github.com/hupe1980/segdex/blobstore"
	"github.com/hupe1980/segdex/blobstore/minio"
	"github.com/hupe1980/segdex/document"
)

func TestDialRequiresEndpointAndBucket(t *testing.T) {
	_, err := minio.Dial("", "bucket", "")
	assert.Error(t, err)
	_, err = minio.Dial("localhost:9000", "", "")
	assert.Error(t, err)

	bs, err := minio.Dial("localhost:9000", "bucket", "/idx/", minio.WithInsecure(true))
	require.NoError(t, err)
	assert.NotNil(t, bs)
}

// testStore connects to the server named by SEGDEX_MINIO_ENDPOINT. The
// bucket must exist.
func testStore(t *testing.T) *minio.Store {
	t.Helper()
	endpoint := os.Getenv("SEGDEX_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("SEGDEX_MINIO_ENDPOINT not set")
	}
	bucket := os.Getenv("SEGDEX_MINIO_BUCKET")
	if bucket == "" {
		bucket = "segdex-test"
	}
	bs, err := minio.Dial(endpoint, bucket, "test/"+uuid.NewString(),
		minio.WithCredentials(os.Getenv("MINIO_ACCESS_KEY"), os.Getenv("MINIO_SECRET_KEY")),
		minio.WithInsecure(true))
	require.NoError(t, err)
	return bs
}

func TestStoreBlobs(t *testing.T) {
	ctx := context.Background()
	bs := testStore(t)

	data := []byte("hello minio world")
	require.NoError(t, bs.Put(ctx, "_0.fdt", data))

	blob, err := bs.Open(ctx, "_0.fdt")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())
	buf := make([]byte, 5)
	_, err = blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(buf))
	require.NoError(t, blob.Close())

	wb, err := bs.Create(ctx, "_0.tim")
	require.NoError(t, err)
	_, err = wb.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	names, err := bs.List(ctx, "_0")
	require.NoError(t, err)
	assert.Equal(t, []string{"_0.fdt", "_0.tim"}, names)

	require.NoError(t, bs.PutIfAbsent(ctx, "segments_1", []byte("a")))
	assert.ErrorIs(t, bs.PutIfAbsent(ctx, "segments_1", []byte("b")), blobstore.ErrAlreadyExists)

	for _, n := range []string{"_0.fdt", "_0.tim", "segments_1"} {
		require.NoError(t, bs.Delete(ctx, n))
	}
	_, err = bs.Open(ctx, "_0.fdt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
	require.NoError(t, bs.Delete(ctx, "_0.fdt"), "deleting a missing blob")
}

func TestIndexOnMinio(t *testing.T) {
	ctx := context.Background()
	bs := testStore(t)

	ix, err := segdex.Open(ctx, segdex.Remote(bs))
	require.NoError(t, err)
	for i := range 20 {
		require.NoError(t, ix.Add(ctx, document.New(
			document.NewStringField("id", fmt.Sprint(i), true),
			document.NewTextField("body", "stored in object storage", false),
		)))
	}
	require.NoError(t, ix.Close(ctx))

	r, err := segdex.OpenReader(ctx, segdex.Remote(bs))
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, 20, r.NumDocs())
}

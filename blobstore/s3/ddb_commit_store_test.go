package s3

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segdex/blobstore"
)

// mockDDBClient is an in-memory DynamoDB mock for testing.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(attrs map[string]types.AttributeValue) string {
	return attrs["base_uri"].(*types.AttributeValueMemberS).Value + ":" +
		attrs["version"].(*types.AttributeValueMemberN).Value
}

func (m *mockDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := itemKey(params.Item)
	if aws.ToString(params.ConditionExpression) == "attribute_not_exists(version)" {
		if _, exists := m.items[key]; exists {
			return nil, &types.ConditionalCheckFailedException{Message: aws.String("condition failed")}
		}
	}
	m.items[key] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	baseURI := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value

	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == baseURI {
			items = append(items, item)
		}
	}

	version := func(item map[string]types.AttributeValue) int64 {
		v, _ := strconv.ParseInt(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		return v
	}
	sort.Slice(items, func(i, j int) bool { return version(items[i]) > version(items[j]) })

	if params.Limit != nil && int(*params.Limit) < len(items) {
		items = items[:*params.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

func (m *mockDDBClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

type failingPutStore struct {
	*blobstore.MemoryStore
}

func (failingPutStore) Put(context.Context, string, []byte) error {
	return errors.New("put failed")
}

func TestDDBCommitStore_FirstCommit(t *testing.T) {
	ctx := context.Background()
	inner := blobstore.NewMemoryStore()
	store := NewDDBCommitStore(inner, newMockDDBClient(), "segdex-commits", "s3://test-bucket/test/")

	gen, err := store.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), gen)

	require.NoError(t, store.PutIfAbsent(ctx, "segments_1", []byte("commit-1")))

	blob, err := store.Open(ctx, "segments_1")
	require.NoError(t, err)
	defer blob.Close()
	buf := make([]byte, blob.Size())
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "commit-1", string(buf))

	gen, err = store.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestDDBCommitStore_GenerationsAreBase36(t *testing.T) {
	ctx := context.Background()
	store := NewDDBCommitStore(blobstore.NewMemoryStore(), newMockDDBClient(), "t", "uri")

	for _, name := range []string{"segments_9", "segments_a", "segments_10"} {
		require.NoError(t, store.PutIfAbsent(ctx, name, []byte(name)))
	}

	gen, err := store.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(36), gen)
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := context.Background()
	store := NewDDBCommitStore(blobstore.NewMemoryStore(), newMockDDBClient(), "t", "uri")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.PutIfAbsent(ctx, "segments_2", []byte("x"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, blobstore.ErrAlreadyExists) && errors.Is(err, ErrConcurrentModification):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 7, conflicts)
}

func TestDDBCommitStore_ReleasesClaimOnFailedPut(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := NewDDBCommitStore(failingPutStore{blobstore.NewMemoryStore()}, ddb, "t", "uri")

	require.Error(t, store.PutIfAbsent(ctx, "segments_3", []byte("x")))

	gen, err := store.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), gen)
}

func TestDDBCommitStore_NonCommitNamesUseInnerStore(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()
	store := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "t", "uri")

	require.NoError(t, store.PutIfAbsent(ctx, "_0.si", []byte("x")))
	assert.ErrorIs(t, store.PutIfAbsent(ctx, "_0.si", []byte("y")), blobstore.ErrAlreadyExists)
	assert.Empty(t, ddb.items)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := context.Background()
	ddb := newMockDDBClient()

	store1 := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "t", "s3://bucket-a/path/")
	store2 := NewDDBCommitStore(blobstore.NewMemoryStore(), ddb, "t", "s3://bucket-b/path/")

	require.NoError(t, store1.PutIfAbsent(ctx, "segments_1", []byte("a")))
	require.NoError(t, store2.PutIfAbsent(ctx, "segments_1", []byte("b")))
	require.NoError(t, store2.PutIfAbsent(ctx, "segments_2", []byte("b")))

	gen1, err := store1.LatestGeneration(ctx)
	require.NoError(t, err)
	gen2, err := store2.LatestGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen1)
	assert.Equal(t, int64(2), gen2)
}

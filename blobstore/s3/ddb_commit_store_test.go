package s3

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/pagedb/blobstore"
	"github.com/hupe1980/pagedb/blobstore/blobstoretest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDDBClient is an in-memory commit table.
type mockDDBClient struct {
	mu    sync.RWMutex
	items map[string]map[string]types.AttributeValue
}

func newMockDDBClient() *mockDDBClient {
	return &mockDDBClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["base_uri"].(*types.AttributeValueMemberS).Value + ":" +
		item["version"].(*types.AttributeValueMemberN).Value
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

	uri := params.ExpressionAttributeValues[":uri"].(*types.AttributeValueMemberS).Value
	var items []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["base_uri"].(*types.AttributeValueMemberS).Value == uri {
			items = append(items, item)
		}
	}

	version := func(item map[string]types.AttributeValue) uint64 {
		v, _ := strconv.ParseUint(item["version"].(*types.AttributeValueMemberN).Value, 10, 64)
		return v
	}
	slices.SortFunc(items, func(a, b map[string]types.AttributeValue) int {
		if aws.ToBool(params.ScanIndexForward) {
			return int(version(a)) - int(version(b))
		}
		return int(version(b)) - int(version(a))
	})
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

func newTestDDBCommitStore(ddb *mockDDBClient, baseURI string) *DDBCommitStore {
	return NewDDBCommitStore(NewStore(newFakeS3(), "test-bucket", "test/"), ddb, "pagedb-commits", baseURI)
}

func readCurrent(t *testing.T, s blobstore.BlobStore) string {
	t.Helper()
	data, err := blobstore.ReadAll(t.Context(), s, CurrentName)
	require.NoError(t, err)
	return string(data)
}

func TestDDBCommitStore_Conformance(t *testing.T) {
	blobstoretest.Run(t, newTestDDBCommitStore(newMockDDBClient(), ""))
}

func TestDDBCommitStore_DefaultBaseURI(t *testing.T) {
	s := newTestDDBCommitStore(newMockDDBClient(), "")
	assert.Equal(t, "s3://test-bucket/test", s.baseURI)
}

func TestDDBCommitStore_MultipleCommits(t *testing.T) {
	ctx := t.Context()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Put(ctx, CurrentName, []byte(fmt.Sprintf("DESCRIPTOR-%06d.bin", i))))
	}

	assert.Equal(t, "DESCRIPTOR-000003.bin", readCurrent(t, store))
	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	// CURRENT never reaches S3.
	_, err = store.Store.Open(ctx, CurrentName)
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_ConcurrentCommits(t *testing.T) {
	ctx := t.Context()
	store := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")
	require.NoError(t, store.Put(ctx, CurrentName, []byte("DESCRIPTOR-000001.bin")))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := range 5 {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Put(ctx, CurrentName, []byte(fmt.Sprintf("DESCRIPTOR-%06d.bin", id+2)))
			if err != nil && !errors.Is(err, ErrConcurrentModification) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Positive(t, successes)
	v, err := store.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1+successes), v)
}

func TestDDBCommitStore_NotFoundBeforeCommit(t *testing.T) {
	store := newTestDDBCommitStore(newMockDDBClient(), "s3://test-bucket/test/")
	_, err := store.Open(t.Context(), CurrentName)
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestDDBCommitStore_IsolatedNamespaces(t *testing.T) {
	ctx := t.Context()
	ddb := newMockDDBClient()
	a := newTestDDBCommitStore(ddb, "s3://bucket-a/path/")
	b := newTestDDBCommitStore(ddb, "s3://bucket-b/path/")

	require.NoError(t, a.Put(ctx, CurrentName, []byte("DESCRIPTOR-A.bin")))
	require.NoError(t, b.Put(ctx, CurrentName, []byte("DESCRIPTOR-B.bin")))

	assert.Equal(t, "DESCRIPTOR-A.bin", readCurrent(t, a))
	assert.Equal(t, "DESCRIPTOR-B.bin", readCurrent(t, b))
}

func TestDDBCommitStore_Prune(t *testing.T) {
	ctx := t.Context()
	ddb := newMockDDBClient()
	store := newTestDDBCommitStore(ddb, "s3://test-bucket/test/")

	for i := 1; i <= 5; i++ {
		_, err := store.Commit(ctx, fmt.Sprintf("DESCRIPTOR-%06d.bin", i))
		require.NoError(t, err)
	}

	n, err := store.Prune(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, ddb.items, 2)
	assert.Equal(t, "DESCRIPTOR-000005.bin", readCurrent(t, store))

	// Deleting CURRENT keeps the commit log.
	require.NoError(t, store.Delete(ctx, CurrentName))
	assert.Equal(t, "DESCRIPTOR-000005.bin", readCurrent(t, store))
}

package dynamodb

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/feedpulse/kvstore"
)

// fakeClient emulates the condition-expression subset the store relies on.
type fakeClient struct {
	items map[string]map[string]types.AttributeValue
}

func newFakeClient() *fakeClient {
	return &fakeClient{items: make(map[string]map[string]types.AttributeValue)}
}

func itemKey(item map[string]types.AttributeValue) string {
	return item["k"].(*types.AttributeValueMemberS).Value
}

func (f *fakeClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := itemKey(params.Item)
	existing, exists := f.items[key]

	if params.ConditionExpression != nil {
		switch {
		case *params.ConditionExpression == "attribute_not_exists(k)":
			if exists {
				return nil, &types.ConditionalCheckFailedException{}
			}
		default:
			expected := params.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
			if !exists || existing["ver"].(*types.AttributeValueMemberN).Value != expected {
				return nil, &types.ConditionalCheckFailedException{}
			}
		}
	}

	f.items[key] = params.Item

	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	item, ok := f.items[itemKey(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}

	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	lower := params.ExpressionAttributeValues[":lower"].(*types.AttributeValueMemberS).Value

	upper := ""
	if u, ok := params.ExpressionAttributeValues[":upper"]; ok {
		upper = u.(*types.AttributeValueMemberS).Value
	}

	var keys []string
	for key := range f.items {
		if key < lower {
			continue
		}
		if upper != "" && key > upper {
			continue
		}
		keys = append(keys, key)
	}

	sort.Strings(keys)

	if params.Limit != nil && len(keys) > int(*params.Limit) {
		keys = keys[:int(*params.Limit)]
	}

	out := &dynamodb.QueryOutput{}
	for _, key := range keys {
		out.Items = append(out.Items, f.items[key])
	}

	return out, nil
}

func (f *fakeClient) DeleteItem(_ context.Context, params *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, itemKey(params.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestStoreConditionalPut(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeClient(), "events", "test")

	version, err := store.ConditionalPut(ctx, "a", 0, []byte("one"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), version)

	_, err = store.ConditionalPut(ctx, "a", 0, []byte("two"))
	assert.ErrorIs(t, err, kvstore.ErrKeyExists)

	_, err = store.ConditionalPut(ctx, "a", 9, []byte("two"))
	assert.ErrorIs(t, err, kvstore.ErrVersionConflict)

	version, err = store.ConditionalPut(ctx, "a", 1, []byte("two"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), version)

	entry, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), entry.Value)
	assert.Equal(t, uint64(2), entry.Version)
}

func TestStoreGetNotFound(t *testing.T) {
	store := NewStore(newFakeClient(), "events", "test")

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)
}

func TestStoreListByPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewStore(newFakeClient(), "events", "test")

	for _, key := range []string{"wal/01/a", "wal/01/b", "wal/02/c", "zother"} {
		_, err := store.ConditionalPut(ctx, key, 0, []byte("v"))
		require.NoError(t, err)
	}

	keys, next, err := store.ListByPrefix(ctx, "wal/", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"wal/01/a", "wal/01/b"}, keys)
	require.NotEmpty(t, next)

	keys, _, err = store.ListByPrefix(ctx, "wal/", next, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"wal/02/c"}, keys)

	for _, key := range keys {
		assert.True(t, strings.HasPrefix(key, "wal/"))
	}
}

func TestPrefixUpperBound(t *testing.T) {
	upper, ok := prefixUpperBound("wal/")
	require.True(t, ok)
	assert.Equal(t, "wal0", upper)

	_, ok = prefixUpperBound("")
	assert.False(t, ok)
}

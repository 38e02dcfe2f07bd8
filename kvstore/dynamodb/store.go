// Package dynamodb implements kvstore.Store on Amazon DynamoDB.
//
// DynamoDB condition expressions provide the exact compare-and-swap semantics
// the conditional put needs, which makes it the backend of choice when the
// event log must survive process loss without running a filesystem.
//
// Table schema:
//   - Partition key: ns (string) - fixed namespace for the deployment
//   - Sort key: k (string) - the store key
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name feedpulse \
//	  --attribute-definitions AttributeName=ns,AttributeType=S AttributeName=k,AttributeType=S \
//	  --key-schema AttributeName=ns,KeyType=HASH AttributeName=k,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/feedpulse/kvstore"
)

// Client is the subset of the DynamoDB API the store uses.
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Store implements kvstore.Store backed by a DynamoDB table.
type Store struct {
	client    Client
	tableName string
	namespace string
}

// NewStore creates a DynamoDB-backed store. namespace becomes the partition
// key for every item, so multiple deployments can share one table.
func NewStore(client Client, tableName, namespace string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		namespace: namespace,
	}
}

// Get returns the current entry for key.
func (s *Store) Get(ctx context.Context, key string) (kvstore.Entry, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"ns": &types.AttributeValueMemberS{Value: s.namespace},
			"k":  &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return kvstore.Entry{}, fmt.Errorf("dynamodb get: %w", err)
	}
	if resp.Item == nil {
		return kvstore.Entry{}, kvstore.ErrNotFound
	}
	return itemToEntry(resp.Item)
}

// ConditionalPut writes value guarded by a condition expression.
func (s *Store) ConditionalPut(ctx context.Context, key string, expectedVersion uint64, value []byte) (uint64, error) {
	next := expectedVersion + 1
	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"ns":  &types.AttributeValueMemberS{Value: s.namespace},
			"k":   &types.AttributeValueMemberS{Value: key},
			"v":   &types.AttributeValueMemberB{Value: value},
			"ver": &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
		},
	}
	if expectedVersion == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(k)")
	} else {
		input.ConditionExpression = aws.String("ver = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatUint(expectedVersion, 10)},
		}
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if expectedVersion == 0 {
				return 0, kvstore.ErrKeyExists
			}
			return 0, kvstore.ErrVersionConflict
		}
		return 0, fmt.Errorf("dynamodb put: %w", err)
	}
	return next, nil
}

// ListByPrefix queries the partition in sort-key order.
func (s *Store) ListByPrefix(ctx context.Context, prefix, after string, limit int) ([]string, string, error) {
	lower := after
	if lower < prefix {
		// Keys carrying the prefix all sort at or above it. The range is
		// strictly-greater, which is safe because log keys are always
		// longer than their day prefix.
		lower = prefix
	}

	cond := "ns = :ns AND k > :lower"
	values := map[string]types.AttributeValue{
		":ns":    &types.AttributeValueMemberS{Value: s.namespace},
		":lower": &types.AttributeValueMemberS{Value: lower},
	}
	if upper, ok := prefixUpperBound(prefix); ok {
		cond = "ns = :ns AND k BETWEEN :lower AND :upper"
		values[":upper"] = &types.AttributeValueMemberS{Value: upper}
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String(cond),
		ExpressionAttributeValues: values,
		ProjectionExpression:   aws.String("k"),
		ScanIndexForward:       aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit) + 1)
	}

	resp, err := s.client.Query(ctx, input)
	if err != nil {
		return nil, "", fmt.Errorf("dynamodb query: %w", err)
	}

	var keys []string
	for _, item := range resp.Items {
		kAttr, ok := item["k"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		// BETWEEN is inclusive on the lower bound; skip the cursor itself.
		if kAttr.Value <= lower {
			continue
		}
		keys = append(keys, kAttr.Value)
	}
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
		return keys, keys[len(keys)-1], nil
	}
	if resp.LastEvaluatedKey != nil && len(keys) > 0 {
		return keys, keys[len(keys)-1], nil
	}
	return keys, "", nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"ns": &types.AttributeValueMemberS{Value: s.namespace},
			"k":  &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb delete: %w", err)
	}
	return nil
}

func itemToEntry(item map[string]types.AttributeValue) (kvstore.Entry, error) {
	vAttr, ok := item["v"].(*types.AttributeValueMemberB)
	if !ok {
		return kvstore.Entry{}, errors.New("dynamodb: item missing value attribute")
	}
	verAttr, ok := item["ver"].(*types.AttributeValueMemberN)
	if !ok {
		return kvstore.Entry{}, errors.New("dynamodb: item missing version attribute")
	}
	ver, err := strconv.ParseUint(verAttr.Value, 10, 64)
	if err != nil {
		return kvstore.Entry{}, fmt.Errorf("dynamodb: bad version attribute: %w", err)
	}
	return kvstore.Entry{Version: ver, Value: vAttr.Value}, nil
}

// prefixUpperBound returns the smallest string greater than every string with
// the given prefix, for range queries. ok is false for an empty prefix.
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xFF {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}

var _ kvstore.Store = (*Store)(nil)

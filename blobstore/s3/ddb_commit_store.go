package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/segdex/blobstore"
)

// commitPrefix is the file name prefix of commit points (segments_N, N in base 36).
const commitPrefix = "segments_"

// DDBCommitStore wraps a BlobStore and arbitrates commit points through
// DynamoDB conditional writes. This enables safe concurrent writers on
// object stores without conditional-write support.
//
// Publishing segments_N first claims generation N in DynamoDB, then writes the
// blob. A second writer racing on the same generation fails its claim and
// gets blobstore.ErrAlreadyExists.
//
// Table schema:
//   - Partition key: base_uri (string) - the index location
//   - Sort key: version (number) - the commit generation
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name segdex-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	inner     blobstore.BlobStore
	ddbClient DDBClient
	tableName string
	baseURI   string
}

var (
	_ blobstore.BlobStore         = (*DDBCommitStore)(nil)
	_ blobstore.ConditionalPutter = (*DDBCommitStore)(nil)
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrConcurrentModification is returned when a concurrent commit is detected.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// NewDDBCommitStore creates a new DynamoDB-arbitrated store.
// baseURI (e.g. "s3://bucket/prefix") is the partition key.
func NewDDBCommitStore(inner blobstore.BlobStore, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		inner:     inner,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return s.inner.Open(ctx, name)
}

func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.inner.Create(ctx, name)
}

func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	return s.inner.Put(ctx, name, data)
}

func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}

func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// PutIfAbsent publishes a blob only if no other writer published it. Commit
// points are arbitrated by DynamoDB; other names fall back to the inner
// store's conditional put.
func (s *DDBCommitStore) PutIfAbsent(ctx context.Context, name string, data []byte) error {
	gen, ok := commitGeneration(name)
	if !ok {
		if cp, ok := s.inner.(blobstore.ConditionalPutter); ok {
			return cp.PutIfAbsent(ctx, name, data)
		}
		return errors.ErrUnsupported
	}

	if err := s.claim(ctx, gen, name); err != nil {
		return err
	}
	if err := s.inner.Put(ctx, name, data); err != nil {
		// Release the claim so the generation can be retried.
		_ = s.release(ctx, gen)
		return err
	}
	return nil
}

// LatestGeneration returns the highest claimed commit generation, or -1 if
// none was claimed.
func (s *DDBCommitStore) LatestGeneration(ctx context.Context) (int64, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query DynamoDB: %w", err)
	}
	if len(resp.Items) == 0 {
		return -1, nil
	}

	versionAttr, ok := resp.Items[0]["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("invalid version attribute in DynamoDB")
	}
	gen, err := strconv.ParseInt(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse version: %w", err)
	}
	return gen, nil
}

func (s *DDBCommitStore) claim(ctx context.Context, gen int64, name string) error {
	_, err := s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":  &types.AttributeValueMemberS{Value: s.baseURI},
			"version":   &types.AttributeValueMemberN{Value: strconv.FormatInt(gen, 10)},
			"file_name": &types.AttributeValueMemberS{Value: name},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %w", blobstore.ErrAlreadyExists, ErrConcurrentModification)
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}
	return nil
}

func (s *DDBCommitStore) release(ctx context.Context, gen int64) error {
	_, err := s.ddbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: strconv.FormatInt(gen, 10)},
		},
	})
	return err
}

func commitGeneration(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, commitPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	gen, err := strconv.ParseInt(rest, 36, 64)
	if err != nil {
		return 0, false
	}
	return gen, true
}

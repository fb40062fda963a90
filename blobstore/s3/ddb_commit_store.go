package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/pagedb/blobstore"
)

// CurrentName is the blob name that DDBCommitStore redirects to DynamoDB.
const CurrentName = "CURRENT"

// DDBCommitStore is an S3 store whose CURRENT pointer lives in DynamoDB.
//
// Every commit inserts a new row with a conditional put, so two writers that
// race on the same version cannot both win. The loser gets
// ErrConcurrentModification and must reload before retrying.
//
// Table schema:
//   - Partition key: base_uri (string), the S3 bucket and prefix
//   - Sort key: version (number), increasing by one per commit
//
// Create the table with:
//
//	aws dynamodb create-table \
//	  --table-name pagedb-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	*Store
	ddb       DDBClient
	tableName string
	baseURI   string
}

// DDBClient is the subset of *dynamodb.Client used by DDBCommitStore.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

var _ DDBClient = (*dynamodb.Client)(nil)

// ErrConcurrentModification is returned when another writer committed first.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// NewDDBCommitStore wraps store. An empty baseURI defaults to
// "s3://<bucket>/<prefix>".
func NewDDBCommitStore(store *Store, ddb DDBClient, tableName, baseURI string) *DDBCommitStore {
	if baseURI == "" {
		baseURI = "s3://" + store.Bucket() + "/" + store.Prefix()
	}
	return &DDBCommitStore{
		Store:     store,
		ddb:       ddb,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open serves CURRENT from the latest commit row.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != CurrentName {
		return s.Store.Open(ctx, name)
	}
	version, target, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, fmt.Errorf("s3: open %s: %w", name, blobstore.ErrNotFound)
	}
	return blobstore.NewBytesBlob([]byte(target)), nil
}

// Put commits CURRENT through a conditional put and writes everything else to S3.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == CurrentName {
		_, err := s.Commit(ctx, string(data))
		return err
	}
	return s.Store.Put(ctx, name, data)
}

// Delete never removes commit rows. Use Prune for that.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	if name == CurrentName {
		return nil
	}
	return s.Store.Delete(ctx, name)
}

// Version returns the latest committed version, or 0 before the first commit.
func (s *DDBCommitStore) Version(ctx context.Context) (uint64, error) {
	v, _, err := s.latest(ctx)
	return v, err
}

// Commit records target as the new CURRENT and returns its version.
func (s *DDBCommitStore) Commit(ctx context.Context, target string) (uint64, error) {
	current, _, err := s.latest(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1

	_, err = s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":   &types.AttributeValueMemberS{Value: s.baseURI},
			"version":    &types.AttributeValueMemberN{Value: strconv.FormatUint(next, 10)},
			"descriptor": &types.AttributeValueMemberS{Value: target},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var cond *types.ConditionalCheckFailedException
		if errors.As(err, &cond) {
			return 0, ErrConcurrentModification
		}
		return 0, fmt.Errorf("s3: commit version %d: %w", next, err)
	}
	return next, nil
}

// Prune deletes all but the newest keep commit rows.
func (s *DDBCommitStore) Prune(ctx context.Context, keep int) (int, error) {
	keep = max(keep, 1)

	var versions []string
	paginator := dynamodb.NewQueryPaginator(s.ddb, s.query(true, 0))
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("s3: query commits: %w", err)
		}
		for _, item := range page.Items {
			if v, ok := item["version"].(*types.AttributeValueMemberN); ok {
				versions = append(versions, v.Value)
			}
		}
	}
	if len(versions) <= keep {
		return 0, nil
	}

	stale := versions[:len(versions)-keep]
	for _, v := range stale {
		_, err := s.ddb.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key: map[string]types.AttributeValue{
				"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
				"version":  &types.AttributeValueMemberN{Value: v},
			},
		})
		if err != nil {
			return 0, fmt.Errorf("s3: delete commit %s: %w", v, err)
		}
	}
	return len(stale), nil
}

func (s *DDBCommitStore) query(ascending bool, limit int32) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(ascending),
		ConsistentRead:   aws.Bool(true),
	}
	if limit > 0 {
		in.Limit = aws.Int32(limit)
	}
	return in
}

func (s *DDBCommitStore) latest(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddb.Query(ctx, s.query(false, 1))
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commits: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: commit row without version")
	}
	targetAttr, ok := item["descriptor"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: commit row without descriptor")
	}
	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse version: %w", err)
	}
	return version, targetAttr.Value, nil
}

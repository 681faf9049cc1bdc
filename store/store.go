package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
	"github.com/abates/network-lab-runner/internal/shard"
)

var _ fixture.Store = (*Store)(nil)

// Client is the part of the DynamoDB API the Store uses. *dynamodb.Client
// satisfies it.
type Client interface {
	dynamodb.QueryAPIClient
	dynamodb.ScanAPIClient
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store keeps fixture collections in DynamoDB, one table per collection.
// References between records are tracked in a relationship table so that
// deletes can be refused while dependents exist and cascaded otherwise.
type Store struct {
	client   Client
	config   Config
	registry *collection.Registry
	logger   *slog.Logger

	mu   sync.Mutex
	last time.Time
}

// New creates a new Store instance. registry may be nil for a Store that
// only runs cascade operations.
func New(client Client, config Config, registry *collection.Registry, logger *slog.Logger) *Store {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:   client,
		config:   config,
		registry: registry,
		logger:   logger,
	}
}

// Config returns the validated configuration.
func (s *Store) Config() Config {
	return s.config
}

// TableName returns the DynamoDB table holding collection c.
func (s *Store) TableName(c collection.Collection) string {
	return s.config.TablePrefix + c.Table
}

func entityRef(c collection.Collection, id string) string {
	return c.Name + "#" + id
}

// relationshipPK computes the sharded partition key for a relationship record.
func (s *Store) relationshipPK(targetRef, dependentRef string) string {
	return shard.RelationshipPK(targetRef, dependentRef, s.config.NumShards)
}

// now returns a strictly increasing time, so records written in sequence
// keep their order in created_at.
func (s *Store) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := time.Now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) lookup(name string) (collection.Collection, error) {
	if s.registry == nil {
		return collection.Collection{}, fmt.Errorf("%w: %q", collection.ErrUnknownCollection, name)
	}
	c, ok := s.registry.Lookup(name)
	if !ok {
		return c, fmt.Errorf("%w: %q", collection.ErrUnknownCollection, name)
	}
	return c, nil
}

// HasActiveChildren checks if a record has any active (non-deleted) dependents.
func (s *Store) HasActiveChildren(ctx context.Context, ref string) (bool, error) {
	numShards := s.config.NumShards

	// Fast path for single shard (default)
	if numShards == 1 {
		return s.hasActiveChildrenInShard(ctx, shard.ShardPK(ref, 0))
	}

	// Multi-shard fan-out with early cancellation
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan bool, 1)
	errs := make(chan error, numShards)
	var wg sync.WaitGroup

	for shardNum := 0; shardNum < numShards; shardNum++ {
		wg.Add(1)
		go func(shardNum int) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			default:
			}

			ok, err := s.hasActiveChildrenInShard(ctx, shard.ShardPK(ref, shardNum))
			if err != nil {
				errs <- err
				return
			}
			if ok {
				select {
				case found <- true:
					cancel()
				default:
				}
			}
		}(shardNum)
	}

	go func() {
		wg.Wait()
		close(found)
		close(errs)
	}()

	select {
	case ok := <-found:
		if ok {
			return true, nil
		}
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			return false, err
		}
	}

	for err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return false, err
		}
	}
	for ok := range found {
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// hasActiveChildrenInShard pages through one shard until an active row
// turns up. Limit applies before the TTL filter, so a single page is not
// enough once expired rows accumulate.
func (s *Store) hasActiveChildrenInShard(ctx context.Context, shardPK string) (bool, error) {
	values := TTLFilterValues()
	values[":pk"] = &types.AttributeValueMemberS{Value: shardPK}
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.RelationshipTable),
		KeyConditionExpression:    aws.String("pk = :pk"),
		FilterExpression:          aws.String(TTLFilterExpr()),
		ExpressionAttributeNames:  TTLFilterNames(),
		ExpressionAttributeValues: values,
		Limit:                     aws.Int32(25),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return false, err
		}
		if len(page.Items) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// QueryAllChildren returns all dependents of a record (including deleted ones).
// This is used by cascade delete to propagate TTL to all dependents.
func (s *Store) QueryAllChildren(ctx context.Context, ref string) ([]ChildRef, error) {
	numShards := s.config.NumShards

	// Fast path for single shard (default)
	if numShards == 1 {
		return s.queryChildrenInShard(ctx, shard.ShardPK(ref, 0))
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var allChildren []ChildRef
	var wg sync.WaitGroup
	errs := make(chan error, numShards)

	for shardNum := 0; shardNum < numShards; shardNum++ {
		wg.Add(1)
		go func(shardNum int) {
			defer wg.Done()

			children, err := s.queryChildrenInShard(ctx, shard.ShardPK(ref, shardNum))
			if err != nil {
				errs <- fmt.Errorf("shard %02x: %w", shardNum, err)
				return
			}

			mu.Lock()
			allChildren = append(allChildren, children...)
			mu.Unlock()
		}(shardNum)
	}

	go func() {
		wg.Wait()
		close(errs)
	}()

	for err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return allChildren, nil
}

func (s *Store) queryChildrenInShard(ctx context.Context, shardPK string) ([]ChildRef, error) {
	var children []ChildRef
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.config.RelationshipTable),
		KeyConditionExpression: aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: shardPK},
		},
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			children = append(children, unmarshalChildRef(item, shardPK))
		}
	}

	return children, nil
}

// SetTTLByKey sets TTL on a record by table and key.
// Used by cascade delete to propagate TTL to dependents.
func (s *Store) SetTTLByKey(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(table),
		Key:                 key,
		UpdateExpression:    aws.String("SET #ttl = :ttl, #version = #version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl":     "ttl",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": unixAttr(ttl),
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	return ignoreConditionFailure(err)
}

// SetRelationshipTTL sets TTL on the relationship row linking childRef to parentRef.
func (s *Store) SetRelationshipTTL(ctx context.Context, childRef, parentRef string, ttl int64) error {
	return s.setRowTTL(ctx, s.config.RelationshipTable, relationshipKey(s.relationshipPK(parentRef, childRef), childRef), ttl)
}

// SetNaturalKeyTTL sets TTL on a natural-key claim while record id holds it.
// A claim taken over by a reloaded record is left alone.
func (s *Store) SetNaturalKeyTTL(ctx context.Context, pk, id string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(s.config.NaturalKeyTable),
		Key:                      naturalKeyKey(pk),
		UpdateExpression:         aws.String("SET #ttl = :ttl"),
		ConditionExpression:      aws.String(heldCondition()),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": unixAttr(ttl),
			":id":  &types.AttributeValueMemberS{Value: id},
		},
	})
	return ignoreConditionFailure(err)
}

func (s *Store) setRowTTL(ctx context.Context, table string, key PK, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(table),
		Key:                      key,
		UpdateExpression:         aws.String("SET #ttl = :ttl"),
		ConditionExpression:      aws.String("attribute_exists(pk) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": unixAttr(ttl),
		},
	})
	return ignoreConditionFailure(err)
}

// Release expires the relationship rows and natural-key claim of a
// deleted record. Every row is attempted; failures are joined.
func (s *Store) Release(ctx context.Context, t Tombstone) error {
	var errs []error
	for _, target := range t.Refs {
		if err := s.SetRelationshipTTL(ctx, t.EntityRef, target, t.TTL); err != nil {
			errs = append(errs, fmt.Errorf("relationship %s -> %s: %w", t.EntityRef, target, err))
		}
	}
	if t.NaturalKeyPK != "" {
		if err := s.SetNaturalKeyTTL(ctx, t.NaturalKeyPK, t.ID, t.TTL); err != nil {
			errs = append(errs, fmt.Errorf("natural key %s: %w", t.EntityRef, err))
		}
	}
	return errors.Join(errs...)
}

// Superseded reports whether the record at key has changed since a
// tombstone with ttl was written: it was reloaded, or deleted again with a
// different TTL. A record that no longer exists is not superseded.
func (s *Store) Superseded(ctx context.Context, table string, key PK, ttl int64) (bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get %s: %w", table, err)
	}
	if out.Item == nil {
		return false, nil
	}
	current, ok := out.Item["ttl"].(*types.AttributeValueMemberN)
	return !ok || current.Value != strconv.FormatInt(ttl, 10), nil
}

// ignoreConditionFailure drops condition failures: the row already has a
// TTL or is gone.
func ignoreConditionFailure(err error) error {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// unmarshalChildRef converts a relationship item to a ChildRef.
func unmarshalChildRef(item map[string]types.AttributeValue, shardPK string) ChildRef {
	ref := ChildRef{ShardPK: shardPK, Deleted: IsDeleted(item)}

	if v, ok := item["child_ref"].(*types.AttributeValueMemberS); ok {
		ref.Ref = v.Value
	}
	if v, ok := item["child_table"].(*types.AttributeValueMemberS); ok {
		ref.TableName = v.Value
	}
	if v, ok := item["child_key"].(*types.AttributeValueMemberM); ok {
		ref.Key = v.Value
	}

	return ref
}

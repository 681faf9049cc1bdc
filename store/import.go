package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
	"github.com/abates/network-lab-runner/internal/shard"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Import writes the records of doc in order, one transaction per record.
// A record matching an existing item by primary key, or by natural key when
// the record has no primary key, replaces that item. A failure stops the
// import; records written before it stay.
func (s *Store) Import(ctx context.Context, doc fixture.Document) error {
	for i, rec := range doc {
		c, err := s.lookup(rec.Model)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := s.importRecord(ctx, c, rec); err != nil {
			return fmt.Errorf("record %d (%s): %w", i, rec.Model, err)
		}
	}
	return nil
}

type target struct {
	table string
	id    string
	ref   string
}

func (s *Store) importRecord(ctx context.Context, c collection.Collection, rec fixture.Record) error {
	now := s.now()
	table := s.TableName(c)
	item := &recordItem{Fields: make(map[string]types.AttributeValue, len(rec.Fields))}

	if c.HasNaturalKey() {
		key, err := naturalKeyOf(rec.Fields, c.NaturalKey)
		if err != nil {
			return err
		}
		item.NaturalKey = key
		item.NaturalKeyPK = shard.NaturalKeyPK(c.Name, key)
	}

	switch {
	case rec.HasPK():
		id, err := idFromPK(rec.PK)
		if err != nil {
			return err
		}
		pk, _ := compact(rec.PK)
		item.ID, item.PK = id, string(pk)
	case c.HasNaturalKey():
		id, found, err := s.findByNaturalKey(ctx, item.NaturalKeyPK)
		if err != nil {
			return err
		}
		if !found {
			id = uuid.NewString()
		}
		item.ID = id
	default:
		item.ID = uuid.NewString()
	}
	item.EntityRef = entityRef(c, item.ID)

	var targets []target
	for _, f := range slices.Sorted(maps.Keys(rec.Fields)) {
		if f == c.PrimaryKey {
			continue
		}
		v := rec.Fields[f]
		ref, ok := c.ReferenceFor(f)
		if !ok || v.Kind() == 'n' {
			av, err := toAttribute(v)
			if err != nil {
				return fmt.Errorf("%s: %w", f, err)
			}
			item.Fields[f] = av
			continue
		}

		tc, err := s.lookup(ref.Target)
		if err != nil {
			return err
		}
		id, err := s.resolveReference(ctx, tc, v)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		item.Fields[f] = &types.AttributeValueMemberS{Value: id}

		t := target{table: s.TableName(tc), id: id, ref: entityRef(tc, id)}
		if f == c.Parent {
			item.ParentRef = t.ref
		}
		if t.ref != item.EntityRef && !slices.Contains(item.Refs, t.ref) {
			item.Refs = append(item.Refs, t.ref)
			targets = append(targets, t)
		}
	}

	existing, err := s.getRecord(ctx, table, item.ID)
	if err != nil {
		return err
	}
	item.Version = 1
	item.CreatedAt = now.Format(timeLayout)
	item.UpdatedAt = item.CreatedAt
	if existing != nil {
		item.Version = existing.Version + 1
		if existing.TTL == 0 {
			item.CreatedAt = existing.CreatedAt
		}
	}

	tx, nkIndex, err := s.importItems(table, item, targets, existing, now)
	if err != nil {
		return err
	}
	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: tx})
	return mapImportError(err, item, targets, nkIndex)
}

// importItems builds the transaction for one record: a check per referenced
// record, the put, the natural-key claim, relationship rows, and the removal
// of rows the previous version held but this one no longer does.
func (s *Store) importItems(table string, item *recordItem, targets []target, existing *recordItem, now time.Time) ([]types.TransactWriteItem, int, error) {
	tx := make([]types.TransactWriteItem, 0, 2*len(targets)+2)
	nowAttr := unixAttr(now.Unix())

	for _, t := range targets {
		tx = append(tx, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 aws.String(t.table),
				Key:                       PK{"id": &types.AttributeValueMemberS{Value: t.id}},
				ConditionExpression:       aws.String(ActiveCondition()),
				ExpressionAttributeNames:  TTLFilterNames(),
				ExpressionAttributeValues: map[string]types.AttributeValue{":now": nowAttr},
			},
		})
	}

	raw, err := item.marshal()
	if err != nil {
		return nil, -1, fmt.Errorf("marshal record: %w", err)
	}
	tx = append(tx, types.TransactWriteItem{
		Put: &types.Put{TableName: aws.String(table), Item: raw},
	})

	nkIndex := -1
	if item.NaturalKeyPK != "" {
		claim, err := attributevalue.MarshalMap(naturalKeyItem{
			PK:         item.NaturalKeyPK,
			SK:         naturalKeySK,
			Collection: collectionOf(item.EntityRef),
			NaturalKey: item.NaturalKey,
			ID:         item.ID,
			EntityRef:  item.EntityRef,
		})
		if err != nil {
			return nil, -1, fmt.Errorf("marshal natural key: %w", err)
		}
		nkIndex = len(tx)
		tx = append(tx, types.TransactWriteItem{
			Put: &types.Put{
				TableName:                aws.String(s.config.NaturalKeyTable),
				Item:                     claim,
				ConditionExpression:      aws.String(claimCondition()),
				ExpressionAttributeNames: TTLFilterNames(),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":id":  &types.AttributeValueMemberS{Value: item.ID},
					":now": nowAttr,
				},
			},
		})
	}

	for _, t := range targets {
		rel := relationshipItem{
			PK:         s.relationshipPK(t.ref, item.EntityRef),
			ChildRef:   item.EntityRef,
			ParentRef:  t.ref,
			ChildTable: table,
			ChildKey:   item.key(),
		}
		row, err := rel.marshal()
		if err != nil {
			return nil, -1, fmt.Errorf("marshal relationship: %w", err)
		}
		tx = append(tx, types.TransactWriteItem{
			Put: &types.Put{TableName: aws.String(s.config.RelationshipTable), Item: row},
		})
	}

	if existing == nil || existing.TTL != 0 {
		return tx, nkIndex, nil
	}
	for _, old := range existing.Refs {
		if slices.Contains(item.Refs, old) {
			continue
		}
		tx = append(tx, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.config.RelationshipTable),
				Key:       relationshipKey(s.relationshipPK(old, item.EntityRef), item.EntityRef),
			},
		})
	}
	if existing.NaturalKeyPK != "" && existing.NaturalKeyPK != item.NaturalKeyPK {
		tx = append(tx, types.TransactWriteItem{
			Delete: &types.Delete{
				TableName: aws.String(s.config.NaturalKeyTable),
				Key:       naturalKeyKey(existing.NaturalKeyPK),
			},
		})
	}
	return tx, nkIndex, nil
}

// resolveReference returns the identifier of the record a reference field
// points at. Arrays are natural keys when the target has one; any other
// value is the target's primary key.
func (s *Store) resolveReference(ctx context.Context, tc collection.Collection, v jsontext.Value) (string, error) {
	v, err := compact(v)
	if err != nil {
		return "", err
	}
	if v.Kind() != '[' || !tc.HasNaturalKey() {
		return idFromPK(v)
	}

	key, err := canonicalKey(v)
	if err != nil {
		return "", fmt.Errorf("natural key of %s: %w", tc.Name, err)
	}
	id, found, err := s.findByNaturalKey(ctx, shard.NaturalKeyPK(tc.Name, key))
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s %s", ErrUnresolvedReference, tc.Name, key)
	}
	return id, nil
}

// canonicalKey re-encodes a natural key array the way naturalKeyOf does.
func canonicalKey(v jsontext.Value) (string, error) {
	var parts []jsontext.Value
	if err := json.Unmarshal(v, &parts); err != nil {
		return "", err
	}
	for i, p := range parts {
		c, err := compact(p)
		if err != nil {
			return "", err
		}
		parts[i] = c
	}
	key, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string(key), nil
}

func (s *Store) findByNaturalKey(ctx context.Context, pk string) (string, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.NaturalKeyTable),
		Key:            naturalKeyKey(pk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("find natural key: %w", err)
	}
	if out.Item == nil || IsDeleted(out.Item) {
		return "", false, nil
	}
	var claim naturalKeyItem
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return "", false, err
	}
	return claim.ID, true, nil
}

// getRecord returns the item with identifier id, deleted or not, or nil.
func (s *Store) getRecord(ctx context.Context, table, id string) (*recordItem, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            PK{"id": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", table, id, err)
	}
	if out.Item == nil {
		return nil, nil
	}
	return unmarshalRecord(out.Item)
}

// mapImportError maps a cancelled import transaction to the failed check.
func mapImportError(err error, item *recordItem, targets []target, nkIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code != "ConditionalCheckFailed" {
				continue
			}
			if i < len(targets) {
				return fmt.Errorf("%w: %s", ErrUnresolvedReference, targets[i].ref)
			}
			if i == nkIndex {
				return fmt.Errorf("%w: %s %s", ErrAlreadyExists, collectionOf(item.EntityRef), item.NaturalKey)
			}
		}
	}

	return err
}

// collectionOf returns the collection part of an entity reference.
func collectionOf(ref string) string {
	name, _, _ := strings.Cut(ref, "#")
	return name
}

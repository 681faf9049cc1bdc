package store

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// recordItem holds the managed attributes of a record item. Field values
// live in the "fields" map attribute.
type recordItem struct {
	ID string `dynamodbav:"id"`

	// EntityRef is the collection-qualified reference, e.g. "dcim.location#<id>".
	EntityRef string `dynamodbav:"entity_ref"`

	// ParentRef is the parent's entity reference in a hierarchical collection.
	ParentRef string `dynamodbav:"parent_ref,omitempty"`

	// PK is the compact JSON of the primary key the record was loaded with.
	PK string `dynamodbav:"pk,omitempty"`

	// NaturalKey is the compact JSON of the record's natural key.
	NaturalKey   string `dynamodbav:"natural_key,omitempty"`
	NaturalKeyPK string `dynamodbav:"natural_key_pk,omitempty"`

	// Refs lists the entity references of every record this one references.
	Refs []string `dynamodbav:"_refs,omitempty"`

	Version   int64  `dynamodbav:"version"`
	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
	TTL       int64  `dynamodbav:"ttl,omitempty"`

	Fields map[string]types.AttributeValue `dynamodbav:"-"`
}

func (r *recordItem) key() PK {
	return PK{"id": &types.AttributeValueMemberS{Value: r.ID}}
}

func (r *recordItem) marshal() (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, err
	}
	fields := r.Fields
	if fields == nil {
		fields = map[string]types.AttributeValue{}
	}
	item["fields"] = &types.AttributeValueMemberM{Value: fields}
	return item, nil
}

func unmarshalRecord(raw map[string]types.AttributeValue) (*recordItem, error) {
	var r recordItem
	if err := attributevalue.UnmarshalMap(raw, &r); err != nil {
		return nil, err
	}
	if m, ok := raw["fields"].(*types.AttributeValueMemberM); ok {
		r.Fields = m.Value
	}
	return &r, nil
}

// naturalKeyItem is a row of the natural-key table.
type naturalKeyItem struct {
	PK         string `dynamodbav:"pk"`
	SK         string `dynamodbav:"sk"`
	Collection string `dynamodbav:"collection"`
	NaturalKey string `dynamodbav:"natural_key"`
	ID         string `dynamodbav:"id"`
	EntityRef  string `dynamodbav:"entity_ref"`
	TTL        int64  `dynamodbav:"ttl,omitempty"`
}

const naturalKeySK = "KEY"

func naturalKeyKey(pk string) PK {
	return PK{
		"pk": &types.AttributeValueMemberS{Value: pk},
		"sk": &types.AttributeValueMemberS{Value: naturalKeySK},
	}
}

// relationshipItem is a row of the relationship table. It records that
// the dependent (child) references the record whose ref prefixes pk.
type relationshipItem struct {
	PK         string `dynamodbav:"pk"`
	ChildRef   string `dynamodbav:"child_ref"`
	ParentRef  string `dynamodbav:"parent_ref"`
	ChildTable string `dynamodbav:"child_table"`
	ChildKey   PK     `dynamodbav:"-"`
	TTL        int64  `dynamodbav:"ttl,omitempty"`
}

func (r *relationshipItem) marshal() (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(r)
	if err != nil {
		return nil, err
	}
	item["child_key"] = &types.AttributeValueMemberM{Value: r.ChildKey}
	return item, nil
}

func relationshipKey(pk, childRef string) PK {
	return PK{
		"pk":        &types.AttributeValueMemberS{Value: pk},
		"child_ref": &types.AttributeValueMemberS{Value: childRef},
	}
}

// ChildRef represents a dependent record found in the relationship table.
type ChildRef struct {
	// Ref is the dependent's entity reference.
	Ref string

	// TableName is the DynamoDB table containing the dependent.
	TableName string

	// Key is the primary key to locate the dependent.
	Key PK

	// ShardPK is the relationship table partition key (for TTL updates).
	ShardPK string

	// Deleted reports whether the relationship row has expired.
	Deleted bool
}

// Tombstone describes a record whose TTL was just set.
type Tombstone struct {
	ID           string
	EntityRef    string
	Refs         []string
	NaturalKeyPK string
	TTL          int64
}

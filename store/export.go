package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
)

// Export returns every active record of c in the order the records were
// first written. Records of a hierarchical collection are ordered by depth
// first, so parents always precede their children.
func (s *Store) Export(ctx context.Context, c collection.Collection, opts fixture.ExportOptions) ([]fixture.Record, error) {
	items, err := s.scan(ctx, s.TableName(c), true)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(items, func(a, b *recordItem) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if c.IsHierarchical() {
		items, err = collection.SortByDepth(items, func(r *recordItem) (string, string) {
			return r.EntityRef, r.ParentRef
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
	}

	refs := make(map[string]jsontext.Value)
	records := make([]fixture.Record, 0, len(items))
	for _, it := range items {
		rec := fixture.Record{
			Model:  c.Name,
			Fields: make(map[string]jsontext.Value, len(it.Fields)),
		}
		if opts.IncludePK {
			if rec.PK, err = it.pkValue(); err != nil {
				return nil, err
			}
		}
		for f, av := range it.Fields {
			v, err := s.exportField(ctx, refs, c, f, av)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", c.Name, f, err)
			}
			rec.Fields[f] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// exportField converts one stored field. References become the natural key
// of the referenced record, or its primary key when it has none.
func (s *Store) exportField(ctx context.Context, refs map[string]jsontext.Value, c collection.Collection, field string, av types.AttributeValue) (jsontext.Value, error) {
	ref, ok := c.ReferenceFor(field)
	id, isID := av.(*types.AttributeValueMemberS)
	if !ok || !isID {
		return fromAttribute(av)
	}

	tc, err := s.lookup(ref.Target)
	if err != nil {
		return nil, err
	}
	key := entityRef(tc, id.Value)
	if v, ok := refs[key]; ok {
		return v, nil
	}

	t, err := s.getRecord(ctx, s.TableName(tc), id.Value)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedReference, key)
	}
	var v jsontext.Value
	if tc.HasNaturalKey() && t.NaturalKey != "" {
		v = jsontext.Value(t.NaturalKey)
	} else if v, err = t.pkValue(); err != nil {
		return nil, err
	}
	refs[key] = v
	return v, nil
}

// pkValue returns the primary key a record was loaded with, or its
// generated identifier.
func (r *recordItem) pkValue() (jsontext.Value, error) {
	if r.PK != "" {
		return jsontext.Value(r.PK), nil
	}
	return json.Marshal(r.ID)
}

// scan returns the record items of table, skipping deleted ones when
// activeOnly is set.
func (s *Store) scan(ctx context.Context, table string, activeOnly bool) ([]*recordItem, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	}
	if activeOnly {
		input.FilterExpression = aws.String(TTLFilterExpr())
		input.ExpressionAttributeNames = TTLFilterNames()
		input.ExpressionAttributeValues = TTLFilterValues()
	}

	var items []*recordItem
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		for _, raw := range page.Items {
			it, err := unmarshalRecord(raw)
			if err != nil {
				return nil, fmt.Errorf("scan %s: %w", table, err)
			}
			items = append(items, it)
		}
	}
	return items, nil
}

package sqlstore

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
)

// maxKeyDepth bounds natural keys that nest through references.
const maxKeyDepth = 32

type row struct {
	columns []string
	values  []any
}

func (r row) get(column string) any {
	if i := slices.Index(r.columns, column); i >= 0 {
		return r.values[i]
	}
	return nil
}

// Export returns every record of c ordered by primary key. Records of a
// hierarchical collection are ordered by depth first, so parents always
// precede their children.
func (s *Store) Export(ctx context.Context, c collection.Collection, opts fixture.ExportOptions) ([]fixture.Record, error) {
	rows, err := s.selectAll(ctx, s.db, c)
	if err != nil {
		return nil, err
	}
	if c.IsHierarchical() {
		if rows, err = orderByDepth(rows, c); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
	}

	keys := newKeyCache(s)
	records := make([]fixture.Record, 0, len(rows))
	for _, r := range rows {
		rec := fixture.Record{
			Model:  c.Name,
			Fields: make(map[string]jsontext.Value, len(r.columns)),
		}
		for i, column := range r.columns {
			if column == c.PrimaryKey {
				if opts.IncludePK {
					if rec.PK, err = toJSON(r.values[i], false); err != nil {
						return nil, fmt.Errorf("%s.%s: %w", c.Name, column, err)
					}
				}
				continue
			}
			v, err := s.exportField(ctx, keys, c, column, r.values[i], 0)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", c.Name, column, err)
			}
			rec.Fields[column] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

// exportField converts one column value. References to collections with a
// natural key become that key; depth counts enclosing natural keys.
func (s *Store) exportField(ctx context.Context, keys *keyCache, c collection.Collection, column string, v any, depth int) (jsontext.Value, error) {
	ref, ok := c.ReferenceFor(column)
	if !ok || v == nil {
		return toJSON(v, c.IsJSONField(column))
	}
	target, err := s.lookup(ref.Target)
	if err != nil {
		return nil, err
	}
	if !target.HasNaturalKey() {
		return toJSON(v, false)
	}
	return keys.naturalKey(ctx, target, v, depth)
}

func (s *Store) selectAll(ctx context.Context, q querier, c collection.Collection) ([]row, error) {
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quoteIdent(c.Table), quoteIdent(c.PrimaryKey))
	rs, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", c.Table, err)
	}
	defer rs.Close()

	columns, err := rs.Columns()
	if err != nil {
		return nil, err
	}
	var rows []row
	for rs.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rs.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.Table, err)
		}
		rows = append(rows, row{columns: columns, values: values})
	}
	return rows, rs.Err()
}

// orderByDepth stable-sorts rows so every record follows its parent.
func orderByDepth(rows []row, c collection.Collection) ([]row, error) {
	return collection.SortByDepth(rows, func(r row) (string, string) {
		parent := ""
		if p := r.get(c.Parent); p != nil {
			parent = idKey(p)
		}
		return idKey(r.get(c.PrimaryKey)), parent
	})
}

// keyCache memoizes natural keys per collection and identifier.
type keyCache struct {
	store *Store
	keys  map[string]jsontext.Value
}

func newKeyCache(s *Store) *keyCache {
	return &keyCache{store: s, keys: make(map[string]jsontext.Value)}
}

// naturalKey returns the natural key of the target record with identifier
// id as a JSON array. Reference fields inside the key nest the referenced
// record's natural key.
func (k *keyCache) naturalKey(ctx context.Context, target collection.Collection, id any, depth int) (jsontext.Value, error) {
	if depth > maxKeyDepth {
		return nil, fmt.Errorf("natural key of %s nests deeper than %d", target.Name, maxKeyDepth)
	}
	cacheKey := target.Name + "\x00" + idKey(id)
	if v, ok := k.keys[cacheKey]; ok {
		return v, nil
	}

	columns := make([]string, len(target.NaturalKey))
	for i, f := range target.NaturalKey {
		columns[i] = quoteIdent(f)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(columns, ", "), quoteIdent(target.Table), quoteIdent(target.PrimaryKey), k.store.dialect.placeholder(1))

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := k.store.db.QueryRowContext(ctx, query, id).Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("natural key of %s %v: %w", target.Name, id, err)
	}

	parts := make([]jsontext.Value, len(values))
	for i, field := range target.NaturalKey {
		v, err := k.store.exportField(ctx, k, target, field, values[i], depth+1)
		if err != nil {
			return nil, err
		}
		parts[i] = v
	}

	key, err := json.Marshal(parts)
	if err != nil {
		return nil, err
	}
	k.keys[cacheKey] = key
	return key, nil
}

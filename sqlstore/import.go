package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
)

// Import writes every record of doc in one transaction. A record matching
// an existing row by primary key, or by natural key when the record has no
// primary key, updates that row; any other record is inserted.
func (s *Store) Import(ctx context.Context, doc fixture.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	resolved := make(map[string]any)
	withPK := make(map[string]bool)
	for i, rec := range doc {
		c, err := s.lookup(rec.Model)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := s.importRecord(ctx, tx, resolved, c, rec); err != nil {
			return fmt.Errorf("record %d (%s): %w", i, rec.Model, err)
		}
		if rec.HasPK() {
			withPK[c.Name] = true
		}
	}

	for name := range withPK {
		c, _ := s.registry.Lookup(name)
		if err := s.dialect.resetSequence(ctx, tx, c.Table, c.PrimaryKey); err != nil {
			return fmt.Errorf("reset sequence %s: %w", c.Table, err)
		}
	}
	return tx.Commit()
}

func (s *Store) importRecord(ctx context.Context, tx *sql.Tx, resolved map[string]any, c collection.Collection, rec fixture.Record) error {
	fields := make([]string, 0, len(rec.Fields))
	for f := range rec.Fields {
		if f != c.PrimaryKey {
			fields = append(fields, f)
		}
	}
	slices.Sort(fields)

	values := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := s.importField(ctx, tx, resolved, c, f, rec.Fields[f], 0)
		if err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
		values[f] = v
	}

	var (
		id     any
		exists bool
		err    error
	)
	switch {
	case rec.HasPK():
		if id, err = fromJSON(rec.PK); err != nil {
			return fmt.Errorf("pk: %w", err)
		}
		exists, err = s.rowExists(ctx, tx, c, id)
	case c.HasNaturalKey():
		id, exists, err = s.findByNaturalKey(ctx, tx, c, values)
	}
	if err != nil {
		return err
	}

	if exists {
		return s.update(ctx, tx, c, id, fields, values)
	}
	if rec.HasPK() {
		fields = append([]string{c.PrimaryKey}, fields...)
		values[c.PrimaryKey] = id
	}
	return s.insert(ctx, tx, c, fields, values)
}

// importField converts a field value into a bind argument, resolving
// natural keys of referenced records.
func (s *Store) importField(ctx context.Context, q querier, resolved map[string]any, c collection.Collection, field string, v jsontext.Value, depth int) (any, error) {
	if c.IsJSONField(field) {
		return jsonText(v)
	}
	ref, ok := c.ReferenceFor(field)
	if !ok || v.Kind() != '[' {
		return fromJSON(v)
	}
	target, err := s.lookup(ref.Target)
	if err != nil {
		return nil, err
	}
	if !target.HasNaturalKey() {
		return fromJSON(v)
	}
	return s.resolveNaturalKey(ctx, q, resolved, target, v, depth)
}

// resolveNaturalKey returns the identifier of the target record whose
// natural key is key.
func (s *Store) resolveNaturalKey(ctx context.Context, q querier, resolved map[string]any, target collection.Collection, key jsontext.Value, depth int) (any, error) {
	if depth > maxKeyDepth {
		return nil, fmt.Errorf("natural key of %s nests deeper than %d", target.Name, maxKeyDepth)
	}
	compact := key.Clone()
	if err := compact.Compact(); err != nil {
		return nil, err
	}
	cacheKey := target.Name + "\x00" + string(compact)
	if id, ok := resolved[cacheKey]; ok {
		return id, nil
	}

	var parts []jsontext.Value
	if err := json.Unmarshal(compact, &parts); err != nil {
		return nil, fmt.Errorf("natural key of %s: %w", target.Name, err)
	}
	if len(parts) != len(target.NaturalKey) {
		return nil, fmt.Errorf("natural key of %s has %d parts, expected %d", target.Name, len(parts), len(target.NaturalKey))
	}

	values := make(map[string]any, len(parts))
	for i, field := range target.NaturalKey {
		v, err := s.importField(ctx, q, resolved, target, field, parts[i], depth+1)
		if err != nil {
			return nil, err
		}
		values[field] = v
	}

	id, found, err := s.findByNaturalKey(ctx, q, target, values)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s %s", ErrUnresolvedReference, target.Name, compact)
	}
	resolved[cacheKey] = id
	return id, nil
}

func (s *Store) findByNaturalKey(ctx context.Context, q querier, c collection.Collection, values map[string]any) (any, bool, error) {
	conds := make([]string, 0, len(c.NaturalKey))
	var args []any
	for _, field := range c.NaturalKey {
		v, ok := values[field]
		if !ok {
			return nil, false, fmt.Errorf("natural key field %s.%s missing", c.Name, field)
		}
		if v == nil {
			conds = append(conds, quoteIdent(field)+" IS NULL")
			continue
		}
		args = append(args, v)
		conds = append(conds, quoteIdent(field)+" = "+s.dialect.placeholder(len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		quoteIdent(c.PrimaryKey), quoteIdent(c.Table), strings.Join(conds, " AND "))
	var id any
	err := q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find %s: %w", c.Name, err)
	}
	return id, true, nil
}

func (s *Store) rowExists(ctx context.Context, q querier, c collection.Collection, id any) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s",
		quoteIdent(c.Table), quoteIdent(c.PrimaryKey), s.dialect.placeholder(1))
	var one int
	err := q.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find %s: %w", c.Name, err)
	}
	return true, nil
}

func (s *Store) insert(ctx context.Context, q querier, c collection.Collection, fields []string, values map[string]any) error {
	if len(fields) == 0 {
		_, err := q.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteIdent(c.Table)))
		return err
	}
	columns := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		columns[i] = quoteIdent(f)
		args[i] = values[f]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(c.Table), strings.Join(columns, ", "), s.placeholders(1, len(fields)))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", c.Table, err)
	}
	return nil
}

func (s *Store) update(ctx context.Context, q querier, c collection.Collection, id any, fields []string, values map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, len(fields))
	args := make([]any, 0, len(fields)+1)
	for i, f := range fields {
		args = append(args, values[f])
		sets[i] = quoteIdent(f) + " = " + s.dialect.placeholder(len(args))
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		quoteIdent(c.Table), strings.Join(sets, ", "), quoteIdent(c.PrimaryKey), s.dialect.placeholder(len(args)))
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", c.Table, err)
	}
	return nil
}

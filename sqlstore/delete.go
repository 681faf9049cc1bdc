package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
)

// deleteBatch bounds the identifiers bound in one DELETE ... IN statement.
const deleteBatch = 500

// Delete removes every row of c. A foreign key violation rolls the delete
// back and is reported as BlockedByReference.
func (s *Store) Delete(ctx context.Context, c collection.Collection) (fixture.DeleteOutcome, error) {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM "+quoteIdent(c.Table))
		return err
	})
}

// DeleteRoots removes the rows of c without a parent, together with all
// their descendants. If the parent foreign key cascades the database
// removes descendants; otherwise they are deleted here, deepest level first.
func (s *Store) DeleteRoots(ctx context.Context, c collection.Collection) (fixture.DeleteOutcome, error) {
	if !c.IsHierarchical() {
		return fixture.Deleted, fmt.Errorf("%s is not hierarchical", c.Name)
	}
	cascade, err := s.parentCascades(ctx, c)
	if err != nil {
		return fixture.Deleted, err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if cascade {
			query := fmt.Sprintf("DELETE FROM %s WHERE %s IS NULL", quoteIdent(c.Table), quoteIdent(c.Parent))
			_, err := tx.ExecContext(ctx, query)
			return err
		}

		levels, err := s.treeLevels(ctx, tx, c)
		if err != nil {
			return err
		}
		for _, level := range slices.Backward(levels) {
			if err := s.deleteIDs(ctx, tx, c, level); err != nil {
				return err
			}
		}
		return nil
	})
}

// RawDelete removes every row of c with foreign key enforcement disabled.
func (s *Store) RawDelete(ctx context.Context, c collection.Collection) error {
	if err := s.dialect.rawDelete(ctx, s.db, c.Table); err != nil {
		return fmt.Errorf("raw delete %s: %w", c.Table, err)
	}
	return nil
}

// inTx runs fn in a transaction and maps a foreign key violation to
// BlockedByReference.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (fixture.DeleteOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fixture.Deleted, err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if s.dialect.isForeignKeyViolation(err) {
			return fixture.BlockedByReference, nil
		}
		return fixture.Deleted, err
	}
	if err := tx.Commit(); err != nil {
		if s.dialect.isForeignKeyViolation(err) {
			return fixture.BlockedByReference, nil
		}
		return fixture.Deleted, err
	}
	return fixture.Deleted, nil
}

// treeLevels returns the identifiers of every root and its descendants,
// grouped by depth. A row whose parent is not in the table counts as a
// root; rows never reached from a root form a cycle.
func (s *Store) treeLevels(ctx context.Context, q querier, c collection.Collection) ([][]any, error) {
	query := fmt.Sprintf("SELECT %s, %s FROM %s", quoteIdent(c.PrimaryKey), quoteIdent(c.Parent), quoteIdent(c.Table))
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", c.Table, err)
	}
	defer rows.Close()

	type link struct{ id, parent any }
	var links []link
	present := make(map[string]bool)
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.id, &l.parent); err != nil {
			return nil, err
		}
		links = append(links, l)
		present[idKey(l.id)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var roots []any
	children := make(map[string][]any)
	for _, l := range links {
		if l.parent == nil || !present[idKey(l.parent)] {
			roots = append(roots, l.id)
			continue
		}
		children[idKey(l.parent)] = append(children[idKey(l.parent)], l.id)
	}

	var levels [][]any
	reached := make(map[string]bool, len(links))
	for level := roots; len(level) > 0; {
		levels = append(levels, level)
		var next []any
		for _, id := range level {
			reached[idKey(id)] = true
			next = append(next, children[idKey(id)]...)
		}
		level = next
	}
	for _, l := range links {
		if !reached[idKey(l.id)] {
			return nil, fmt.Errorf("%w at %v", collection.ErrCycle, l.id)
		}
	}
	return levels, nil
}

func (s *Store) deleteIDs(ctx context.Context, q querier, c collection.Collection, ids []any) error {
	for batch := range slices.Chunk(ids, deleteBatch) {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
			quoteIdent(c.Table), quoteIdent(c.PrimaryKey), s.placeholders(1, len(batch)))
		if _, err := q.ExecContext(ctx, query, batch...); err != nil {
			return err
		}
	}
	return nil
}

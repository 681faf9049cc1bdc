package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
)

var _ fixture.Store = (*Store)(nil)

// Store is a fixture.Store over a relational database.
type Store struct {
	db       *sql.DB
	dialect  dialect
	registry *collection.Registry

	mu       sync.Mutex
	cascades map[string]bool
}

// Open connects to the database. Foreign key enforcement is switched on
// for SQLite connections.
func Open(ctx context.Context, driver, dsn string, registry *collection.Registry) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	sqlDriver := "pgx"
	if d.name() == "sqlite" {
		sqlDriver = "sqlite"
		dsn = withForeignKeys(dsn)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name(), err)
	}
	return &Store{
		db:       db,
		dialect:  d,
		registry: registry,
		cascades: make(map[string]bool),
	}, nil
}

// New wraps an open database. SQLite databases must enforce foreign keys
// for protection conflicts to be detected.
func New(db *sql.DB, driver string, registry *collection.Registry) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:       db,
		dialect:  d,
		registry: registry,
		cascades: make(map[string]bool),
	}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func (s *Store) lookup(name string) (collection.Collection, error) {
	c, ok := s.registry.Lookup(name)
	if !ok {
		return c, fmt.Errorf("%w: %q", collection.ErrUnknownCollection, name)
	}
	return c, nil
}

// parentCascades reports whether deleting a root removes its descendants.
// The answer is cached per collection.
func (s *Store) parentCascades(ctx context.Context, c collection.Collection) (bool, error) {
	s.mu.Lock()
	cascade, ok := s.cascades[c.Name]
	s.mu.Unlock()
	if ok {
		return cascade, nil
	}

	cascade, err := s.dialect.cascades(ctx, s.db, c.Table, c.Parent)
	if err != nil {
		return false, fmt.Errorf("inspect %s.%s: %w", c.Table, c.Parent, err)
	}

	s.mu.Lock()
	s.cascades[c.Name] = cascade
	s.mu.Unlock()
	return cascade, nil
}

// placeholders returns n bind parameters starting at from, comma separated.
func (s *Store) placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = s.dialect.placeholder(from + i)
	}
	return strings.Join(p, ", ")
}

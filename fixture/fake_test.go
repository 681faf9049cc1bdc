package fixture_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-json-experiment/json/jsontext"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
)

// --- Fake Store ---

// fakeStore keeps records in memory and records every call as "<op> <collection>".
type fakeStore struct {
	rows  map[string][]fixture.Record
	calls []string

	// blocked makes Delete (or DeleteRoots) report BlockedByReference.
	blocked map[string]bool
	// failures makes the named call ("delete a.x") return the error.
	failures map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:     make(map[string][]fixture.Record),
		blocked:  make(map[string]bool),
		failures: make(map[string]error),
	}
}

func (s *fakeStore) record(op, name string) error {
	call := op + " " + name
	s.calls = append(s.calls, call)
	return s.failures[call]
}

func (s *fakeStore) Export(_ context.Context, c collection.Collection, opts fixture.ExportOptions) ([]fixture.Record, error) {
	if err := s.record("export", c.Name); err != nil {
		return nil, err
	}
	var out []fixture.Record
	for _, rec := range s.rows[c.Name] {
		if !opts.IncludePK {
			rec.PK = nil
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) Import(_ context.Context, doc fixture.Document) error {
	if err := s.record("import", strings.Join(doc.Collections(), ",")); err != nil {
		return err
	}
	for _, rec := range doc {
		s.rows[rec.Model] = append(s.rows[rec.Model], rec)
	}
	return nil
}

func (s *fakeStore) Delete(_ context.Context, c collection.Collection) (fixture.DeleteOutcome, error) {
	if err := s.record("delete", c.Name); err != nil {
		return fixture.Deleted, err
	}
	if s.blocked[c.Name] {
		return fixture.BlockedByReference, nil
	}
	delete(s.rows, c.Name)
	return fixture.Deleted, nil
}

func (s *fakeStore) DeleteRoots(_ context.Context, c collection.Collection) (fixture.DeleteOutcome, error) {
	if err := s.record("delete_roots", c.Name); err != nil {
		return fixture.Deleted, err
	}
	if s.blocked[c.Name] {
		return fixture.BlockedByReference, nil
	}
	delete(s.rows, c.Name)
	return fixture.Deleted, nil
}

func (s *fakeStore) RawDelete(_ context.Context, c collection.Collection) error {
	if err := s.record("raw_delete", c.Name); err != nil {
		return err
	}
	delete(s.rows, c.Name)
	return nil
}

// --- Fake Fixture Set ---

type memorySet struct {
	files  map[string][]byte
	writes []string
	err    error
}

func newMemorySet() *memorySet {
	return &memorySet{files: make(map[string][]byte)}
}

func (m *memorySet) List(context.Context) ([]string, error) {
	var names []string
	for name := range m.files {
		names = append(names, name)
	}
	slices.Sort(names)
	slices.Reverse(names) // lifecycle must sort on its own
	return names, nil
}

func (m *memorySet) Read(_ context.Context, name string) ([]byte, error) {
	data, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: not found", name)
	}
	return data, nil
}

func (m *memorySet) Write(_ context.Context, name string, data []byte) error {
	m.writes = append(m.writes, name)
	if m.err != nil {
		return m.err
	}
	m.files[name] = data
	return nil
}

// --- Fake Observer ---

type countingObserver struct {
	exported map[string]int
	cleared  map[string]fixture.ClearMode
	loaded   map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		exported: make(map[string]int),
		cleared:  make(map[string]fixture.ClearMode),
		loaded:   make(map[string]int),
	}
}

func (o *countingObserver) CollectionExported(name string, n int) { o.exported[name] += n }
func (o *countingObserver) CollectionCleared(name string, mode fixture.ClearMode) {
	o.cleared[name] = mode
}
func (o *countingObserver) CollectionLoaded(name string, n int) { o.loaded[name] += n }

// --- Helpers ---

var errBoom = errors.New("boom")

func rec(model, name string) fixture.Record {
	return fixture.Record{
		Model:  model,
		PK:     jsontext.Value(`"` + name + `-id"`),
		Fields: map[string]jsontext.Value{"name": jsontext.Value(`"` + name + `"`)},
	}
}

func testRegistry(collections ...collection.Collection) *collection.Registry {
	r := collection.NewRegistry()
	for _, c := range collections {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
	return r
}

// flatRegistry registers a.a, a.b and a.c (b and c reference a) plus a
// hierarchical a.tree.
func flatRegistry() *collection.Registry {
	return testRegistry(
		collection.Collection{Name: "a.a", NaturalKey: []string{"name"}},
		collection.Collection{Name: "a.b", NaturalKey: []string{"name"}, References: []collection.Reference{{Field: "a_id", Target: "a.a"}}},
		collection.Collection{Name: "a.c", NaturalKey: []string{"name"}, References: []collection.Reference{{Field: "a_id", Target: "a.a"}}},
		collection.Collection{Name: "a.tree", NaturalKey: []string{"name", "parent_id"}, Parent: "parent_id"},
		collection.Collection{Name: "a.plain"},
	)
}

func encode(doc fixture.Document) []byte {
	data, err := fixture.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

package collection

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/go-json-experiment/json"
)

//go:embed catalog.json
var defaultCatalog []byte

// Group is one fixture document: a file name and the collections dumped
// into it, in dependency order.
type Group struct {
	// Name is the fixture file name, "<numeric-prefix>_<name>.json".
	Name string `json:"name"`

	Collections []string `json:"models"`

	// PreserveIDs keeps surrogate identifiers for every collection in the group.
	PreserveIDs bool `json:"needs_primary_key,omitzero"`
}

// Catalog is the on-disk form of a collection configuration.
type Catalog struct {
	Collections []Collection `json:"collections"`
	Groups      []Group      `json:"fixtures"`
}

// LoadCatalog decodes a catalog and registers its collections.
func LoadCatalog(r io.Reader) (*Registry, []Group, error) {
	var cat Catalog
	if err := json.UnmarshalRead(r, &cat); err != nil {
		return nil, nil, fmt.Errorf("decode catalog: %w", err)
	}

	reg := NewRegistry()
	for _, c := range cat.Collections {
		if err := reg.Register(c); err != nil {
			return nil, nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool, len(cat.Groups))
	for _, g := range cat.Groups {
		if !strings.HasSuffix(g.Name, ".json") || strings.ContainsAny(g.Name, `/\`) {
			return nil, nil, fmt.Errorf("%w: fixture name %q", ErrInvalidCollection, g.Name)
		}
		if seen[g.Name] {
			return nil, nil, fmt.Errorf("%w: fixture %q declared twice", ErrInvalidCollection, g.Name)
		}
		seen[g.Name] = true
	}
	return reg, cat.Groups, nil
}

// DefaultCatalog returns the lab's built-in collections and fixture groups.
func DefaultCatalog() (*Registry, []Group, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// Package collection declares the record collections a fixture set is built from.
//
// Collections are configuration: they are registered once before a run and
// resolved by name, so whether a collection is flat or hierarchical is a
// property looked up in the [Registry], never derived per record.
package collection

import (
	"fmt"
	"slices"
	"strings"
)

// Kind tells the reaper how a collection is cleared.
type Kind int

const (
	// Flat collections are cleared in full.
	Flat Kind = iota

	// Hierarchical collections form a tree through a self reference and are
	// cleared from their root records.
	Hierarchical
)

func (k Kind) String() string {
	switch k {
	case Flat:
		return "flat"
	case Hierarchical:
		return "hierarchical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Reference declares a field holding the identifier of a record in another
// (or the same) collection.
type Reference struct {
	// Field is the column or attribute holding the referenced identifier (e.g., "tenant_id").
	Field string `json:"field"`

	// Target is the referenced collection name (e.g., "tenancy.tenant").
	Target string `json:"target"`
}

// Collection describes one named set of records in the store.
type Collection struct {
	// Name is the namespaced collection name, "<app>.<model>".
	Name string `json:"name"`

	// Table is the backing table. Default: "<app>_<model>".
	Table string `json:"table,omitzero"`

	// PrimaryKey is the surrogate identifier column. Default: "id".
	PrimaryKey string `json:"primary_key,omitzero"`

	// NaturalKey lists the fields that identify a record without its
	// surrogate identifier. A field may be a reference, in which case the
	// referenced record's natural key is nested in its place.
	NaturalKey []string `json:"natural_key,omitzero"`

	// Parent is the self-referencing field of a hierarchical collection.
	Parent string `json:"parent,omitzero"`

	References []Reference `json:"references,omitzero"`

	// JSONFields are text columns holding JSON documents. They are exported
	// as JSON values rather than strings.
	JSONFields []string `json:"json_fields,omitzero"`

	// PreserveIDs keeps the surrogate identifier on export even when a
	// natural key exists.
	PreserveIDs bool `json:"preserve_ids,omitzero"`

	// Kind is set by the registry from Parent.
	Kind Kind `json:"-"`
}

// IsHierarchical reports whether the collection is cleared from its roots.
func (c Collection) IsHierarchical() bool {
	return c.Kind == Hierarchical
}

// HasNaturalKey reports whether records can be identified without a surrogate identifier.
func (c Collection) HasNaturalKey() bool {
	return len(c.NaturalKey) > 0
}

// ReferenceFor returns the reference declared on field, if any.
func (c Collection) ReferenceFor(field string) (Reference, bool) {
	for _, ref := range c.References {
		if ref.Field == field {
			return ref, true
		}
	}
	return Reference{}, false
}

// IsJSONField reports whether field holds a JSON document.
func (c Collection) IsJSONField(field string) bool {
	return slices.Contains(c.JSONFields, field)
}

// normalize fills defaults and derives Kind.
func (c Collection) normalize() (Collection, error) {
	app, model, ok := strings.Cut(c.Name, ".")
	if !ok || app == "" || model == "" || strings.Contains(model, ".") {
		return c, fmt.Errorf("%w: name %q is not <app>.<model>", ErrInvalidCollection, c.Name)
	}
	if c.Table == "" {
		c.Table = app + "_" + model
	}
	if c.PrimaryKey == "" {
		c.PrimaryKey = "id"
	}
	for _, field := range c.NaturalKey {
		if field == "" {
			return c, fmt.Errorf("%w: %s has an empty natural key field", ErrInvalidCollection, c.Name)
		}
	}
	for _, ref := range c.References {
		if ref.Field == "" || ref.Target == "" {
			return c, fmt.Errorf("%w: %s has an incomplete reference", ErrInvalidCollection, c.Name)
		}
	}

	c.Kind = Flat
	if c.Parent != "" {
		c.Kind = Hierarchical
		ref, ok := c.ReferenceFor(c.Parent)
		switch {
		case !ok:
			c.References = append(slices.Clone(c.References), Reference{Field: c.Parent, Target: c.Name})
		case ref.Target != c.Name:
			return c, fmt.Errorf("%w: %s parent field %q references %s", ErrInvalidCollection, c.Name, c.Parent, ref.Target)
		}
	}
	return c, nil
}

package store

import "errors"

var (
	// ErrUnresolvedReference is returned when a referenced record doesn't exist or is deleted.
	ErrUnresolvedReference = errors.New("fixtures: unresolved reference")

	// ErrAlreadyExists is returned when a natural key is claimed by another active record.
	ErrAlreadyExists = errors.New("fixtures: natural key already claimed")

	// ErrNotHierarchical is returned by DeleteRoots for a flat collection.
	ErrNotHierarchical = errors.New("fixtures: collection is not hierarchical")
)

package fixture

import "errors"

var (
	// ErrMalformedDocument is returned when a fixture document cannot be decoded into records.
	ErrMalformedDocument = errors.New("fixtures: malformed document")

	// ErrProtected is returned when the root records of a hierarchical collection
	// cannot be deleted because other records still reference them.
	ErrProtected = errors.New("fixtures: collection is protected by references")
)

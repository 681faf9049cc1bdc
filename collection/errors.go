package collection

import "errors"

var (
	// ErrUnknownCollection is returned when a collection name is not registered.
	ErrUnknownCollection = errors.New("fixtures: unknown collection")

	// ErrInvalidCollection is returned when a collection declaration is malformed.
	ErrInvalidCollection = errors.New("fixtures: invalid collection")

	// ErrDuplicateCollection is returned when a collection name is registered twice.
	ErrDuplicateCollection = errors.New("fixtures: collection already registered")

	// ErrCycle is returned when the parent references of a hierarchical collection loop.
	ErrCycle = errors.New("fixtures: parent references form a cycle")
)

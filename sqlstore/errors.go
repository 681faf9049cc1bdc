package sqlstore

import "errors"

var (
	// ErrUnresolvedReference is returned when a natural key does not match any record.
	ErrUnresolvedReference = errors.New("fixtures: unresolved natural key")

	// ErrUnsupportedDriver is returned for database drivers without a dialect.
	ErrUnsupportedDriver = errors.New("fixtures: unsupported database driver")
)

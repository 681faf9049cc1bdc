package fixture

import (
	"context"

	"github.com/abates/network-lab-runner/collection"
)

// DeleteOutcome is the result of an integrity-checked delete.
type DeleteOutcome int

const (
	// Deleted means every targeted record was removed.
	Deleted DeleteOutcome = iota

	// BlockedByReference means the store rejected the delete because live
	// records still reference the targets. Nothing was removed.
	BlockedByReference
)

func (o DeleteOutcome) String() string {
	if o == BlockedByReference {
		return "blocked by reference"
	}
	return "deleted"
}

// ExportOptions controls how a collection is exported.
type ExportOptions struct {
	// IncludePK keeps surrogate identifiers on exported records.
	IncludePK bool
}

// Store is the data store a fixture set is dumped from and applied to.
type Store interface {
	// Export returns every record of c in a stable order, with references
	// written as natural keys.
	Export(ctx context.Context, c collection.Collection, opts ExportOptions) ([]Record, error)

	// Import inserts or updates every record of doc, resolving natural keys
	// back into live references. A record that cannot be resolved fails the
	// whole import.
	Import(ctx context.Context, doc Document) error

	// Delete removes the full extent of c through the integrity-checked path.
	Delete(ctx context.Context, c collection.Collection) (DeleteOutcome, error)

	// DeleteRoots removes the root records of a hierarchical collection.
	// Descendants must not outlive their roots: a store whose schema does not
	// cascade removes them itself.
	DeleteRoots(ctx context.Context, c collection.Collection) (DeleteOutcome, error)

	// RawDelete removes the full extent of c without integrity checks.
	RawDelete(ctx context.Context, c collection.Collection) error
}

// Source lists and reads the documents of a fixture set.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Read(ctx context.Context, name string) ([]byte, error)
}

// Sink persists documents of a fixture set.
type Sink interface {
	Write(ctx context.Context, name string, data []byte) error
}

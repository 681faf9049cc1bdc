package fixture

// ClearMode records which delete path cleared a collection.
type ClearMode string

const (
	// ClearStandard is a plain delete of every record.
	ClearStandard ClearMode = "standard"
	// ClearRaw is the fallback delete that skips reference checks.
	ClearRaw ClearMode = "raw"
	// ClearRoots deletes the roots of a hierarchical collection and their descendants.
	ClearRoots ClearMode = "roots"
)

// Observer receives progress counts. Implementations must be safe to call
// from a single goroutine; the fixture components never call them concurrently.
type Observer interface {
	CollectionExported(collection string, records int)
	CollectionCleared(collection string, mode ClearMode)
	CollectionLoaded(collection string, records int)
}

type nopObserver struct{}

func (nopObserver) CollectionExported(string, int)      {}
func (nopObserver) CollectionCleared(string, ClearMode) {}
func (nopObserver) CollectionLoaded(string, int)        {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

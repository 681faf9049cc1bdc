package fixture

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/abates/network-lab-runner/collection"
)

// Loader imports fixture documents into a store.
type Loader struct {
	store    Store
	registry *collection.Registry
	logger   *slog.Logger
	observer Observer
}

// NewLoader creates a new Loader.
func NewLoader(s Store, registry *collection.Registry, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		store:    s,
		registry: registry,
		logger:   logger,
		observer: nopObserver{},
	}
}

// SetObserver sets the observer notified after each loaded document.
func (l *Loader) SetObserver(o Observer) {
	l.observer = observerOrNop(o)
}

// Load imports every record of doc in document order. The store resolves
// natural keys; its errors are returned unchanged.
func (l *Loader) Load(ctx context.Context, doc Document) (err error) {
	ctx, span := tracer.Start(ctx, "fixture.load")
	span.SetAttributes(attribute.Int("fixture.records", len(doc)))
	defer func() { endSpan(span, err) }()

	names := doc.Collections()
	if _, err := l.registry.Resolve(names); err != nil {
		return err
	}

	if err := l.store.Import(ctx, doc); err != nil {
		return err
	}

	counts := doc.Count()
	for _, name := range names {
		l.observer.CollectionLoaded(name, counts[name])
	}
	return nil
}

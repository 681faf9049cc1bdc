package fixture

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/abates/network-lab-runner/collection"
)

// Serializer exports collections as natural-key records.
type Serializer struct {
	store    Store
	registry *collection.Registry
	logger   *slog.Logger
	observer Observer
}

// NewSerializer creates a new Serializer.
func NewSerializer(s Store, registry *collection.Registry, logger *slog.Logger) *Serializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{
		store:    s,
		registry: registry,
		logger:   logger,
		observer: nopObserver{},
	}
}

// SetObserver sets the observer notified after each exported collection.
func (s *Serializer) SetObserver(o Observer) {
	s.observer = observerOrNop(o)
}

// Resolve looks up the named collections in the serializer's registry.
func (s *Serializer) Resolve(names []string) ([]collection.Collection, error) {
	return s.registry.Resolve(names)
}

// Serialize exports the named collections, in order, into one document.
// Every name is resolved before anything is read; an unknown name is a
// configuration error and nothing is exported.
//
// Surrogate identifiers are kept when preserveIDs is set, when the
// collection itself asks for it, or when it has no natural key.
func (s *Serializer) Serialize(ctx context.Context, names []string, preserveIDs bool) (Document, error) {
	cols, err := s.Resolve(names)
	if err != nil {
		return nil, err
	}
	return s.serialize(ctx, cols, preserveIDs)
}

func (s *Serializer) serialize(ctx context.Context, cols []collection.Collection, preserveIDs bool) (Document, error) {
	doc := Document{}
	for _, c := range cols {
		s.logger.Info("exporting collection", "collection", c.Name)

		opts := ExportOptions{
			IncludePK: preserveIDs || c.PreserveIDs || !c.HasNaturalKey(),
		}
		records, err := s.exportCollection(ctx, c, opts)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", c.Name, err)
		}
		s.observer.CollectionExported(c.Name, len(records))
		doc = append(doc, records...)
	}
	return doc, nil
}

func (s *Serializer) exportCollection(ctx context.Context, c collection.Collection, opts ExportOptions) (_ []Record, err error) {
	ctx, span := tracer.Start(ctx, "fixture.export")
	span.SetAttributes(
		attribute.String("fixture.collection", c.Name),
		attribute.Bool("fixture.include_pk", opts.IncludePK),
	)
	defer func() { endSpan(span, err) }()

	records, err := s.store.Export(ctx, c, opts)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Model == "" {
			records[i].Model = c.Name
		}
		if !opts.IncludePK {
			records[i].PK = nil
		}
	}
	return records, nil
}

package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/abates/network-lab-runner/collection"
)

// Reaper clears every collection a fixture document names.
type Reaper struct {
	store    Store
	registry *collection.Registry
	logger   *slog.Logger
	observer Observer
}

// NewReaper creates a new Reaper.
func NewReaper(s Store, registry *collection.Registry, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:    s,
		registry: registry,
		logger:   logger,
		observer: nopObserver{},
	}
}

// SetObserver sets the observer notified after each cleared collection.
func (r *Reaper) SetObserver(o Observer) {
	r.observer = observerOrNop(o)
}

// Reap deletes the entire extent of every collection in doc, last-appearing
// collection first. Records absent from doc are deleted too.
//
// Hierarchical collections are cleared from their roots. Flat collections
// go through the integrity-checked delete and fall back to the raw delete
// only when that delete was blocked by references. Any other failure aborts
// the run.
func (r *Reaper) Reap(ctx context.Context, doc Document) (err error) {
	ctx, span := tracer.Start(ctx, "fixture.reap")
	defer func() { endSpan(span, err) }()

	cols, err := r.registry.Resolve(doc.Collections())
	if err != nil {
		return err
	}

	for _, c := range slices.Backward(cols) {
		r.logger.Info("clearing collection", "collection", c.Name, "kind", c.Kind.String())
		span.AddEvent("clear", traceCollection(c))

		if err := r.clear(ctx, c); err != nil {
			return fmt.Errorf("reap %s: %w", c.Name, err)
		}
	}
	return nil
}

func (r *Reaper) clear(ctx context.Context, c collection.Collection) error {
	if c.IsHierarchical() {
		outcome, err := r.store.DeleteRoots(ctx, c)
		if err != nil {
			return err
		}
		if outcome == BlockedByReference {
			return ErrProtected
		}
		r.observer.CollectionCleared(c.Name, ClearRoots)
		return nil
	}

	outcome, err := r.store.Delete(ctx, c)
	if err != nil {
		return err
	}
	if outcome == Deleted {
		r.observer.CollectionCleared(c.Name, ClearStandard)
		return nil
	}

	r.logger.Warn("delete blocked by references, using raw delete", "collection", c.Name)
	if err := r.store.RawDelete(ctx, c); err != nil {
		return fmt.Errorf("raw delete: %w", err)
	}
	r.observer.CollectionCleared(c.Name, ClearRaw)
	return nil
}

func traceCollection(c collection.Collection) trace.EventOption {
	return trace.WithAttributes(
		attribute.String("fixture.collection", c.Name),
		attribute.String("fixture.kind", c.Kind.String()),
	)
}

package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/abates/network-lab-runner/collection"
)

// Writer dumps fixture groups into a fixture set, one document per group.
type Writer struct {
	serializer *Serializer
	sink       Sink
	logger     *slog.Logger
}

// NewWriter creates a new Writer.
func NewWriter(serializer *Serializer, sink Sink, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		serializer: serializer,
		sink:       sink,
		logger:     logger,
	}
}

// Write exports every group and writes it under the group name. All groups
// are resolved before the first export, so a configuration error writes
// nothing. A failed export or write aborts the run and is returned.
func (w *Writer) Write(ctx context.Context, groups []collection.Group) error {
	resolved := make([][]collection.Collection, len(groups))
	var errs []error
	for i, g := range groups {
		cols, err := w.serializer.Resolve(g.Collections)
		if err != nil {
			errs = append(errs, fmt.Errorf("fixture %s: %w", g.Name, err))
			continue
		}
		resolved[i] = cols
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, g := range groups {
		if err := w.writeGroup(ctx, g, resolved[i]); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeGroup(ctx context.Context, g collection.Group, cols []collection.Collection) (err error) {
	ctx, span := tracer.Start(ctx, "fixture.write")
	span.SetAttributes(attribute.String("fixture.file", g.Name))
	defer func() { endSpan(span, err) }()

	w.logger.Info("generating fixture", "file", g.Name, "collections", len(cols))

	doc, err := w.serializer.serialize(ctx, cols, g.PreserveIDs)
	if err != nil {
		return fmt.Errorf("fixture %s: %w", g.Name, err)
	}
	data, err := Marshal(doc)
	if err != nil {
		return fmt.Errorf("fixture %s: %w", g.Name, err)
	}
	if err := w.sink.Write(ctx, g.Name, data); err != nil {
		return fmt.Errorf("write %s: %w", g.Name, err)
	}

	w.logger.Info("fixture written", "file", g.Name, "records", len(doc))
	return nil
}

package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Lifecycle refreshes a store from a fixture set.
type Lifecycle struct {
	source Source
	reaper *Reaper
	loader *Loader
	logger *slog.Logger
}

// NewLifecycle creates a new Lifecycle.
func NewLifecycle(source Source, reaper *Reaper, loader *Loader, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		source: source,
		reaper: reaper,
		loader: loader,
		logger: logger,
	}
}

// Discover returns the fixture documents of the set in load order
// (ascending file name).
func (l *Lifecycle) Discover(ctx context.Context) ([]string, error) {
	names, err := l.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fixtures: %w", err)
	}
	var files []string
	for _, name := range names {
		if strings.HasSuffix(path.Base(name), ".json") {
			files = append(files, name)
		}
	}
	slices.Sort(files)
	return files, nil
}

// Refresh reaps every document in descending file name order, then loads
// every document in ascending order. All documents are read and decoded
// before anything is deleted.
func (l *Lifecycle) Refresh(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "fixture.refresh")
	defer func() { endSpan(span, err) }()

	files, err := l.Discover(ctx)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.StringSlice("fixture.files", files))

	docs := make([]Document, len(files))
	for i, name := range files {
		if docs[i], err = l.read(ctx, name); err != nil {
			return err
		}
	}

	for i := len(files) - 1; i >= 0; i-- {
		l.logger.Info("clearing fixture", "file", files[i])
		if err := l.reaper.Reap(ctx, docs[i]); err != nil {
			return fmt.Errorf("%s: %w", files[i], err)
		}
	}

	for i, name := range files {
		l.logger.Info("loading fixture", "file", name, "records", len(docs[i]))
		if err := l.loader.Load(ctx, docs[i]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	l.logger.Info("fixtures refreshed", "files", len(files))
	return nil
}

// ReapFile clears the collections of a single document.
func (l *Lifecycle) ReapFile(ctx context.Context, name string) error {
	doc, err := l.read(ctx, name)
	if err != nil {
		return err
	}
	l.logger.Info("clearing fixture", "file", name)
	if err := l.reaper.Reap(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// LoadFile imports a single document.
func (l *Lifecycle) LoadFile(ctx context.Context, name string) error {
	doc, err := l.read(ctx, name)
	if err != nil {
		return err
	}
	l.logger.Info("loading fixture", "file", name, "records", len(doc))
	if err := l.loader.Load(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (l *Lifecycle) read(ctx context.Context, name string) (Document, error) {
	data, err := l.source.Read(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	doc, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return doc, nil
}

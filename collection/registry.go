package collection

import (
	"errors"
	"fmt"
)

// Registry holds every known collection, keyed by name.
type Registry struct {
	collections map[string]Collection
	order       []string
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		collections: make(map[string]Collection),
	}
}

// Register validates a collection and adds it to the registry.
func (r *Registry) Register(c Collection) error {
	c, err := c.normalize()
	if err != nil {
		return err
	}
	if _, exists := r.collections[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCollection, c.Name)
	}
	r.collections[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// Lookup returns the collection registered under name.
func (r *Registry) Lookup(name string) (Collection, bool) {
	c, ok := r.collections[name]
	return c, ok
}

// Resolve looks up every name, in order. If any name is unknown nothing is
// resolved and the error lists all unknown names.
func (r *Registry) Resolve(names []string) ([]Collection, error) {
	resolved := make([]Collection, 0, len(names))
	var errs []error
	for _, name := range names {
		c, ok := r.collections[name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownCollection, name))
			continue
		}
		resolved = append(resolved, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return resolved, nil
}

// Names returns registered collection names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Validate checks that every reference target is registered.
func (r *Registry) Validate() error {
	var errs []error
	for _, name := range r.order {
		for _, ref := range r.collections[name].References {
			if _, ok := r.collections[ref.Target]; !ok {
				errs = append(errs, fmt.Errorf("%w: %s.%s references %q", ErrUnknownCollection, name, ref.Field, ref.Target))
			}
		}
	}
	return errors.Join(errs...)
}

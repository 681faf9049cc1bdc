package collection

import (
	"fmt"
	"slices"
)

// SortByDepth stable-sorts items so every item follows its parent. link
// returns an item's identifier and its parent's identifier, or "" for none.
// An item whose parent is not among items counts as a root.
func SortByDepth[T any](items []T, link func(T) (id, parent string)) ([]T, error) {
	parentOf := make(map[string]string, len(items))
	for _, it := range items {
		id, parent := link(it)
		parentOf[id] = parent
	}

	depths := make(map[string]int, len(items))
	var depthOf func(id string, hops int) (int, error)
	depthOf = func(id string, hops int) (int, error) {
		if d, ok := depths[id]; ok {
			return d, nil
		}
		if hops > len(items) {
			return 0, fmt.Errorf("%w at %s", ErrCycle, id)
		}
		parent := parentOf[id]
		if _, ok := parentOf[parent]; parent == "" || !ok {
			depths[id] = 0
			return 0, nil
		}
		d, err := depthOf(parent, hops+1)
		if err != nil {
			return 0, err
		}
		depths[id] = d + 1
		return d + 1, nil
	}

	type ranked struct {
		item  T
		depth int
	}
	out := make([]ranked, len(items))
	for i, it := range items {
		id, _ := link(it)
		d, err := depthOf(id, 0)
		if err != nil {
			return nil, err
		}
		out[i] = ranked{item: it, depth: d}
	}
	slices.SortStableFunc(out, func(a, b ranked) int { return a.depth - b.depth })

	sorted := make([]T, len(out))
	for i, r := range out {
		sorted[i] = r.item
	}
	return sorted, nil
}

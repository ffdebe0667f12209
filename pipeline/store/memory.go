package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is an in-memory implementation of Store.
//
// Designed for testing, development and single-process use; layouts are
// lost when the process terminates. Thread-safe.
type MemStore struct {
	mu      sync.RWMutex
	layouts map[string]Layout
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{layouts: make(map[string]Layout)}
}

// SaveLayout stores layout under name, overwriting any previous value.
// The layout is copied, so later mutations by the caller are not visible.
func (m *MemStore) SaveLayout(_ context.Context, name string, layout Layout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layouts[name] = copyLayout(layout)
	return nil
}

// LoadLayout retrieves a copy of the layout stored under name.
func (m *MemStore) LoadLayout(_ context.Context, name string) (Layout, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	layout, ok := m.layouts[name]
	if !ok {
		return Layout{}, ErrNotFound
	}
	return copyLayout(layout), nil
}

// ListLayouts returns the stored names in lexical order.
func (m *MemStore) ListLayouts(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.layouts))
	for name := range m.layouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteLayout removes the layout stored under name.
func (m *MemStore) DeleteLayout(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.layouts[name]; !ok {
		return ErrNotFound
	}
	delete(m.layouts, name)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }

func copyLayout(layout Layout) Layout {
	out := layout
	out.Sources = append([]int(nil), layout.Sources...)
	out.Nodes = make([]NodeLayout, len(layout.Nodes))
	for i, nl := range layout.Nodes {
		out.Nodes[i] = nl
		out.Nodes[i].Dependencies = append([]Ref(nil), nl.Dependencies...)
	}
	out.Sinks = append([]SinkLayout(nil), layout.Sinks...)
	return out
}

package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pipegraph/pipegraph-go/pipeline"
)

// Registry maps operator names to operator values for layout
// rehydration. Safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]pipeline.Operator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]pipeline.Operator)}
}

// Register adds op under its declared name. Fails on duplicate names.
func (r *Registry) Register(op pipeline.Operator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.Name()]; exists {
		return fmt.Errorf("operator %q already registered", op.Name())
	}
	r.ops[op.Name()] = op
	return nil
}

// Lookup returns the operator registered under name.
func (r *Registry) Lookup(name string) (pipeline.Operator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[name]
	return op, ok
}

// Names returns the registered operator names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.ops))
	for name := range r.ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Restore reconstructs an equivalent graph from layout, resolving
// operator names against the registry. Ids are reallocated, so the
// restored graph's ids generally differ from the snapshot's; topology,
// dependency order and cache hints are preserved.
func (r *Registry) Restore(layout Layout) (*pipeline.Graph, error) {
	g := pipeline.NewGraph()

	sourceMap := make(map[int]pipeline.SourceID, len(layout.Sources))
	for _, s := range layout.Sources {
		var id pipeline.SourceID
		g, id = g.AddSource()
		sourceMap[s] = id
	}

	nodeMap := make(map[int]pipeline.NodeID, len(layout.Nodes))
	resolve := func(ref Ref) (pipeline.NodeOrSourceID, error) {
		switch ref.Kind {
		case "source":
			id, ok := sourceMap[ref.ID]
			if !ok {
				return nil, fmt.Errorf("layout references unknown source %d", ref.ID)
			}
			return id, nil
		case "node":
			id, ok := nodeMap[ref.ID]
			if !ok {
				return nil, fmt.Errorf("layout references unknown node %d", ref.ID)
			}
			return id, nil
		default:
			return nil, fmt.Errorf("layout reference has unknown kind %q", ref.Kind)
		}
	}

	remaining := append([]NodeLayout(nil), layout.Nodes...)
	for len(remaining) > 0 {
		progressed := false
		var deferred []NodeLayout

		for _, nl := range remaining {
			deps := make([]pipeline.NodeOrSourceID, 0, len(nl.Dependencies))
			ready := true
			for _, ref := range nl.Dependencies {
				if ref.Kind == "node" {
					if _, done := nodeMap[ref.ID]; !done {
						ready = false
						break
					}
				}
				dep, err := resolve(ref)
				if err != nil {
					return nil, err
				}
				deps = append(deps, dep)
			}
			if !ready {
				deferred = append(deferred, nl)
				continue
			}

			op, ok := r.Lookup(nl.Operator)
			if !ok {
				return nil, fmt.Errorf("operator %q not registered", nl.Operator)
			}
			if nl.Cache && !op.CacheHint() {
				op = pipeline.Pinned(op)
			}

			var id pipeline.NodeID
			var err error
			g, id, err = g.AddNode(op, deps...)
			if err != nil {
				return nil, err
			}
			nodeMap[nl.ID] = id
			progressed = true
		}

		if !progressed {
			return nil, fmt.Errorf("layout is cyclic or references missing nodes")
		}
		remaining = deferred
	}

	for _, sl := range layout.Sinks {
		dep, err := resolve(sl.Dependency)
		if err != nil {
			return nil, err
		}
		var serr error
		g, _, serr = g.AddSink(dep)
		if serr != nil {
			return nil, serr
		}
	}

	return g, nil
}

// Package store persists graph layouts: the
// {sources, operators-by-id, dependencies-by-id, sinks-by-id} serialization
// sufficient to reconstruct an equivalent graph.
//
// Operators themselves are code and are not serialized; a layout records
// each operator's name, and a Registry of named operators rehydrates the
// layout back into an executable graph. Estimator placeholders are not
// persistable: export a graph only after it has been fully fit.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/pipegraph/pipegraph-go/pipeline"
)

// ErrNotFound is returned when a requested layout name does not exist.
var ErrNotFound = errors.New("not found")

// Ref is a serialized edge endpoint: a source or a node.
type Ref struct {
	Kind string `json:"kind"` // "source" or "node"
	ID   int    `json:"id"`
}

// NodeLayout is one serialized computation stage.
type NodeLayout struct {
	ID           int    `json:"id"`
	Operator     string `json:"operator"` // registry name
	Dependencies []Ref  `json:"dependencies"`
	Cache        bool   `json:"cache"`
}

// SinkLayout is one serialized output port.
type SinkLayout struct {
	ID         int `json:"id"`
	Dependency Ref `json:"dependency"`
}

// Layout is the serialized form of a graph.
type Layout struct {
	GraphID string       `json:"graph_id"` // identity token at snapshot time
	Sources []int        `json:"sources"`
	Nodes   []NodeLayout `json:"nodes"`
	Sinks   []SinkLayout `json:"sinks"`
}

// Store persists named graph layouts.
//
// Implementations can use in-memory maps (testing, single process),
// SQLite (local persistence with zero setup) or MySQL (shared storage
// across workers). All are safe for concurrent use.
type Store interface {
	// SaveLayout persists layout under name, overwriting any previous
	// layout with that name.
	SaveLayout(ctx context.Context, name string, layout Layout) error

	// LoadLayout retrieves the layout saved under name.
	// Returns ErrNotFound if name does not exist.
	LoadLayout(ctx context.Context, name string) (Layout, error)

	// ListLayouts returns the saved layout names in lexical order.
	ListLayouts(ctx context.Context) ([]string, error)

	// DeleteLayout removes the layout saved under name.
	// Returns ErrNotFound if name does not exist.
	DeleteLayout(ctx context.Context, name string) error

	// Close releases any resources held by the store.
	Close() error
}

// Snapshot serializes g. Fails if g still contains estimator placeholders
// or operators with duplicate names (names are the rehydration key).
func Snapshot(g *pipeline.Graph) (Layout, error) {
	layout := Layout{GraphID: g.ID()}

	for _, s := range g.Sources() {
		layout.Sources = append(layout.Sources, int(s))
	}

	seen := make(map[string]pipeline.NodeID)
	for _, nid := range g.Nodes() {
		op, _ := g.Operator(nid)
		if op.RequiresFit() {
			return Layout{}, fmt.Errorf("snapshot %s: operator %q is an unfit estimator", nid, op.Name())
		}
		if prev, dup := seen[op.Name()]; dup {
			return Layout{}, fmt.Errorf("snapshot: operator name %q used by both %s and %s", op.Name(), prev, nid)
		}
		seen[op.Name()] = nid

		nl := NodeLayout{
			ID:       int(nid),
			Operator: op.Name(),
			Cache:    op.CacheHint(),
		}
		for _, d := range g.Dependencies(nid) {
			nl.Dependencies = append(nl.Dependencies, toRef(d))
		}
		layout.Nodes = append(layout.Nodes, nl)
	}

	for _, sid := range g.Sinks() {
		dep, _ := g.SinkDependency(sid)
		layout.Sinks = append(layout.Sinks, SinkLayout{ID: int(sid), Dependency: toRef(dep)})
	}

	return layout, nil
}

func toRef(id pipeline.NodeOrSourceID) Ref {
	switch v := id.(type) {
	case pipeline.SourceID:
		return Ref{Kind: "source", ID: int(v)}
	case pipeline.NodeID:
		return Ref{Kind: "node", ID: int(v)}
	default:
		return Ref{}
	}
}

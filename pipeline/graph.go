package pipeline

import (
	"sort"

	"github.com/google/uuid"
)

// Graph is an immutable directed acyclic graph of sources, operator nodes
// and sinks. All edit operations return a new Graph value; the receiver is
// never modified, so a Graph is safe to share across concurrent
// evaluations without locking.
//
// Structural invariants, guaranteed by construction rather than checked
// after the fact:
//   - every id referenced by a dependency or sink exists in the graph
//   - the dependency relation is acyclic
//   - ids are never reused, even after removal
//
// Each Graph carries an identity token (see Graph.ID) refreshed on every
// edit; the executor keys its memoization cache on it.
type Graph struct {
	id string

	nextSource int
	nextNode   int
	nextSink   int

	sources   map[SourceID]struct{}
	operators map[NodeID]Operator
	deps      map[NodeID][]NodeOrSourceID
	fitDeps   map[NodeID][]NodeOrSourceID
	sinks     map[SinkID]NodeOrSourceID
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		id:        uuid.NewString(),
		sources:   map[SourceID]struct{}{},
		operators: map[NodeID]Operator{},
		deps:      map[NodeID][]NodeOrSourceID{},
		fitDeps:   map[NodeID][]NodeOrSourceID{},
		sinks:     map[SinkID]NodeOrSourceID{},
	}
}

// clone shallow-copies the index maps and assigns a fresh identity token.
// Dependency slices are replaced wholesale by edits, never appended to, so
// sharing them between versions is safe.
func (g *Graph) clone() *Graph {
	c := &Graph{
		id:         uuid.NewString(),
		nextSource: g.nextSource,
		nextNode:   g.nextNode,
		nextSink:   g.nextSink,
		sources:    make(map[SourceID]struct{}, len(g.sources)),
		operators:  make(map[NodeID]Operator, len(g.operators)),
		deps:       make(map[NodeID][]NodeOrSourceID, len(g.deps)),
		fitDeps:    make(map[NodeID][]NodeOrSourceID, len(g.fitDeps)),
		sinks:      make(map[SinkID]NodeOrSourceID, len(g.sinks)),
	}
	for s := range g.sources {
		c.sources[s] = struct{}{}
	}
	for n, op := range g.operators {
		c.operators[n] = op
	}
	for n, d := range g.deps {
		c.deps[n] = d
	}
	for n, d := range g.fitDeps {
		c.fitDeps[n] = d
	}
	for s, d := range g.sinks {
		c.sinks[s] = d
	}
	return c
}

// ID returns the graph's identity token. Two graphs related by any edit,
// however small, have different tokens.
func (g *Graph) ID() string { return g.id }

// Sources lists the graph's input ports in id order.
func (g *Graph) Sources() []SourceID {
	out := make([]SourceID, 0, len(g.sources))
	for s := range g.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Nodes lists the graph's computation stages in id order.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, 0, len(g.operators))
	for n := range g.operators {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sinks lists the graph's output ports in id order.
func (g *Graph) Sinks() []SinkID {
	out := make([]SinkID, 0, len(g.sinks))
	for s := range g.sinks {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Operator returns the operator attached to id.
func (g *Graph) Operator(id NodeID) (Operator, bool) {
	op, ok := g.operators[id]
	return op, ok
}

// Dependencies returns a copy of id's positional inputs. Order is
// semantically significant: it is the argument order passed to the
// operator at execution time.
func (g *Graph) Dependencies(id NodeID) []NodeOrSourceID {
	d, ok := g.deps[id]
	if !ok {
		return nil
	}
	out := make([]NodeOrSourceID, len(d))
	copy(out, d)
	return out
}

// FitDependencies returns a copy of id's training inputs, or nil for
// nodes that are not estimator placeholders.
func (g *Graph) FitDependencies(id NodeID) []NodeOrSourceID {
	d, ok := g.fitDeps[id]
	if !ok {
		return nil
	}
	out := make([]NodeOrSourceID, len(d))
	copy(out, d)
	return out
}

// SinkDependency returns the upstream id whose value the sink exposes.
func (g *Graph) SinkDependency(id SinkID) (NodeOrSourceID, bool) {
	d, ok := g.sinks[id]
	return d, ok
}

// Contains reports whether id exists in the graph.
func (g *Graph) Contains(id NodeOrSourceID) bool {
	switch v := id.(type) {
	case SourceID:
		_, ok := g.sources[v]
		return ok
	case NodeID:
		_, ok := g.operators[v]
		return ok
	default:
		return false
	}
}

// AddSource returns a new graph with a fresh input port.
func (g *Graph) AddSource() (*Graph, SourceID) {
	c := g.clone()
	id := SourceID(c.nextSource)
	c.nextSource++
	c.sources[id] = struct{}{}
	return c, id
}

// AddNode returns a new graph extended with a computation stage applying
// op to deps. Fails with ErrInvalidReference if any dependency is absent,
// or ErrCycleDetected if the dependency set would make the graph cyclic.
func (g *Graph) AddNode(op Operator, deps ...NodeOrSourceID) (*Graph, NodeID, error) {
	id := NodeID(g.nextNode)
	if err := g.checkDeps("AddNode", id, deps); err != nil {
		return nil, 0, err
	}
	c := g.clone()
	c.nextNode++
	c.operators[id] = op
	c.deps[id] = copyIDs(deps)
	return c, id, nil
}

// AddEstimator returns a new graph extended with an estimator placeholder.
// deps are the runtime inputs the fitted transformer will consume; fitDeps
// are the training inputs materialized during the fit pass.
func (g *Graph) AddEstimator(est Estimator, deps, fitDeps []NodeOrSourceID) (*Graph, NodeID, error) {
	id := NodeID(g.nextNode)
	if err := g.checkDeps("AddEstimator", id, deps); err != nil {
		return nil, 0, err
	}
	if err := g.checkDeps("AddEstimator", id, fitDeps); err != nil {
		return nil, 0, err
	}
	c := g.clone()
	c.nextNode++
	c.operators[id] = est
	c.deps[id] = copyIDs(deps)
	c.fitDeps[id] = copyIDs(fitDeps)
	return c, id, nil
}

// AddSink returns a new graph with a fresh output port exposing dep.
// Fails with ErrInvalidReference if dep is absent.
func (g *Graph) AddSink(dep NodeOrSourceID) (*Graph, SinkID, error) {
	if !g.Contains(dep) {
		return nil, 0, &GraphError{Op: "AddSink", ID: dep, Err: ErrInvalidReference}
	}
	c := g.clone()
	id := SinkID(c.nextSink)
	c.nextSink++
	c.sinks[id] = dep
	return c, id, nil
}

// ReplaceNode returns a new graph with id's operator and dependencies
// swapped for op and deps. Outgoing edges (dependents and sinks pointing
// at id) are untouched, so downstream consumers are unaffected. Any fit
// dependencies recorded for id are discarded: replacement is how a fit
// pass installs a materialized transformer.
//
// Fails with ErrInvalidReference if id or any dependency is absent, or
// ErrCycleDetected if deps can reach id through surviving edges.
func (g *Graph) ReplaceNode(id NodeID, op Operator, deps ...NodeOrSourceID) (*Graph, error) {
	if _, ok := g.operators[id]; !ok {
		return nil, &GraphError{Op: "ReplaceNode", ID: id, Err: ErrInvalidReference}
	}
	if err := g.checkDeps("ReplaceNode", id, deps); err != nil {
		return nil, err
	}
	c := g.clone()
	c.operators[id] = op
	c.deps[id] = copyIDs(deps)
	delete(c.fitDeps, id)
	return c, nil
}

// RemoveNode returns a new graph without id. Removal is only legal when no
// surviving dependency, fit dependency or sink references id; otherwise
// the call fails with ErrDanglingReference and the receiver is unchanged.
// The contract never auto-repairs references: rewire dependents first.
func (g *Graph) RemoveNode(id NodeID) (*Graph, error) {
	if _, ok := g.operators[id]; !ok {
		return nil, &GraphError{Op: "RemoveNode", ID: id, Err: ErrInvalidReference}
	}
	for n, deps := range g.deps {
		if n == id {
			continue
		}
		if containsID(deps, id) {
			return nil, &GraphError{Op: "RemoveNode", ID: id, Err: ErrDanglingReference}
		}
	}
	for n, deps := range g.fitDeps {
		if n == id {
			continue
		}
		if containsID(deps, id) {
			return nil, &GraphError{Op: "RemoveNode", ID: id, Err: ErrDanglingReference}
		}
	}
	for _, dep := range g.sinks {
		if dep == NodeOrSourceID(id) {
			return nil, &GraphError{Op: "RemoveNode", ID: id, Err: ErrDanglingReference}
		}
	}
	c := g.clone()
	delete(c.operators, id)
	delete(c.deps, id)
	delete(c.fitDeps, id)
	return c, nil
}

// RemoveSink returns a new graph without the given output port. Sinks are
// never referenced by edges, so removal is always structurally safe.
func (g *Graph) RemoveSink(id SinkID) (*Graph, error) {
	if _, ok := g.sinks[id]; !ok {
		return nil, &GraphError{Op: "RemoveSink", ID: id, Err: ErrInvalidReference}
	}
	c := g.clone()
	delete(c.sinks, id)
	return c, nil
}

// RewireSink returns a new graph with the sink's upstream endpoint
// replaced by to. Used heavily by optimizer passes.
func (g *Graph) RewireSink(id SinkID, to NodeOrSourceID) (*Graph, error) {
	if _, ok := g.sinks[id]; !ok {
		return nil, &GraphError{Op: "RewireSink", ID: id, Err: ErrInvalidReference}
	}
	if !g.Contains(to) {
		return nil, &GraphError{Op: "RewireSink", ID: to, Err: ErrInvalidReference}
	}
	c := g.clone()
	c.sinks[id] = to
	return c, nil
}

// RewireNodeInput returns a new graph in which every occurrence of from in
// id's dependencies and fit dependencies is replaced by to. Fails with
// ErrInvalidReference if id or to is absent, or ErrCycleDetected if to can
// reach id.
func (g *Graph) RewireNodeInput(id NodeID, from, to NodeOrSourceID) (*Graph, error) {
	if _, ok := g.operators[id]; !ok {
		return nil, &GraphError{Op: "RewireNodeInput", ID: id, Err: ErrInvalidReference}
	}
	if !g.Contains(to) {
		return nil, &GraphError{Op: "RewireNodeInput", ID: to, Err: ErrInvalidReference}
	}
	if g.reaches(to, id) {
		return nil, &GraphError{Op: "RewireNodeInput", ID: id, Err: ErrCycleDetected}
	}
	c := g.clone()
	c.deps[id] = replaceID(g.deps[id], from, to)
	if fd, ok := g.fitDeps[id]; ok {
		c.fitDeps[id] = replaceID(fd, from, to)
	}
	return c, nil
}

// checkDeps validates a proposed dependency list for node id: every
// endpoint must exist and none may reach id through current edges.
func (g *Graph) checkDeps(op string, id NodeID, deps []NodeOrSourceID) error {
	for _, d := range deps {
		if !g.Contains(d) {
			return &GraphError{Op: op, ID: d, Err: ErrInvalidReference}
		}
		if g.reaches(d, id) {
			return &GraphError{Op: op, ID: id, Err: ErrCycleDetected}
		}
	}
	return nil
}

// reaches reports whether target is reachable from start by walking
// dependency and fit-dependency edges upstream.
func (g *Graph) reaches(start NodeOrSourceID, target NodeID) bool {
	if start == NodeOrSourceID(target) {
		return true
	}
	node, ok := start.(NodeID)
	if !ok {
		return false
	}
	seen := map[NodeID]struct{}{}
	stack := []NodeID{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if _, done := seen[n]; done {
			continue
		}
		seen[n] = struct{}{}
		for _, edges := range [][]NodeOrSourceID{g.deps[n], g.fitDeps[n]} {
			for _, d := range edges {
				if next, ok := d.(NodeID); ok {
					stack = append(stack, next)
				}
			}
		}
	}
	return false
}

func copyIDs(ids []NodeOrSourceID) []NodeOrSourceID {
	out := make([]NodeOrSourceID, len(ids))
	copy(out, ids)
	return out
}

func containsID(ids []NodeOrSourceID, id NodeID) bool {
	for _, d := range ids {
		if d == NodeOrSourceID(id) {
			return true
		}
	}
	return false
}

func replaceID(ids []NodeOrSourceID, from, to NodeOrSourceID) []NodeOrSourceID {
	out := make([]NodeOrSourceID, len(ids))
	for i, d := range ids {
		if d == from {
			out[i] = to
		} else {
			out[i] = d
		}
	}
	return out
}

package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Pass is a pure graph-to-graph transformation: it returns an equivalent
// but more efficient graph and never mutates its input. Sink-to-output
// semantics must be preserved, including caching granularity — a pass
// must not merge nodes whose cache hints differ unless the surviving node
// carries the stronger hint.
type Pass interface {
	// Name returns the pass's display name.
	Name() string

	// Apply rewrites g, returning a new graph.
	Apply(g *Graph) (*Graph, error)
}

// Optimizer applies a sequence of passes in order.
type Optimizer struct {
	passes []Pass
}

// NewOptimizer creates an optimizer running the given passes in order.
func NewOptimizer(passes ...Pass) *Optimizer {
	return &Optimizer{passes: passes}
}

// DefaultOptimizer runs common-subexpression elimination followed by
// linear-chain fusion.
func DefaultOptimizer() *Optimizer {
	return NewOptimizer(CommonSubexpressionPass{}, NodeFusionPass{})
}

// Optimize rewrites g through every configured pass.
func (o *Optimizer) Optimize(g *Graph) (*Graph, error) {
	var err error
	for _, pass := range o.passes {
		g, err = pass.Apply(g)
		if err != nil {
			return nil, fmt.Errorf("pass %s: %w", pass.Name(), err)
		}
	}
	return g, nil
}

// CommonSubexpressionPass merges structurally-equal nodes: same operator
// value and same ordered dependency ids. All references to the duplicate
// are rewired onto the survivor, which is always the lower NodeID. The
// pass iterates to a fixed point, so chains of duplicates collapse fully.
//
// Estimator placeholders are never merged (Fit consumes each placeholder
// exactly once). When a duplicate is cache-pinned and the survivor is not,
// the survivor is pinned: the stronger hint wins.
type CommonSubexpressionPass struct{}

// Name implements Pass.
func (CommonSubexpressionPass) Name() string { return "common-subexpression-elimination" }

// Apply implements Pass.
func (CommonSubexpressionPass) Apply(g *Graph) (*Graph, error) {
	for {
		merged, changed, err := cseOnce(g)
		if err != nil {
			return nil, err
		}
		if !changed {
			return merged, nil
		}
		g = merged
	}
}

// cseOnce performs one round of duplicate merging.
func cseOnce(g *Graph) (*Graph, bool, error) {
	groups := make(map[string][]NodeID)
	for _, nid := range g.Nodes() {
		op, _ := g.Operator(nid)
		if op.RequiresFit() {
			continue
		}
		sig := structuralSignature(op, g.Dependencies(nid))
		groups[sig] = append(groups[sig], nid)
	}

	changed := false
	for _, nodes := range groups {
		if len(nodes) < 2 {
			continue
		}
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		survivor := nodes[0]

		for _, dup := range nodes[1:] {
			var err error
			g, err = mergeInto(g, survivor, dup)
			if err != nil {
				return nil, false, err
			}
			changed = true
		}
		// Further merges may now be possible upstream; restart grouping.
		if changed {
			return g, true, nil
		}
	}
	return g, changed, nil
}

// mergeInto rewires every reference to dup onto survivor and removes dup,
// upgrading the survivor's cache hint when dup's was stronger.
func mergeInto(g *Graph, survivor, dup NodeID) (*Graph, error) {
	survivorOp, _ := g.Operator(survivor)
	dupOp, _ := g.Operator(dup)
	if dupOp.CacheHint() && !survivorOp.CacheHint() {
		var err error
		g, err = g.ReplaceNode(survivor, Pinned(survivorOp), g.Dependencies(survivor)...)
		if err != nil {
			return nil, err
		}
	}

	var err error
	for _, nid := range g.Nodes() {
		if nid == dup {
			continue
		}
		if containsEndpoint(g.Dependencies(nid), dup) || containsEndpoint(g.FitDependencies(nid), dup) {
			g, err = g.RewireNodeInput(nid, dup, survivor)
			if err != nil {
				return nil, err
			}
		}
	}
	for _, sid := range g.Sinks() {
		if dep, _ := g.SinkDependency(sid); dep == NodeOrSourceID(dup) {
			g, err = g.RewireSink(sid, survivor)
			if err != nil {
				return nil, err
			}
		}
	}
	return g.RemoveNode(dup)
}

// structuralSignature keys a node for duplicate detection: operator
// identity (unwrapping a cache pin, which does not change semantics) plus
// the ordered dependency ids.
func structuralSignature(op Operator, deps []NodeOrSourceID) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%p", baseOperator(op)))
	for _, d := range deps {
		sb.WriteString("|")
		sb.WriteString(d.String())
	}
	return sb.String()
}

// Pinned wraps op with an overriding cache hint. Semantics are otherwise
// unchanged; optimizer passes use it to preserve the stronger hint when
// merging nodes.
func Pinned(op Operator) Operator {
	if op.CacheHint() {
		return op
	}
	return &pinnedOperator{Operator: op}
}

type pinnedOperator struct {
	Operator
}

func (p *pinnedOperator) CacheHint() bool { return true }

// baseOperator unwraps cache-pin wrappers for identity comparison.
func baseOperator(op Operator) Operator {
	for {
		w, ok := op.(*pinnedOperator)
		if !ok {
			return op
		}
		op = w.Operator
	}
}

// NodeFusionPass collapses linear chains — consecutive single-input nodes
// where each link has exactly one dependent and no other observer — into a
// single composite operator node, reducing per-node dispatch overhead
// without changing observable output.
//
// A node may only sit inside a chain (anywhere but the tail) if it has no
// cache pin, is not an estimator placeholder, and is not exposed by any
// sink or fit dependency. The fused node keeps the tail's NodeID, its
// operator metadata and the head's single dependency.
type NodeFusionPass struct{}

// Name implements Pass.
func (NodeFusionPass) Name() string { return "node-fusion" }

// Apply implements Pass.
func (NodeFusionPass) Apply(g *Graph) (*Graph, error) {
	dependents := make(map[NodeID]int)
	observed := make(map[NodeID]bool) // referenced by a sink or a fit dependency
	for _, nid := range g.Nodes() {
		for _, d := range g.Dependencies(nid) {
			if n, ok := d.(NodeID); ok {
				dependents[n]++
			}
		}
		for _, d := range g.FitDependencies(nid) {
			if n, ok := d.(NodeID); ok {
				observed[n] = true
			}
		}
	}
	for _, sid := range g.Sinks() {
		if dep, _ := g.SinkDependency(sid); dep != nil {
			if n, ok := dep.(NodeID); ok {
				observed[n] = true
			}
		}
	}

	// fusableLink reports whether n can sit strictly inside a chain.
	fusableLink := func(n NodeID) bool {
		op, ok := g.Operator(n)
		if !ok || op.RequiresFit() || op.CacheHint() {
			return false
		}
		return len(g.Dependencies(n)) == 1 && dependents[n] == 1 && !observed[n]
	}

	// singleUpstream returns n's sole dependency when it is a node.
	singleUpstream := func(n NodeID) (NodeID, bool) {
		deps := g.Dependencies(n)
		if len(deps) != 1 {
			return 0, false
		}
		up, ok := deps[0].(NodeID)
		return up, ok
	}

	fusedAway := make(map[NodeID]bool)
	var err error

	for _, tail := range g.Nodes() {
		if fusedAway[tail] {
			continue
		}
		tailOp, ok := g.Operator(tail)
		if !ok || tailOp.RequiresFit() {
			continue
		}
		if len(g.Dependencies(tail)) != 1 {
			continue
		}

		// Walk upstream collecting the maximal fusable chain.
		var chain []NodeID // upstream-to-downstream, excluding the tail
		cur := tail
		for {
			up, ok := singleUpstream(cur)
			if !ok || !fusableLink(up) {
				break
			}
			chain = append([]NodeID{up}, chain...)
			cur = up
		}
		if len(chain) == 0 {
			continue
		}

		head := chain[0]
		ops := make([]Operator, 0, len(chain)+1)
		names := make([]string, 0, len(chain)+1)
		for _, n := range chain {
			op, _ := g.Operator(n)
			ops = append(ops, op)
			names = append(names, op.Name())
		}
		ops = append(ops, tailOp)
		names = append(names, tailOp.Name())

		fused := Compose(strings.Join(names, "+"), ops...)
		if tailOp.CacheHint() && !fused.CacheHint() {
			fused = Pinned(fused)
		}

		g, err = g.ReplaceNode(tail, fused, g.Dependencies(head)...)
		if err != nil {
			return nil, err
		}
		// Remove inner links downstream-to-upstream; each becomes
		// unreferenced as its sole dependent goes away.
		for i := len(chain) - 1; i >= 0; i-- {
			g, err = g.RemoveNode(chain[i])
			if err != nil {
				return nil, err
			}
			fusedAway[chain[i]] = true
		}
	}
	return g, nil
}

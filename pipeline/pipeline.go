package pipeline

import (
	"context"
	"fmt"
)

// Pipeline wraps a graph with a designated input source and output sink,
// representing a function from values of type A to values of type B. The
// typing is a compile-time convenience: the underlying graph carries
// opaque values, and Apply asserts the sink value back to B.
//
// A pipeline composed only of materialized (non-estimator) operators is
// directly executable. A pipeline still containing estimator placeholders
// is "unfit": Apply fails with ErrUnfitPipeline until FitPipeline has
// replaced every placeholder with a concrete transformer.
type Pipeline[A, B any] struct {
	graph  *Graph
	source SourceID
	sink   SinkID
}

// NewPipeline wraps an existing graph as a typed pipeline from source to
// sink. Fails with ErrInvalidReference if either id is absent.
func NewPipeline[A, B any](g *Graph, source SourceID, sink SinkID) (Pipeline[A, B], error) {
	if !g.Contains(source) {
		return Pipeline[A, B]{}, &GraphError{Op: "NewPipeline", ID: source, Err: ErrInvalidReference}
	}
	if _, ok := g.SinkDependency(sink); !ok {
		return Pipeline[A, B]{}, &GraphError{Op: "NewPipeline", ID: sink, Err: ErrInvalidReference}
	}
	return Pipeline[A, B]{graph: g, source: source, sink: sink}, nil
}

// Identity returns a pipeline that exposes its input unchanged.
func Identity[A any]() Pipeline[A, A] {
	g := NewGraph()
	g, src := g.AddSource()
	g, sink, _ := g.AddSink(src)
	return Pipeline[A, A]{graph: g, source: src, sink: sink}
}

// FromTransformer returns a single-stage pipeline applying op.
func FromTransformer[A, B any](op Operator) Pipeline[A, B] {
	g := NewGraph()
	g, src := g.AddSource()
	g, n, _ := g.AddNode(op, src)
	g, sink, _ := g.AddSink(n)
	return Pipeline[A, B]{graph: g, source: src, sink: sink}
}

// Graph returns the pipeline's underlying immutable graph.
func (p Pipeline[A, B]) Graph() *Graph { return p.graph }

// Source returns the pipeline's designated input port.
func (p Pipeline[A, B]) Source() SourceID { return p.source }

// Sink returns the pipeline's designated output port.
func (p Pipeline[A, B]) Sink() SinkID { return p.sink }

// Unfit reports whether the pipeline still contains estimator placeholders
// reachable from its sink.
func (p Pipeline[A, B]) Unfit() bool {
	dep, ok := p.graph.SinkDependency(p.sink)
	if !ok {
		return false
	}
	order, _ := dependencyClosure(p.graph, dep)
	for _, nid := range order {
		if op, ok := p.graph.Operator(nid); ok && op.RequiresFit() {
			return true
		}
	}
	return false
}

// Apply evaluates the pipeline on input using exec.
func (p Pipeline[A, B]) Apply(ctx context.Context, exec *Executor, input A) (B, error) {
	return p.ApplyWith(ctx, exec, input, nil)
}

// ApplyWith evaluates the pipeline on input, additionally binding extra
// sources of the underlying graph (e.g. side inputs carried over from
// composition).
func (p Pipeline[A, B]) ApplyWith(ctx context.Context, exec *Executor, input A, extra Bindings) (B, error) {
	var zero B

	bindings := Bindings{p.source: input}
	for src, v := range extra {
		bindings[src] = v
	}

	out, err := exec.Evaluate(ctx, p.graph, p.sink, bindings)
	if err != nil {
		return zero, err
	}
	result, ok := out.(B)
	if !ok {
		return zero, fmt.Errorf("pipeline %s output is %T, not the declared output type", p.sink, out)
	}
	return result, nil
}

// AndThen splices two pipelines: the upstream sink is rewired to feed the
// downstream's source, and the downstream's own sink becomes the composite
// sink. The upstream subgraph is kept by id, never cloned, so reusing the
// same upstream pipeline across several downstream branches shares its
// nodes and their memoized results.
//
// When both pipelines are views over the same graph value, the splice
// rewires in place and no ids change at all.
func AndThen[A, B, C any](p Pipeline[A, B], q Pipeline[B, C]) (Pipeline[A, C], error) {
	upstream, ok := p.graph.SinkDependency(p.sink)
	if !ok {
		return Pipeline[A, C]{}, &GraphError{Op: "AndThen", ID: p.sink, Err: ErrInvalidReference}
	}

	if p.graph.ID() == q.graph.ID() {
		return andThenShared[A, C](p.graph, p.source, p.sink, upstream, q.source, q.sink)
	}

	g, err := p.graph.RemoveSink(p.sink)
	if err != nil {
		return Pipeline[A, C]{}, err
	}

	g, mapping, err := splice(g, q.graph, map[SourceID]NodeOrSourceID{q.source: upstream})
	if err != nil {
		return Pipeline[A, C]{}, err
	}

	qDep, ok := q.graph.SinkDependency(q.sink)
	if !ok {
		return Pipeline[A, C]{}, &GraphError{Op: "AndThen", ID: q.sink, Err: ErrInvalidReference}
	}

	g, sink, err := g.AddSink(mapping[qDep])
	if err != nil {
		return Pipeline[A, C]{}, err
	}
	return Pipeline[A, C]{graph: g, source: p.source, sink: sink}, nil
}

// andThenShared composes two views over one graph value by rewiring the
// downstream source's dependents onto the upstream output.
func andThenShared[A, C any](g *Graph, source SourceID, upSink SinkID, upstream NodeOrSourceID, qSource SourceID, qSink SinkID) (Pipeline[A, C], error) {
	var err error
	for _, nid := range g.Nodes() {
		if containsEndpoint(g.Dependencies(nid), qSource) || containsEndpoint(g.FitDependencies(nid), qSource) {
			g, err = g.RewireNodeInput(nid, qSource, upstream)
			if err != nil {
				return Pipeline[A, C]{}, err
			}
		}
	}

	qDep, ok := g.SinkDependency(qSink)
	if !ok {
		return Pipeline[A, C]{}, &GraphError{Op: "AndThen", ID: qSink, Err: ErrInvalidReference}
	}
	if qDep == NodeOrSourceID(qSource) {
		qDep = upstream
	}

	g, err = g.RemoveSink(upSink)
	if err != nil {
		return Pipeline[A, C]{}, err
	}
	g, err = g.RewireSink(qSink, qDep)
	if err != nil {
		return Pipeline[A, C]{}, err
	}
	return Pipeline[A, C]{graph: g, source: source, sink: qSink}, nil
}

// AndThenTransformer appends a bare transformer stage to a pipeline.
func AndThenTransformer[A, B, C any](p Pipeline[A, B], op Operator) (Pipeline[A, C], error) {
	upstream, ok := p.graph.SinkDependency(p.sink)
	if !ok {
		return Pipeline[A, C]{}, &GraphError{Op: "AndThenTransformer", ID: p.sink, Err: ErrInvalidReference}
	}
	g, err := p.graph.RemoveSink(p.sink)
	if err != nil {
		return Pipeline[A, C]{}, err
	}
	g, n, err := g.AddNode(op, upstream)
	if err != nil {
		return Pipeline[A, C]{}, err
	}
	g, sink, err := g.AddSink(n)
	if err != nil {
		return Pipeline[A, C]{}, err
	}
	return Pipeline[A, C]{graph: g, source: p.source, sink: sink}, nil
}

// AndThenEstimator appends an estimator stage whose fit-time input is the
// result of evaluating training against the bindings supplied to the fit
// pass. The placeholder's runtime input is the upstream pipeline's output;
// the wiring is resolved during FitPipeline, not at construction time.
//
// The returned SourceID is where the training pipeline's input must be
// bound in the composite graph (its source may be renumbered by the
// splice).
func AndThenEstimator[A, B, C, T, D any](p Pipeline[A, B], est Estimator, training Pipeline[T, D]) (Pipeline[A, C], SourceID, error) {
	upstream, ok := p.graph.SinkDependency(p.sink)
	if !ok {
		return Pipeline[A, C]{}, 0, &GraphError{Op: "AndThenEstimator", ID: p.sink, Err: ErrInvalidReference}
	}

	g, err := p.graph.RemoveSink(p.sink)
	if err != nil {
		return Pipeline[A, C]{}, 0, err
	}

	var trainDep NodeOrSourceID
	trainSource := training.source

	if p.graph.ID() == training.graph.ID() {
		// Training data is derived from the same graph; its subgraph is
		// already present and shared by id.
		trainDep, ok = g.SinkDependency(training.sink)
		if !ok {
			// The training view's sink was the upstream sink itself.
			trainDep = upstream
		}
	} else {
		var mapping map[NodeOrSourceID]NodeOrSourceID
		g, mapping, err = splice(g, training.graph, nil)
		if err != nil {
			return Pipeline[A, C]{}, 0, err
		}
		tDep, ok := training.graph.SinkDependency(training.sink)
		if !ok {
			return Pipeline[A, C]{}, 0, &GraphError{Op: "AndThenEstimator", ID: training.sink, Err: ErrInvalidReference}
		}
		trainDep = mapping[tDep]
		trainSource = mapping[training.source].(SourceID)
	}

	g, n, err := g.AddEstimator(est, []NodeOrSourceID{upstream}, []NodeOrSourceID{trainDep})
	if err != nil {
		return Pipeline[A, C]{}, 0, err
	}
	g, sink, err := g.AddSink(n)
	if err != nil {
		return Pipeline[A, C]{}, 0, err
	}
	return Pipeline[A, C]{graph: g, source: p.source, sink: sink}, trainSource, nil
}

// splice merges src's sources and nodes into dst, remapping ids. Sources
// present in mapSource are not copied; their occurrences are rewired to
// the mapped endpoint instead. src's sinks are not carried over. Returns
// the extended graph and the id mapping from src ids to dst ids.
func splice(dst *Graph, src *Graph, mapSource map[SourceID]NodeOrSourceID) (*Graph, map[NodeOrSourceID]NodeOrSourceID, error) {
	mapping := make(map[NodeOrSourceID]NodeOrSourceID)
	for s, to := range mapSource {
		mapping[s] = to
	}

	for _, s := range src.Sources() {
		if _, mapped := mapping[s]; mapped {
			continue
		}
		var ns SourceID
		dst, ns = dst.AddSource()
		mapping[s] = ns
	}

	var err error
	for _, nid := range topoAll(src) {
		op, _ := src.Operator(nid)

		deps := src.Dependencies(nid)
		newDeps := make([]NodeOrSourceID, len(deps))
		for i, d := range deps {
			newDeps[i] = mapping[d]
		}

		var nn NodeID
		if est, isEst := op.(Estimator); isEst && op.RequiresFit() {
			fitDeps := src.FitDependencies(nid)
			newFit := make([]NodeOrSourceID, len(fitDeps))
			for i, d := range fitDeps {
				newFit[i] = mapping[d]
			}
			dst, nn, err = dst.AddEstimator(est, newDeps, newFit)
		} else {
			dst, nn, err = dst.AddNode(op, newDeps...)
		}
		if err != nil {
			return nil, nil, err
		}
		mapping[nid] = nn
	}

	return dst, mapping, nil
}

// topoAll returns every node of g in topological order (leaves first),
// following both dependency and fit-dependency edges. Iteration starts
// from sorted node ids, so the order is deterministic.
func topoAll(g *Graph) []NodeID {
	var order []NodeID
	visited := make(map[NodeID]struct{})

	var visit func(id NodeID)
	visit = func(id NodeID) {
		if _, done := visited[id]; done {
			return
		}
		visited[id] = struct{}{}
		for _, edges := range [][]NodeOrSourceID{g.Dependencies(id), g.FitDependencies(id)} {
			for _, d := range edges {
				if n, ok := d.(NodeID); ok {
					visit(n)
				}
			}
		}
		order = append(order, id)
	}

	for _, nid := range g.Nodes() {
		visit(nid)
	}
	return order
}

func containsEndpoint(ids []NodeOrSourceID, id NodeOrSourceID) bool {
	for _, d := range ids {
		if d == id {
			return true
		}
	}
	return false
}

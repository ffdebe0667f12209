package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pipegraph/pipegraph-go/pipeline/emit"
)

// FitGraph materializes every estimator placeholder in g against the
// supplied training bindings, returning a new, fully-transform-only graph.
// The input graph is untouched.
//
// Placeholders are visited in topological order, leaves first. For each,
// the executor evaluates its training subgraph, the estimator's Fit is
// invoked exactly once on the materialized data, and the graph is
// rewritten replacing the placeholder with the concrete transformer (same
// NodeID, new operator, outgoing edges preserved, so downstream consumers
// are unaffected).
//
// Fails with ErrUnresolvedEstimator when topological progress is
// impossible: a placeholder has no training input, or its training
// subgraph still contains an unfit placeholder. Either signals a
// malformed graph.
func (e *Executor) FitGraph(ctx context.Context, g *Graph, bindings Bindings) (*Graph, error) {
	for _, nid := range topoAll(g) {
		op, _ := g.Operator(nid)
		if !op.RequiresFit() {
			continue
		}
		est, ok := op.(Estimator)
		if !ok {
			return nil, fmt.Errorf("%s: operator %q requires fit but does not implement Estimator", nid, op.Name())
		}

		fitDeps := g.FitDependencies(nid)
		if len(fitDeps) == 0 {
			return nil, fmt.Errorf("%s (%s) has no training input: %w", nid, est.Name(), ErrUnresolvedEstimator)
		}
		for _, fd := range fitDeps {
			closure, _ := dependencyClosure(g, fd)
			for _, cn := range closure {
				if cop, ok := g.Operator(cn); ok && cop.RequiresFit() {
					return nil, fmt.Errorf("%s (%s) trains on unfit %s: %w", nid, est.Name(), cn, ErrUnresolvedEstimator)
				}
			}
		}

		e.emit(emit.Event{
			GraphID: g.ID(),
			NodeID:  nid.String(),
			Msg:     "fit_start",
			Meta:    map[string]interface{}{"operator": est.Name()},
		})
		start := time.Now()

		training := make([]any, 0, len(fitDeps))
		for _, fd := range fitDeps {
			v, err := e.evaluateID(ctx, g, fd, bindings)
			if err != nil {
				return nil, err
			}
			training = append(training, v)
		}

		fitted, err := est.Fit(ctx, training)
		elapsed := time.Since(start)
		e.metrics.RecordFit(est.Name(), elapsed)
		if err != nil {
			e.emit(emit.Event{
				GraphID: g.ID(),
				NodeID:  nid.String(),
				Msg:     "fit_end",
				Meta: map[string]interface{}{
					"operator":    est.Name(),
					"duration_ms": elapsed.Milliseconds(),
					"error":       err.Error(),
				},
			})
			return nil, &OperatorError{NodeID: nid, Operator: est.Name(), Err: err}
		}

		e.emit(emit.Event{
			GraphID: g.ID(),
			NodeID:  nid.String(),
			Msg:     "fit_end",
			Meta: map[string]interface{}{
				"operator":    est.Name(),
				"fitted":      fitted.Name(),
				"duration_ms": elapsed.Milliseconds(),
			},
		})

		g, err = g.ReplaceNode(nid, fitted, g.Dependencies(nid)...)
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// FitPipeline fits every estimator stage of p against training bindings
// and returns an executable pipeline over the rewritten graph. The input
// pipeline is untouched and can be fit again with different data.
//
// The training bindings are keyed by the sources of p's underlying graph;
// AndThenEstimator reports where each training pipeline's input landed.
func FitPipeline[A, B any](ctx context.Context, exec *Executor, p Pipeline[A, B], training Bindings) (Pipeline[A, B], error) {
	g, err := exec.FitGraph(ctx, p.graph, training)
	if err != nil {
		return Pipeline[A, B]{}, err
	}
	return Pipeline[A, B]{graph: g, source: p.source, sink: p.sink}, nil
}

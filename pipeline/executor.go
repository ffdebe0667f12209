package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pipegraph/pipegraph-go/pipeline/emit"
)

// Bindings maps a graph's sources to concrete input values for one
// evaluation. Values are opaque to the engine; typically they are
// distributed dataset handles supplied by the compute collaborator.
type Bindings map[SourceID]any

// Executor evaluates graph sinks on demand, memoizing intermediate node
// outputs so repeated evaluation or reuse across downstream pipelines does
// not recompute shared prefixes.
//
// The graph itself is immutable; the executor's cache is the only mutable
// shared resource. Concurrent Evaluate calls requesting overlapping sinks
// deduplicate work per (graph, node, binding) key: requesters for a
// not-yet-cached key await the single in-flight computation instead of
// recomputing it. If the in-flight computation is abandoned (its caller's
// context is cancelled), nothing is cached and the surviving waiters race
// to recompute.
//
// An Executor is safe for concurrent use and may be shared across graphs.
type Executor struct {
	cache   *resultCache
	flight  singleflight.Group
	emitter emit.Emitter
	metrics *PrometheusMetrics
}

type executorConfig struct {
	capacity int
	emitter  emit.Emitter
	metrics  *PrometheusMetrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

// WithCacheCapacity bounds the number of unpinned cache entries. Entries
// for cache-hinted nodes are pinned and never counted against the bound.
// n <= 0 means unbounded.
func WithCacheCapacity(n int) ExecutorOption {
	return func(c *executorConfig) { c.capacity = n }
}

// WithEmitter wires an observability emitter into the executor.
func WithEmitter(e emit.Emitter) ExecutorOption {
	return func(c *executorConfig) { c.emitter = e }
}

// WithMetrics wires Prometheus metrics into the executor.
func WithMetrics(m *PrometheusMetrics) ExecutorOption {
	return func(c *executorConfig) { c.metrics = m }
}

// NewExecutor creates an Executor. With no options it uses
// DefaultCacheCapacity, no emitter and no metrics.
func NewExecutor(opts ...ExecutorOption) *Executor {
	cfg := executorConfig{capacity: DefaultCacheCapacity}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Executor{
		cache:   newResultCache(cfg.capacity),
		emitter: cfg.emitter,
		metrics: cfg.metrics,
	}
}

// Evaluate computes the value exposed by sink against the given input
// bindings.
//
// Only the transitive dependency closure of the sink is evaluated; nodes
// outside it are never touched. Failure modes:
//   - ErrInvalidReference: sink does not exist in g
//   - ErrMissingBinding: a reachable source has no bound value
//   - ErrUnfitPipeline: a reachable estimator placeholder has not been fit
//   - *OperatorError: an operator's own computation failed; propagated
//     verbatim with no retries
func (e *Executor) Evaluate(ctx context.Context, g *Graph, sink SinkID, bindings Bindings) (any, error) {
	dep, ok := g.SinkDependency(sink)
	if !ok {
		return nil, &GraphError{Op: "Evaluate", ID: sink, Err: ErrInvalidReference}
	}
	return e.evaluateID(ctx, g, dep, bindings)
}

// Invalidate drops every cached result, pinned included, belonging to g.
func (e *Executor) Invalidate(g *Graph) {
	e.cache.purge(g.ID())
}

// CacheLen reports the number of memoized entries currently held.
func (e *Executor) CacheLen() int {
	return e.cache.len()
}

// evaluateID computes the value of a node or source id. It is the shared
// core of Evaluate and the fit pass.
func (e *Executor) evaluateID(ctx context.Context, g *Graph, root NodeOrSourceID, bindings Bindings) (any, error) {
	e.metrics.EvalStarted()
	defer e.metrics.EvalFinished()

	order, srcSet := dependencyClosure(g, root)

	for src := range srcSet {
		if _, bound := bindings[src]; !bound {
			return nil, fmt.Errorf("%s: %w", src, ErrMissingBinding)
		}
	}

	relevant := relevantSources(g, order)

	results := make(map[NodeOrSourceID]any, len(order)+len(srcSet))
	for src := range srcSet {
		results[src] = bindings[src]
	}

	for i, nid := range order {
		op, _ := g.Operator(nid)
		if op.RequiresFit() {
			return nil, fmt.Errorf("%s (%s): %w", nid, op.Name(), ErrUnfitPipeline)
		}

		key := cacheKey(g.ID(), nid, relevant[nid], bindings)
		if v, ok := e.cache.get(key); ok {
			e.metrics.RecordCacheHit()
			e.emit(emit.Event{
				GraphID: g.ID(),
				Step:    i + 1,
				NodeID:  nid.String(),
				Msg:     "cache_hit",
				Meta:    map[string]interface{}{"operator": op.Name()},
			})
			results[nid] = v
			continue
		}

		inputs := make([]any, 0, len(g.Dependencies(nid)))
		for _, d := range g.Dependencies(nid) {
			inputs = append(inputs, results[d])
		}

		v, err := e.compute(ctx, g, nid, i+1, op, key, inputs)
		if err != nil {
			return nil, err
		}
		results[nid] = v
	}

	return results[root], nil
}

// compute invokes a node's operator at most once across concurrent
// evaluations of the same key. Errors are never cached: waiters that
// observe the owning caller's cancellation recompute rather than adopt a
// poisoned result.
func (e *Executor) compute(ctx context.Context, g *Graph, nid NodeID, step int, op Operator, key string, inputs []any) (any, error) {
	for {
		v, err, shared := e.flight.Do(key, func() (interface{}, error) {
			// A waiter may have been queued behind the flight that just
			// populated the cache.
			if v, ok := e.cache.get(key); ok {
				return v, nil
			}

			e.metrics.RecordCacheMiss()
			e.emit(emit.Event{
				GraphID: g.ID(),
				Step:    step,
				NodeID:  nid.String(),
				Msg:     "node_start",
				Meta:    map[string]interface{}{"operator": op.Name()},
			})

			start := time.Now()
			out, err := op.Apply(ctx, inputs)
			elapsed := time.Since(start)
			e.metrics.RecordInvocation(op.Name(), elapsed, err)

			if err != nil {
				e.emit(emit.Event{
					GraphID: g.ID(),
					Step:    step,
					NodeID:  nid.String(),
					Msg:     "node_end",
					Meta: map[string]interface{}{
						"operator":    op.Name(),
						"duration_ms": elapsed.Milliseconds(),
						"error":       err.Error(),
					},
				})
				if isContextErr(err) {
					// Abandoned computation: roll back, do not wrap.
					return nil, err
				}
				return nil, &OperatorError{NodeID: nid, Operator: op.Name(), Err: err}
			}

			e.emit(emit.Event{
				GraphID: g.ID(),
				Step:    step,
				NodeID:  nid.String(),
				Msg:     "node_end",
				Meta: map[string]interface{}{
					"operator":    op.Name(),
					"duration_ms": elapsed.Milliseconds(),
					"pinned":      op.CacheHint(),
				},
			})

			e.cache.put(key, out, op.CacheHint())
			return out, nil
		})

		if err != nil && shared && isContextErr(err) && ctx.Err() == nil {
			// The computing caller timed out or was cancelled while we
			// waited; our context is still live, so race to recompute.
			continue
		}
		return v, err
	}
}

func (e *Executor) emit(ev emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// dependencyClosure returns the NodeIDs of root's transitive dependency
// closure in topological order (leaves first), along with the sources in
// the closure. Fit dependencies are not followed: estimator training
// subgraphs are only walked by the fit pass.
func dependencyClosure(g *Graph, root NodeOrSourceID) ([]NodeID, map[SourceID]struct{}) {
	var order []NodeID
	sources := make(map[SourceID]struct{})
	visited := make(map[NodeOrSourceID]struct{})

	var visit func(id NodeOrSourceID)
	visit = func(id NodeOrSourceID) {
		if _, done := visited[id]; done {
			return
		}
		visited[id] = struct{}{}
		switch v := id.(type) {
		case SourceID:
			sources[v] = struct{}{}
		case NodeID:
			for _, d := range g.Dependencies(v) {
				visit(d)
			}
			order = append(order, v)
		}
	}
	visit(root)
	return order, sources
}

// relevantSources maps each node in a topologically-ordered closure to the
// sorted sources of its own transitive closure. These are the
// "relevant inputs" fingerprinted into the node's cache key.
func relevantSources(g *Graph, order []NodeID) map[NodeID][]SourceID {
	perID := make(map[NodeOrSourceID]map[SourceID]struct{})
	out := make(map[NodeID][]SourceID, len(order))

	for _, nid := range order {
		set := make(map[SourceID]struct{})
		for _, d := range g.Dependencies(nid) {
			switch v := d.(type) {
			case SourceID:
				set[v] = struct{}{}
			case NodeID:
				for s := range perID[v] {
					set[s] = struct{}{}
				}
			}
		}
		perID[NodeOrSourceID(nid)] = set

		srcs := make([]SourceID, 0, len(set))
		for s := range set {
			srcs = append(srcs, s)
		}
		sort.Slice(srcs, func(i, j int) bool { return srcs[i] < srcs[j] })
		out[nid] = srcs
	}
	return out
}

package pipeline

import (
	"context"
	"fmt"
)

// Operator is the computational unit attached to a graph node.
//
// An operator is a named, pure-ish function from an ordered sequence of
// input values to one output value, plus static metadata. The engine
// invokes operators strictly through this contract and never inspects
// their internals; the values flowing through are opaque (typically a
// distributed dataset handle supplied by the compute collaborator).
//
// Implementations should be:
//   - Deterministic where possible: the executor memoizes outputs and
//     does not mask inherent non-determinism (e.g. random sampling)
//   - Thread-safe: the same operator value may be applied concurrently
//     from overlapping evaluations
type Operator interface {
	// Name returns the operator's stable display name.
	Name() string

	// Apply invokes the operator with its dependencies' values in the
	// node's declared positional order.
	Apply(ctx context.Context, inputs []any) (any, error)

	// RequiresFit reports whether this operator is an estimator
	// placeholder that must be fit before it can be applied.
	RequiresFit() bool

	// CacheHint reports whether this node's output should be pinned in
	// the executor cache (never evicted) rather than held under the
	// default LRU policy.
	CacheHint() bool
}

// Estimator is an operator placeholder that materializes a concrete
// transformer when fit against training data.
//
// Lifecycle: created at graph-construction time as an abstract stage,
// consumed exactly once during a fit pass, after which the graph is
// rewritten replacing the placeholder with the returned transformer.
type Estimator interface {
	Operator

	// Fit consumes the materialized training inputs (the values of the
	// node's fit dependencies, in declared order) and returns the
	// concrete transformer that replaces this placeholder.
	Fit(ctx context.Context, training []any) (Operator, error)
}

// TransformerFunc adapts a plain function to the Operator contract.
type TransformerFunc func(ctx context.Context, inputs []any) (any, error)

type transformer struct {
	name  string
	cache bool
	fn    TransformerFunc
}

// Transformer wraps fn as a named operator with no cache pin.
//
// Example:
//
//	double := pipeline.Transformer("double", func(ctx context.Context, inputs []any) (any, error) {
//	    return inputs[0].(float64) * 2, nil
//	})
func Transformer(name string, fn TransformerFunc) Operator {
	return &transformer{name: name, fn: fn}
}

// CachedTransformer wraps fn as a named operator whose output is pinned in
// the executor cache. Use for expensive stages whose result is shared by
// several downstream consumers.
func CachedTransformer(name string, fn TransformerFunc) Operator {
	return &transformer{name: name, cache: true, fn: fn}
}

func (t *transformer) Name() string      { return t.name }
func (t *transformer) RequiresFit() bool { return false }
func (t *transformer) CacheHint() bool   { return t.cache }

func (t *transformer) Apply(ctx context.Context, inputs []any) (any, error) {
	return t.fn(ctx, inputs)
}

// EstimatorFunc adapts a plain fit function to the Estimator contract.
type EstimatorFunc func(ctx context.Context, training []any) (Operator, error)

type estimator struct {
	name string
	fn   EstimatorFunc
}

// NewEstimator wraps fn as a named estimator placeholder. Applying the
// placeholder before it has been fit is an error.
func NewEstimator(name string, fn EstimatorFunc) Estimator {
	return &estimator{name: name, fn: fn}
}

func (e *estimator) Name() string      { return e.name }
func (e *estimator) RequiresFit() bool { return true }
func (e *estimator) CacheHint() bool   { return false }

func (e *estimator) Apply(_ context.Context, _ []any) (any, error) {
	return nil, fmt.Errorf("estimator %q: %w", e.name, ErrUnfitPipeline)
}

func (e *estimator) Fit(ctx context.Context, training []any) (Operator, error) {
	return e.fn(ctx, training)
}

// Compose chains ops into a single composite operator. The first operator
// receives the composite node's inputs; each subsequent operator receives
// the previous operator's single output. The composite's cache hint is the
// final operator's hint, so fusing a chain never weakens the tail's
// retention policy.
//
// The optimizer's fusion pass uses Compose to collapse linear chains; it
// is also usable directly when building graphs.
func Compose(name string, ops ...Operator) Operator {
	return &composite{name: name, ops: ops}
}

type composite struct {
	name string
	ops  []Operator
}

func (c *composite) Name() string      { return c.name }
func (c *composite) RequiresFit() bool { return false }

func (c *composite) CacheHint() bool {
	if len(c.ops) == 0 {
		return false
	}
	return c.ops[len(c.ops)-1].CacheHint()
}

func (c *composite) Apply(ctx context.Context, inputs []any) (any, error) {
	if len(c.ops) == 0 {
		return nil, fmt.Errorf("composite %q has no operators", c.name)
	}
	out, err := c.ops[0].Apply(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for _, op := range c.ops[1:] {
		out, err = op.Apply(ctx, []any{out})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

package pipeline

// GraphBuilder is an ephemeral, mutable construction façade over the
// immutable Graph. It allocates ids from a counter scoped to this builder
// (no process-wide registry) and records the first construction error;
// once an error occurs, further calls are no-ops returning zero ids.
//
// A builder is not safe for concurrent use and should be discarded after
// Build.
//
// Example:
//
//	b := pipeline.NewGraphBuilder()
//	src := b.AddSource()
//	n := b.AddNode(double, src)
//	sink := b.AddSink(n)
//	g, err := b.Build()
type GraphBuilder struct {
	g   *Graph
	err error
}

// NewGraphBuilder returns a builder over an empty graph.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{g: NewGraph()}
}

// AddSource allocates a new input port.
func (b *GraphBuilder) AddSource() SourceID {
	if b.err != nil {
		return 0
	}
	g, id := b.g.AddSource()
	b.g = g
	return id
}

// AddNode allocates a computation stage applying op to deps.
func (b *GraphBuilder) AddNode(op Operator, deps ...NodeOrSourceID) NodeID {
	if b.err != nil {
		return 0
	}
	g, id, err := b.g.AddNode(op, deps...)
	if err != nil {
		b.err = err
		return 0
	}
	b.g = g
	return id
}

// AddEstimator allocates an estimator placeholder with the given runtime
// and training dependencies.
func (b *GraphBuilder) AddEstimator(est Estimator, deps, fitDeps []NodeOrSourceID) NodeID {
	if b.err != nil {
		return 0
	}
	g, id, err := b.g.AddEstimator(est, deps, fitDeps)
	if err != nil {
		b.err = err
		return 0
	}
	b.g = g
	return id
}

// AddSink allocates an output port exposing dep.
func (b *GraphBuilder) AddSink(dep NodeOrSourceID) SinkID {
	if b.err != nil {
		return 0
	}
	g, id, err := b.g.AddSink(dep)
	if err != nil {
		b.err = err
		return 0
	}
	b.g = g
	return id
}

// Err returns the first construction error, if any.
func (b *GraphBuilder) Err() error { return b.err }

// Build returns the accumulated immutable graph, or the first
// construction error encountered.
func (b *GraphBuilder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.g, nil
}

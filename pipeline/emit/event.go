// Package emit provides observability events and pluggable emitters for
// graph evaluation.
package emit

// Event represents an observability event emitted during graph evaluation
// or a fit pass.
//
// Events provide insight into engine behavior:
//   - Node evaluation start/end
//   - Cache hits on memoized results
//   - Estimator fit steps
//   - Operator failures
//
// Events are delivered to an Emitter, which can log them, turn them into
// OpenTelemetry spans, buffer them for inspection, or discard them.
type Event struct {
	// GraphID is the identity token of the graph being evaluated.
	GraphID string

	// Step is the node's position in the topological evaluation order
	// (1-indexed). Zero for evaluation-level events.
	Step int

	// NodeID identifies the node this event concerns, in its String()
	// form (e.g. "node(3)"). Empty for evaluation-level events.
	NodeID string

	// Msg is the event kind, e.g. "node_start", "node_end", "cache_hit",
	// "fit_start", "fit_end".
	Msg string

	// Meta carries additional structured data. Common keys:
	//   - "operator": the operator's declared name
	//   - "duration_ms": execution duration in milliseconds
	//   - "error": error details
	//   - "pinned": whether the cached result is pinned
	Meta map[string]interface{}
}

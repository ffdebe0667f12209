package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidReference indicates that a dependency points at an id that does
// not exist in the graph. This is a construction-time caller bug and is
// never retried.
var ErrInvalidReference = errors.New("dependency references an id not present in the graph")

// ErrDanglingReference indicates that removing a node would leave a
// surviving dependency or sink pointing at a nonexistent id. The graph is
// never auto-repaired; callers must rewire dependents first.
var ErrDanglingReference = errors.New("removal would orphan a surviving reference")

// ErrCycleDetected indicates that a proposed dependency set would make the
// graph cyclic. Acyclicity is maintained at construction time, so this is
// always a caller bug.
var ErrCycleDetected = errors.New("dependency set would create a cycle")

// ErrUnresolvedEstimator indicates that the fit pass could not make
// topological progress: an estimator's training subgraph depends on another
// placeholder that cannot be fit first. This signals a malformed graph.
var ErrUnresolvedEstimator = errors.New("estimator training input depends on an unfit estimator")

// ErrMissingBinding indicates that a source reachable from the requested
// sink has no bound value. Callers can recover by supplying the binding
// and retrying.
var ErrMissingBinding = errors.New("reachable source has no bound value")

// ErrUnfitPipeline indicates that a pipeline still contains estimator
// placeholders and must be fit before it can be applied.
var ErrUnfitPipeline = errors.New("pipeline contains unfit estimator placeholders")

// GraphError wraps a graph construction or rewrite failure with the
// operation and id involved.
type GraphError struct {
	// Op is the operation that failed, e.g. "AddNode" or "RewireSink".
	Op string

	// ID is the id the operation was addressing, if any.
	ID fmt.Stringer

	// Err is the underlying sentinel (ErrInvalidReference, ErrCycleDetected, ...).
	Err error
}

// Error implements the error interface.
func (e *GraphError) Error() string {
	if e.ID != nil {
		return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *GraphError) Unwrap() error { return e.Err }

// OperatorError wraps a failure raised by an operator's own computation.
// The executor propagates it to the caller unmodified and performs no
// retries: operator failures are semantic or data errors, not transient
// infrastructure faults.
type OperatorError struct {
	// NodeID identifies the node whose operator failed.
	NodeID NodeID

	// Operator is the operator's declared name.
	Operator string

	// Err is the collaborator error, preserved verbatim.
	Err error
}

// Error implements the error interface.
func (e *OperatorError) Error() string {
	return fmt.Sprintf("operator %q at %s: %v", e.Operator, e.NodeID, e.Err)
}

// Unwrap returns the collaborator error.
func (e *OperatorError) Unwrap() error { return e.Err }

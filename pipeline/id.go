// Package pipeline provides the workflow graph model and execution engine
// for multi-stage data-processing pipelines.
package pipeline

import "fmt"

// SourceID names an external input port of a graph.
//
// Sources are placeholders: they carry no computation and receive their
// values from the bindings supplied at evaluation time.
type SourceID int

// NodeID names a computation stage in a graph.
type NodeID int

// SinkID names a designated output port of a graph.
//
// Sinks are terminal markers: they expose the value of exactly one upstream
// id and can never feed further edges.
type SinkID int

// NodeOrSourceID is the closed set of ids that may appear as an edge
// endpoint feeding a node or a sink. SourceID and NodeID implement it;
// SinkID deliberately does not, which makes "a sink feeds another edge"
// unrepresentable rather than merely invalid.
//
// Values of this type are comparable and usable as map keys.
type NodeOrSourceID interface {
	fmt.Stringer

	// isNodeOrSource restricts the implementing set to this package.
	isNodeOrSource()
}

func (SourceID) isNodeOrSource() {}
func (NodeID) isNodeOrSource()   {}

// String returns a short human-readable form, e.g. "source(2)".
func (s SourceID) String() string { return fmt.Sprintf("source(%d)", int(s)) }

// String returns a short human-readable form, e.g. "node(7)".
func (n NodeID) String() string { return fmt.Sprintf("node(%d)", int(n)) }

// String returns a short human-readable form, e.g. "sink(1)".
func (s SinkID) String() string { return fmt.Sprintf("sink(%d)", int(s)) }

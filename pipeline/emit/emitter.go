package emit

// Emitter receives observability events from the execution engine.
//
// Implementations should be:
//   - Non-blocking: avoid slowing down evaluation
//   - Thread-safe: the executor may emit concurrently from overlapping
//     evaluations
//   - Resilient: handle backend failures without crashing the evaluation
type Emitter interface {
	// Emit sends an event to the configured backend.
	//
	// Emit must not panic. Errors should be handled internally; the
	// engine never inspects emitter outcomes.
	Emit(event Event)
}

package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory, keyed by
// graph identity, with query support for evaluation history analysis.
//
// Useful for development, tests and post-evaluation inspection. All events
// are retained until cleared, so long-lived processes should Clear
// finished graphs.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // graphID -> events in emission order
}

// HistoryFilter specifies criteria for filtering evaluation history.
// All fields are optional; set fields combine with AND logic.
type HistoryFilter struct {
	NodeID  string // filter by node id string (empty = no filter)
	Msg     string // filter by event kind (empty = no filter)
	MinStep *int   // minimum step (nil = no lower bound)
	MaxStep *int   // maximum step (nil = no upper bound)
}

// NewBufferedEmitter creates an empty BufferedEmitter. Safe for
// concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.GraphID] = append(b.events[event.GraphID], event)
}

// GetHistory returns a copy of all events recorded for graphID, in
// emission order.
func (b *BufferedEmitter) GetHistory(graphID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[graphID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// GetHistoryWithFilter returns the events for graphID matching filter.
func (b *BufferedEmitter) GetHistoryWithFilter(graphID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, ev := range b.events[graphID] {
		if filter.NodeID != "" && ev.NodeID != filter.NodeID {
			continue
		}
		if filter.Msg != "" && ev.Msg != filter.Msg {
			continue
		}
		if filter.MinStep != nil && ev.Step < *filter.MinStep {
			continue
		}
		if filter.MaxStep != nil && ev.Step > *filter.MaxStep {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Clear removes all events recorded for graphID.
func (b *BufferedEmitter) Clear(graphID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, graphID)
}

// ClearAll removes all recorded events.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}

package emit

import (
	"fmt"
	"sync"
	"testing"
)

func TestBufferedEmitter_History(t *testing.T) {
	emitter := NewBufferedEmitter()

	emitter.Emit(Event{GraphID: "g1", Step: 1, NodeID: "node(0)", Msg: "node_start"})
	emitter.Emit(Event{GraphID: "g1", Step: 1, NodeID: "node(0)", Msg: "node_end"})
	emitter.Emit(Event{GraphID: "g2", Step: 1, NodeID: "node(0)", Msg: "node_start"})

	history := emitter.GetHistory("g1")
	if len(history) != 2 {
		t.Fatalf("g1 history length = %d, want 2", len(history))
	}
	if history[0].Msg != "node_start" || history[1].Msg != "node_end" {
		t.Errorf("history out of emission order: %v, %v", history[0].Msg, history[1].Msg)
	}
	if len(emitter.GetHistory("g2")) != 1 {
		t.Error("g2 history should be isolated from g1")
	}
	if len(emitter.GetHistory("unknown")) != 0 {
		t.Error("unknown graph should have empty history")
	}
}

func TestBufferedEmitter_HistoryIsACopy(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{GraphID: "g1", Msg: "node_start"})

	history := emitter.GetHistory("g1")
	history[0].Msg = "mutated"

	if got := emitter.GetHistory("g1")[0].Msg; got != "node_start" {
		t.Errorf("internal buffer was mutated through the returned slice: %q", got)
	}
}

func TestBufferedEmitter_Filter(t *testing.T) {
	emitter := NewBufferedEmitter()
	for step := 1; step <= 5; step++ {
		nodeID := fmt.Sprintf("node(%d)", step-1)
		emitter.Emit(Event{GraphID: "g1", Step: step, NodeID: nodeID, Msg: "node_start"})
		emitter.Emit(Event{GraphID: "g1", Step: step, NodeID: nodeID, Msg: "node_end"})
	}

	t.Run("by message", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("g1", HistoryFilter{Msg: "node_end"})
		if len(got) != 5 {
			t.Errorf("filtered length = %d, want 5", len(got))
		}
	})

	t.Run("by node id", func(t *testing.T) {
		got := emitter.GetHistoryWithFilter("g1", HistoryFilter{NodeID: "node(2)"})
		if len(got) != 2 {
			t.Errorf("filtered length = %d, want 2", len(got))
		}
	})

	t.Run("by step range", func(t *testing.T) {
		min, max := 2, 3
		got := emitter.GetHistoryWithFilter("g1", HistoryFilter{MinStep: &min, MaxStep: &max})
		if len(got) != 4 {
			t.Errorf("filtered length = %d, want 4", len(got))
		}
		for _, ev := range got {
			if ev.Step < min || ev.Step > max {
				t.Errorf("event step %d outside [%d, %d]", ev.Step, min, max)
			}
		}
	})

	t.Run("combined criteria", func(t *testing.T) {
		min := 4
		got := emitter.GetHistoryWithFilter("g1", HistoryFilter{Msg: "node_start", MinStep: &min})
		if len(got) != 2 {
			t.Errorf("filtered length = %d, want 2", len(got))
		}
	})
}

func TestBufferedEmitter_Clear(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{GraphID: "g1", Msg: "node_start"})
	emitter.Emit(Event{GraphID: "g2", Msg: "node_start"})

	emitter.Clear("g1")
	if len(emitter.GetHistory("g1")) != 0 {
		t.Error("g1 should be cleared")
	}
	if len(emitter.GetHistory("g2")) != 1 {
		t.Error("g2 should be untouched")
	}

	emitter.ClearAll()
	if len(emitter.GetHistory("g2")) != 0 {
		t.Error("ClearAll should drop everything")
	}
}

func TestBufferedEmitter_ConcurrentEmit(t *testing.T) {
	emitter := NewBufferedEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			emitter.Emit(Event{GraphID: "g1", Step: n, Msg: "node_start"})
		}(i)
	}
	wg.Wait()

	if got := len(emitter.GetHistory("g1")); got != 20 {
		t.Errorf("history length = %d, want 20", got)
	}
}

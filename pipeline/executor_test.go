package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

// countingOp wraps a function and counts invocations, for verifying the
// executor's memoization and single-flight behavior.
type countingOp struct {
	name  string
	cache bool
	calls atomic.Int64
	fn    func(inputs []any) (any, error)
}

func (c *countingOp) Name() string      { return c.name }
func (c *countingOp) RequiresFit() bool { return false }
func (c *countingOp) CacheHint() bool   { return c.cache }

func (c *countingOp) Apply(_ context.Context, inputs []any) (any, error) {
	c.calls.Add(1)
	return c.fn(inputs)
}

func double() *countingOp {
	return &countingOp{name: "double", fn: func(inputs []any) (any, error) {
		return inputs[0].(int) * 2, nil
	}}
}

func addAll() *countingOp {
	return &countingOp{name: "add", fn: func(inputs []any) (any, error) {
		sum := 0
		for _, in := range inputs {
			sum += in.(int)
		}
		return sum, nil
	}}
}

func TestExecutor_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("computes sink value in dependency order", func(t *testing.T) {
		b := NewGraphBuilder()
		src := b.AddSource()
		d := b.AddNode(double(), src)
		sum := b.AddNode(addAll(), d, src)
		sink := b.AddSink(sum)
		g, err := b.Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}

		exec := NewExecutor()
		out, err := exec.Evaluate(ctx, g, sink, Bindings{src: 5})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if out != 15 { // 2*5 + 5
			t.Errorf("sink value = %v, want 15", out)
		}
	})

	t.Run("only the sink's closure is evaluated", func(t *testing.T) {
		b := NewGraphBuilder()
		src := b.AddSource()
		wanted := double()
		unwanted := &countingOp{name: "unwanted", fn: func(inputs []any) (any, error) {
			return nil, errors.New("should never run")
		}}
		w := b.AddNode(wanted, src)
		b.AddNode(unwanted, src)
		sink := b.AddSink(w)
		g, err := b.Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}

		exec := NewExecutor()
		if _, err := exec.Evaluate(ctx, g, sink, Bindings{src: 1}); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if n := unwanted.calls.Load(); n != 0 {
			t.Errorf("node outside closure was invoked %d times", n)
		}
	})

	t.Run("second evaluation is served entirely from cache", func(t *testing.T) {
		b := NewGraphBuilder()
		src := b.AddSource()
		d := double()
		a := addAll()
		n1 := b.AddNode(d, src)
		n2 := b.AddNode(a, n1, n1)
		sink := b.AddSink(n2)
		g, err := b.Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}

		exec := NewExecutor()
		first, err := exec.Evaluate(ctx, g, sink, Bindings{src: 3})
		if err != nil {
			t.Fatalf("first Evaluate failed: %v", err)
		}
		second, err := exec.Evaluate(ctx, g, sink, Bindings{src: 3})
		if err != nil {
			t.Fatalf("second Evaluate failed: %v", err)
		}

		if first != second {
			t.Errorf("results differ: %v vs %v", first, second)
		}
		if n := d.calls.Load(); n != 1 {
			t.Errorf("double invoked %d times, want 1", n)
		}
		if n := a.calls.Load(); n != 1 {
			t.Errorf("add invoked %d times, want 1", n)
		}
	})

	t.Run("different bindings recompute", func(t *testing.T) {
		b := NewGraphBuilder()
		src := b.AddSource()
		d := double()
		n := b.AddNode(d, src)
		sink := b.AddSink(n)
		g, _ := b.Build()

		exec := NewExecutor()
		out1, _ := exec.Evaluate(ctx, g, sink, Bindings{src: 2})
		out2, _ := exec.Evaluate(ctx, g, sink, Bindings{src: 10})
		if out1 != 4 || out2 != 20 {
			t.Errorf("results = %v, %v; want 4, 20", out1, out2)
		}
		if n := d.calls.Load(); n != 2 {
			t.Errorf("double invoked %d times, want 2", n)
		}
	})

	t.Run("missing binding fails", func(t *testing.T) {
		b := NewGraphBuilder()
		src := b.AddSource()
		n := b.AddNode(double(), src)
		sink := b.AddSink(n)
		g, _ := b.Build()

		exec := NewExecutor()
		_, err := exec.Evaluate(ctx, g, sink, Bindings{})
		if !errors.Is(err, ErrMissingBinding) {
			t.Errorf("Evaluate error = %v, want ErrMissingBinding", err)
		}
	})

	t.Run("unbound source outside closure is tolerated", func(t *testing.T) {
		b := NewGraphBuilder()
		src := b.AddSource()
		other := b.AddSource()
		n := b.AddNode(double(), src)
		sink := b.AddSink(n)
		g, _ := b.Build()
		_ = other

		exec := NewExecutor()
		if _, err := exec.Evaluate(ctx, g, sink, Bindings{src: 1}); err != nil {
			t.Errorf("Evaluate failed: %v", err)
		}
	})

	t.Run("unknown sink fails", func(t *testing.T) {
		g := NewGraph()
		exec := NewExecutor()
		_, err := exec.Evaluate(ctx, g, SinkID(3), Bindings{})
		if !errors.Is(err, ErrInvalidReference) {
			t.Errorf("Evaluate error = %v, want ErrInvalidReference", err)
		}
	})
}

func TestExecutor_OperatorFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("bad input shard")

	b := NewGraphBuilder()
	src := b.AddSource()
	failing := &countingOp{name: "failing", fn: func(inputs []any) (any, error) {
		return nil, boom
	}}
	n := b.AddNode(failing, src)
	sink := b.AddSink(n)
	g, _ := b.Build()

	exec := NewExecutor()
	_, err := exec.Evaluate(ctx, g, sink, Bindings{src: 1})

	var opErr *OperatorError
	if !errors.As(err, &opErr) {
		t.Fatalf("Evaluate error = %T, want *OperatorError", err)
	}
	if !errors.Is(err, boom) {
		t.Error("collaborator error was not preserved verbatim")
	}
	if opErr.Operator != "failing" {
		t.Errorf("OperatorError.Operator = %q, want %q", opErr.Operator, "failing")
	}

	// Failures are never cached: a retry invokes the operator again.
	_, _ = exec.Evaluate(ctx, g, sink, Bindings{src: 1})
	if n := failing.calls.Load(); n != 2 {
		t.Errorf("failing operator invoked %d times across two evaluations, want 2", n)
	}
}

func TestExecutor_UnfitGraph(t *testing.T) {
	ctx := context.Background()

	g := NewGraph()
	g, src := g.AddSource()
	est := NewEstimator("scaler", func(_ context.Context, training []any) (Operator, error) {
		return passthrough("fitted"), nil
	})
	g, n, err := g.AddEstimator(est, []NodeOrSourceID{src}, []NodeOrSourceID{src})
	if err != nil {
		t.Fatalf("AddEstimator failed: %v", err)
	}
	g, sink, _ := g.AddSink(n)

	exec := NewExecutor()
	_, err = exec.Evaluate(ctx, g, sink, Bindings{src: 1})
	if !errors.Is(err, ErrUnfitPipeline) {
		t.Errorf("Evaluate error = %v, want ErrUnfitPipeline", err)
	}
}

func TestExecutor_Invalidate(t *testing.T) {
	ctx := context.Background()

	b := NewGraphBuilder()
	src := b.AddSource()
	d := double()
	n := b.AddNode(d, src)
	sink := b.AddSink(n)
	g, _ := b.Build()

	exec := NewExecutor()
	if _, err := exec.Evaluate(ctx, g, sink, Bindings{src: 1}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if exec.CacheLen() == 0 {
		t.Fatal("nothing was cached")
	}

	exec.Invalidate(g)
	if exec.CacheLen() != 0 {
		t.Errorf("cache holds %d entries after Invalidate", exec.CacheLen())
	}

	if _, err := exec.Evaluate(ctx, g, sink, Bindings{src: 1}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if calls := d.calls.Load(); calls != 2 {
		t.Errorf("double invoked %d times, want 2 after invalidation", calls)
	}
}

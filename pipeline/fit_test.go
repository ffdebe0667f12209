package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

// meanCenterEstimator fits the mean of a training slice and materializes a
// transformer that subtracts it.
func meanCenterEstimator(fits *atomic.Int64) Estimator {
	return NewEstimator("mean_center", func(_ context.Context, training []any) (Operator, error) {
		fits.Add(1)
		data := training[0].([]float64)
		var sum float64
		for _, v := range data {
			sum += v
		}
		mean := sum / float64(len(data))
		return Transformer("center", func(_ context.Context, inputs []any) (any, error) {
			return inputs[0].(float64) - mean, nil
		}), nil
	})
}

func TestFitPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("fit then apply equals manual fit-then-transform", func(t *testing.T) {
		var fits atomic.Int64
		p := FromTransformer[float64, float64](intOpF("double", func(v float64) float64 { return v * 2 }))
		training := Identity[[]float64]()

		composed, trainSrc, err := AndThenEstimator[float64, float64, float64, []float64, []float64](p, meanCenterEstimator(&fits), training)
		if err != nil {
			t.Fatalf("AndThenEstimator failed: %v", err)
		}
		if !composed.Unfit() {
			t.Error("pipeline with a placeholder should report Unfit")
		}

		exec := NewExecutor()
		data := []float64{1, 2, 3} // mean 2
		fitted, err := FitPipeline(ctx, exec, composed, Bindings{trainSrc: data})
		if err != nil {
			t.Fatalf("FitPipeline failed: %v", err)
		}
		if fitted.Unfit() {
			t.Error("fitted pipeline should not report Unfit")
		}

		out, err := fitted.Apply(ctx, exec, 5.0)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		// double(5) = 10, centered by mean(1,2,3) = 2 -> 8.
		if out != 8.0 {
			t.Errorf("fitted(5) = %v, want 8", out)
		}
	})

	t.Run("fit is invoked exactly once", func(t *testing.T) {
		var fits atomic.Int64
		p := Identity[float64]()
		training := Identity[[]float64]()
		composed, trainSrc, err := AndThenEstimator[float64, float64, float64, []float64, []float64](p, meanCenterEstimator(&fits), training)
		if err != nil {
			t.Fatalf("AndThenEstimator failed: %v", err)
		}

		exec := NewExecutor()
		fitted, err := FitPipeline(ctx, exec, composed, Bindings{trainSrc: []float64{4, 6}})
		if err != nil {
			t.Fatalf("FitPipeline failed: %v", err)
		}
		for _, in := range []float64{1, 2, 3} {
			if _, err := fitted.Apply(ctx, exec, in); err != nil {
				t.Fatalf("Apply(%v) failed: %v", in, err)
			}
		}
		if n := fits.Load(); n != 1 {
			t.Errorf("Fit invoked %d times, want exactly 1", n)
		}
	})

	t.Run("applying an unfit pipeline fails", func(t *testing.T) {
		var fits atomic.Int64
		p := Identity[float64]()
		training := Identity[[]float64]()
		composed, _, err := AndThenEstimator[float64, float64, float64, []float64, []float64](p, meanCenterEstimator(&fits), training)
		if err != nil {
			t.Fatalf("AndThenEstimator failed: %v", err)
		}

		_, err = composed.Apply(ctx, NewExecutor(), 1.0)
		if !errors.Is(err, ErrUnfitPipeline) {
			t.Errorf("unfit Apply error = %v, want ErrUnfitPipeline", err)
		}
	})

	t.Run("original pipeline survives fitting and can refit", func(t *testing.T) {
		var fits atomic.Int64
		p := Identity[float64]()
		training := Identity[[]float64]()
		composed, trainSrc, err := AndThenEstimator[float64, float64, float64, []float64, []float64](p, meanCenterEstimator(&fits), training)
		if err != nil {
			t.Fatalf("AndThenEstimator failed: %v", err)
		}

		exec := NewExecutor()
		a, err := FitPipeline(ctx, exec, composed, Bindings{trainSrc: []float64{0, 2}}) // mean 1
		if err != nil {
			t.Fatalf("first fit failed: %v", err)
		}
		b, err := FitPipeline(ctx, exec, composed, Bindings{trainSrc: []float64{0, 20}}) // mean 10
		if err != nil {
			t.Fatalf("second fit failed: %v", err)
		}

		outA, err := a.Apply(ctx, exec, 5.0)
		if err != nil {
			t.Fatalf("Apply a failed: %v", err)
		}
		outB, err := b.Apply(ctx, exec, 5.0)
		if err != nil {
			t.Fatalf("Apply b failed: %v", err)
		}
		if outA != 4.0 || outB != -5.0 {
			t.Errorf("refits = (%v, %v), want (4, -5)", outA, outB)
		}
		if composed.Unfit() != true {
			t.Error("source pipeline must remain unfit after fitting copies")
		}
	})
}

func TestFitGraph_Errors(t *testing.T) {
	ctx := context.Background()
	var fits atomic.Int64

	t.Run("placeholder without training input", func(t *testing.T) {
		g := NewGraph()
		g, src := g.AddSource()
		g, n, err := g.AddEstimator(meanCenterEstimator(&fits), []NodeOrSourceID{src}, nil)
		if err != nil {
			t.Fatalf("AddEstimator failed: %v", err)
		}
		g, _, _ = g.AddSink(n)

		_, err = NewExecutor().FitGraph(ctx, g, Bindings{src: 1.0})
		if !errors.Is(err, ErrUnresolvedEstimator) {
			t.Errorf("FitGraph error = %v, want ErrUnresolvedEstimator", err)
		}
	})

	t.Run("placeholder trained on an unfit placeholder", func(t *testing.T) {
		g := NewGraph()
		g, src := g.AddSource()
		g, trainSrc := g.AddSource()
		// First placeholder has no fit deps, so it can never resolve; the
		// second trains on its output.
		g, n1, err := g.AddEstimator(meanCenterEstimator(&fits), []NodeOrSourceID{trainSrc}, nil)
		if err != nil {
			t.Fatalf("AddEstimator failed: %v", err)
		}
		g, n2, err := g.AddEstimator(meanCenterEstimator(&fits), []NodeOrSourceID{src}, []NodeOrSourceID{n1})
		if err != nil {
			t.Fatalf("AddEstimator failed: %v", err)
		}
		g, _, _ = g.AddSink(n2)

		_, err = NewExecutor().FitGraph(ctx, g, Bindings{src: 1.0, trainSrc: []float64{1}})
		if !errors.Is(err, ErrUnresolvedEstimator) {
			t.Errorf("FitGraph error = %v, want ErrUnresolvedEstimator", err)
		}
	})

	t.Run("fit failure is wrapped as an operator error", func(t *testing.T) {
		boom := errors.New("degenerate training data")
		est := NewEstimator("failing", func(_ context.Context, _ []any) (Operator, error) {
			return nil, boom
		})

		g := NewGraph()
		g, src := g.AddSource()
		g, n, err := g.AddEstimator(est, []NodeOrSourceID{src}, []NodeOrSourceID{src})
		if err != nil {
			t.Fatalf("AddEstimator failed: %v", err)
		}
		g, _, _ = g.AddSink(n)

		_, err = NewExecutor().FitGraph(ctx, g, Bindings{src: []float64{}})
		var opErr *OperatorError
		if !errors.As(err, &opErr) {
			t.Fatalf("FitGraph error = %T, want *OperatorError", err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("wrapped error = %v, want %v preserved", err, boom)
		}
	})
}

func intOpF(name string, fn func(float64) float64) Operator {
	return Transformer(name, func(_ context.Context, inputs []any) (any, error) {
		return fn(inputs[0].(float64)), nil
	})
}

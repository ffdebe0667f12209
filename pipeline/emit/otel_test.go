package emit

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer(t *testing.T) (*tracetest.InMemoryExporter, *OTelEmitter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, NewOTelEmitter(otel.Tracer("test"))
}

func TestOTelEmitter_Emit(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	event := Event{
		GraphID: "graph-001",
		Step:    2,
		NodeID:  "node(1)",
		Msg:     "node_end",
		Meta: map[string]interface{}{
			"operator":    "double",
			"duration_ms": int64(12),
		},
	}
	emitter.Emit(event)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Name != "node_end" {
		t.Errorf("span name = %q, want %q", span.Name, "node_end")
	}

	attrs := attributeMap(span.Attributes)
	if got := attrs["pipegraph.graph_id"]; got != "graph-001" {
		t.Errorf("graph_id = %v, want %q", got, "graph-001")
	}
	if got := attrs["pipegraph.step"]; got != int64(2) {
		t.Errorf("step = %v, want %d", got, 2)
	}
	if got := attrs["pipegraph.node_id"]; got != "node(1)" {
		t.Errorf("node_id = %v, want %q", got, "node(1)")
	}
	if got := attrs["pipegraph.meta.operator"]; got != "double" {
		t.Errorf("operator = %v, want %q", got, "double")
	}
	if got := attrs["pipegraph.meta.duration_ms"]; got != int64(12) {
		t.Errorf("duration_ms = %v, want %d", got, 12)
	}

	if !span.EndTime.After(span.StartTime) {
		t.Error("span was not ended")
	}
}

func TestOTelEmitter_EmitWithError(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.Emit(Event{
		GraphID: "graph-001",
		NodeID:  "node(0)",
		Msg:     "node_end",
		Meta: map[string]interface{}{
			"error": "operator failed",
		},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]

	if span.Status.Code != codes.Error {
		t.Errorf("status code = %v, want %v", span.Status.Code, codes.Error)
	}
	if span.Status.Description != "operator failed" {
		t.Errorf("status description = %q, want %q", span.Status.Description, "operator failed")
	}
	if len(span.Events) == 0 {
		t.Error("expected a recorded error event, got none")
	}
}

func TestOTelEmitter_EmitBatch(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	events := []Event{
		{GraphID: "graph-001", Step: 1, NodeID: "node(0)", Msg: "node_start"},
		{GraphID: "graph-001", Step: 1, NodeID: "node(0)", Msg: "node_end"},
		{GraphID: "graph-001", Step: 2, NodeID: "node(1)", Msg: "cache_hit"},
	}
	emitter.EmitBatch(context.Background(), events)

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	wantNames := []string{"node_start", "node_end", "cache_hit"}
	for i, span := range spans {
		if span.Name != wantNames[i] {
			t.Errorf("span[%d] name = %q, want %q", i, span.Name, wantNames[i])
		}
		if !span.EndTime.After(span.StartTime) {
			t.Errorf("span[%d] was not ended", i)
		}
	}
}

func TestOTelEmitter_EmitBatch_Empty(t *testing.T) {
	exporter, emitter := newTestTracer(t)

	emitter.EmitBatch(context.Background(), nil)

	if spans := exporter.GetSpans(); len(spans) != 0 {
		t.Errorf("expected 0 spans for empty batch, got %d", len(spans))
	}
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{})
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

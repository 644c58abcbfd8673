package obs

import (
	"bytes"
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestStdoutSpanExporter(t *testing.T) {
	var buf bytes.Buffer
	exp, err := NewSpanExporter(context.Background(), "stdout", &buf)
	if err != nil {
		t.Fatalf("NewSpanExporter: %v", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	_, span := tp.Tracer("test").Start(context.Background(), "gateway.evaluate")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "gateway.evaluate") {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestSpanExporterSelection(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "")

	if exp, err := NewSpanExporter(context.Background(), "none", nil); err != nil || exp != nil {
		t.Fatalf("none: expected nil exporter, got %v, %v", exp, err)
	}
	if _, err := NewSpanExporter(context.Background(), "otlp", nil); err == nil {
		t.Fatal("otlp without endpoint should fail")
	}
	if _, err := NewSpanExporter(context.Background(), "zipkin", nil); err == nil {
		t.Fatal("unknown exporter should fail")
	}
}

func TestInitTracingNoop(t *testing.T) {
	tp, shutdown, err := InitTracing(context.Background(), "none", "authgate", "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatal("noop provider should not record spans")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

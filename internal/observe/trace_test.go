package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs redirects the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestSessionID_RoundTrip(t *testing.T) {
	t.Parallel()

	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	ctx := WithSession(context.Background(), "s-1")
	if got := SessionID(ctx); got != "s-1" {
		t.Errorf("SessionID() = %q, want %q", got, "s-1")
	}
}

func TestTraceID(t *testing.T) {
	t.Parallel()
	tp, _ := newTestTracerProvider(t)

	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID(background) = %q, want empty", got)
	}
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if got := TraceID(ctx); len(got) != 32 {
		t.Errorf("len(TraceID()) = %d, want 32", len(got))
	}
}

// Tests below swap global state and must not run in parallel.

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx, span := StartSpan(context.Background(), "interview.session")
	if TraceID(ctx) == "" {
		t.Error("StartSpan did not start a recording span")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "interview.session" {
		t.Errorf("spans = %v, want one interview.session span", spans)
	}
}

func TestLogger_AddsSessionAndTrace(t *testing.T) {
	buf := captureLogs(t)
	tp, _ := newTestTracerProvider(t)

	ctx, span := tp.Tracer("test").Start(WithSession(context.Background(), "s-42"), "op")
	defer span.End()
	Logger(ctx).Info("session active")

	out := buf.String()
	for _, want := range []string{"session_id=s-42", "trace_id=", "span_id="} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestLogger_PlainContext(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("idle")

	if out := buf.String(); strings.Contains(out, "session_id") || strings.Contains(out, "trace_id") {
		t.Errorf("log output has context attributes: %s", out)
	}
}

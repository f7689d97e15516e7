package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup installs an in-memory tracer as the global provider and returns
// metrics backed by a manual reader. Callers must not run in parallel.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	return m, reader, exp
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "intervue.http.request.duration")
	if met == nil {
		return nil
	}
	return met.Data.(metricdata.Histogram[float64]).DataPoints
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

func TestMiddleware_CorrelationIDMatchesTrace(t *testing.T) {
	m, _, _ := testSetup(t)

	var inHandler string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = TraceID(r.Context())
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sessions/current", nil))

	if len(inHandler) != 32 {
		t.Fatalf("len(trace id) = %d, want 32", len(inHandler))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != inHandler {
		t.Errorf("X-Correlation-ID = %q, want %q", got, inHandler)
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	var inHandler string
	handler := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler = TraceID(r.Context())
	}))
	req := httptest.NewRequest("POST", "/api/sessions", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if inHandler != traceID {
		t.Errorf("trace id = %q, want %q", inHandler, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_SpanAndDuration(t *testing.T) {
	m, reader, exp := testSetup(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/api/history/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/history/abc-123", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /api/history/abc-123" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if got, _ := attrValue(spans[0].Attributes, "http.response.status_code"); got != "404" {
		t.Errorf("span status code = %q, want 404", got)
	}
	if got, _ := attrValue(spans[0].Attributes, "http.route"); got != "/api/history/{id}" {
		t.Errorf("span route = %q, want the route pattern", got)
	}

	points := durationPoints(t, reader)
	if len(points) != 1 || points[0].Count != 1 {
		t.Fatalf("duration points = %+v, want one sample", points)
	}
	attrs := points[0].Attributes.ToSlice()
	if got, _ := attrValue(attrs, "path"); got != "/api/history/{id}" {
		t.Errorf("path = %q, want route pattern", got)
	}
	if got, _ := attrValue(attrs, "method"); got != "GET" {
		t.Errorf("method = %q, want GET", got)
	}
}

func TestMiddleware_WebsocketNotTimed(t *testing.T) {
	m, reader, exp := testSetup(t)

	done := make(chan struct{})
	stream := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "done")
	}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		stream.ServeHTTP(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	_, _, _ = conn.Read(context.Background())
	conn.CloseNow()
	<-done

	if points := durationPoints(t, reader); len(points) != 0 {
		t.Errorf("duration points = %d, want none for a websocket stream", len(points))
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if got, _ := attrValue(spans[0].Attributes, "http.upgraded"); got != "true" {
		t.Errorf("http.upgraded = %q, want true", got)
	}
}

func TestMiddleware_ProbesLogAtDebug(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLogs(t)

	r := chi.NewRouter()
	r.Use(Middleware(m))
	r.Get("/healthz", func(http.ResponseWriter, *http.Request) {})
	r.Get("/api/interviewers", func(http.ResponseWriter, *http.Request) {})

	for _, path := range []string{"/healthz", "/api/interviewers"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	var probe, api string
	for _, line := range strings.Split(buf.String(), "\n") {
		switch {
		case strings.Contains(line, "path=/healthz"):
			probe = line
		case strings.Contains(line, "path=/api/interviewers"):
			api = line
		}
	}
	if !strings.Contains(probe, "level=DEBUG") {
		t.Errorf("probe log = %q, want debug level", probe)
	}
	if !strings.Contains(api, "level=INFO") {
		t.Errorf("api log = %q, want info level", api)
	}
}

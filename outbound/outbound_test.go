package outbound

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"apsta"
	"apsta/station"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestInvoker(opts ...Option) (*Invoker, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return New(append([]Option{WithTracerProvider(provider)}, opts...)...), recorder
}

func findSpanByName(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func TestInvoke(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Hello"))
	})
	mux.HandleFunc("/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("chunked body"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantLength int64
	}{
		{name: "fixed length", path: "/hello", wantStatus: http.StatusOK, wantLength: 5},
		{name: "no content length counts body", path: "/stream", wantStatus: http.StatusOK, wantLength: 12},
		{name: "non-2xx is not an error", path: "/missing", wantStatus: http.StatusNotFound, wantLength: 19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inv, _ := newTestInvoker()
			resp, err := inv.Invoke(context.Background(), srv.URL+tt.path)
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.ContentLength != tt.wantLength {
				t.Errorf("content length = %d, want %d", resp.ContentLength, tt.wantLength)
			}
		})
	}
}

func TestInvokeRecordsSpans(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Hello"))
	}))
	defer srv.Close()

	inv, recorder := newTestInvoker()
	if _, err := inv.Invoke(context.Background(), srv.URL); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	spans := recorder.Ended()
	root := findSpanByName(spans, "outbound.invoke")
	if root == nil {
		t.Fatal("missing outbound.invoke span")
	}
	if len(spans) < 2 {
		t.Fatalf("ended span count = %d, want transport span too", len(spans))
	}
	for _, span := range spans {
		if span == root {
			continue
		}
		if span.Parent().SpanID() != root.SpanContext().SpanID() {
			t.Errorf("span %q parent = %s, want %s", span.Name(), span.Parent().SpanID(), root.SpanContext().SpanID())
		}
	}
}

func TestInvokeUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/hello"
	srv.Close()

	connects := 0
	sup := station.New(station.Config{MaxRetries: 3}, station.ConnectorFunc(func() { connects++ }))
	sup.HandleEvent(apsta.StationStarted{})
	before := sup.Status()

	inv, recorder := newTestInvoker(WithTimeout(time.Second))
	_, err := inv.InvokeAndLog(context.Background(), url)
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("Invoke() error = %v, want ErrRequestFailed", err)
	}

	if after := sup.Status(); after != before {
		t.Errorf("supervisor status changed: %+v -> %+v", before, after)
	}
	if connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}

	root := findSpanByName(recorder.Ended(), "outbound.invoke")
	if root == nil {
		t.Fatal("missing outbound.invoke span")
	}
	if root.Status().Code != codes.Error {
		t.Errorf("span status = %v, want error", root.Status().Code)
	}
}

func TestInvokeBadURL(t *testing.T) {
	t.Parallel()

	inv, _ := newTestInvoker()
	if _, err := inv.Invoke(context.Background(), "://nope"); !errors.Is(err, ErrRequestFailed) {
		t.Errorf("Invoke() error = %v, want ErrRequestFailed", err)
	}
}

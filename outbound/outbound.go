// Package outbound issues the device's one-shot HTTP request to a peer.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultTimeout bounds a whole invocation.
	DefaultTimeout = 5 * time.Second

	dialTimeout = 3 * time.Second
	tracerName  = "apsta/outbound"
)

// ErrRequestFailed marks an invocation that produced no HTTP response.
var ErrRequestFailed = errors.New("outbound request failed")

// Response summarises a completed invocation.
type Response struct {
	StatusCode int
	// ContentLength is the header value, or the body size read when the
	// header is absent.
	ContentLength int64
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithClient sets a custom HTTP client. It is used as-is; WithTimeout and
// WithTracerProvider do not apply to its transport.
func WithClient(c *http.Client) Option {
	return func(i *Invoker) {
		i.client = c
	}
}

// WithTimeout bounds each invocation. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithTracerProvider sets the provider for invocation and transport spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(i *Invoker) {
		i.tp = tp
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(i *Invoker) {
		i.log = l
	}
}

// Invoker performs single-attempt GET requests. It never retries.
type Invoker struct {
	client  *http.Client
	timeout time.Duration
	tp      trace.TracerProvider
	tracer  trace.Tracer
	log     *slog.Logger
}

// New creates an Invoker.
func New(opts ...Option) *Invoker {
	i := &Invoker{
		timeout: DefaultTimeout,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.tp == nil {
		i.tp = otel.GetTracerProvider()
	}
	i.tracer = i.tp.Tracer(tracerName)
	i.log = i.log.With("component", "outbound")

	if i.client == nil {
		base := &http.Transport{
			DialContext:       (&net.Dialer{Timeout: dialTimeout}).DialContext,
			DisableKeepAlives: true,
		}
		i.client = &http.Client{
			Timeout:   i.timeout,
			Transport: otelhttp.NewTransport(base, otelhttp.WithTracerProvider(i.tp)),
		}
	}
	return i
}

// Invoke issues one GET to url. A non-2xx status is a successful invocation
// reporting that status; transport failures wrap ErrRequestFailed.
func (i *Invoker) Invoke(ctx context.Context, url string) (resp Response, err error) {
	ctx, span := i.tracer.Start(ctx, "outbound.invoke", trace.WithAttributes(attribute.String("url.full", url)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("http.response.status_code", resp.StatusCode),
				attribute.Int64("http.response.body.size", resp.ContentLength),
			)
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("%w: create request: %w", ErrRequestFailed, err)
	}

	httpResp, err := i.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer httpResp.Body.Close()

	n, err := io.Copy(io.Discard, httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}

	resp = Response{StatusCode: httpResp.StatusCode, ContentLength: httpResp.ContentLength}
	if resp.ContentLength < 0 {
		resp.ContentLength = n
	}
	return resp, nil
}

// InvokeAndLog invokes url and logs the outcome the way the device reports
// it: status code and content length, or the failure.
func (i *Invoker) InvokeAndLog(ctx context.Context, url string) (Response, error) {
	resp, err := i.Invoke(ctx, url)
	if err != nil {
		i.log.Error("http get failed", "url", url, "err", err)
		return resp, err
	}
	i.log.Info("http get", "url", url, "status", resp.StatusCode, "content_length", resp.ContentLength)
	return resp, nil
}

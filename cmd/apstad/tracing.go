package main

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// logSpanProcessor writes finished spans to the logger at debug level, or at
// warn level when the span failed.
type logSpanProcessor struct {
	log *slog.Logger
}

func newLogSpanProcessor(log *slog.Logger) *logSpanProcessor {
	return &logSpanProcessor{log: log.With("component", "trace")}
}

func (p *logSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logSpanProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := []any{
		"span", span.Name(),
		"duration", span.EndTime().Sub(span.StartTime()),
		"trace_id", span.SpanContext().TraceID().String(),
	}
	if status := span.Status(); status.Code == codes.Error {
		p.log.Warn("span failed", append(attrs, "err", status.Description)...)
		return
	}
	p.log.Debug("span finished", attrs...)
}

func (p *logSpanProcessor) Shutdown(context.Context) error {
	return nil
}

func (p *logSpanProcessor) ForceFlush(context.Context) error {
	return nil
}

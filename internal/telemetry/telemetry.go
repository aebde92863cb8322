// Package telemetry installs the process tracer provider. Spans are not
// exported to a collector; finished spans and their events are written to
// slog, so a lifecycle trace reads inline with the process log.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Output struct {
	provider *sdktrace.TracerProvider
}

// New returns a provider whose spans are logged to log (slog.Default when
// nil).
func New(log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	p := &slogProcessor{log: log.With("component", "trace")}
	return &Output{provider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(p))}
}

// Install makes o the global tracer provider.
func (o *Output) Install() {
	otel.SetTracerProvider(o.provider)
}

func (o *Output) Tracer(name string) trace.Tracer {
	if o == nil || o.provider == nil {
		return otel.Tracer(name)
	}
	return o.provider.Tracer(name)
}

func (o *Output) Close(ctx context.Context) error {
	if o == nil || o.provider == nil {
		return nil
	}
	return o.provider.Shutdown(ctx)
}

type slogProcessor struct {
	log *slog.Logger
}

func (p *slogProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *slogProcessor) OnEnd(span sdktrace.ReadOnlySpan) {
	attrs := []any{
		"span", span.Name(),
		"scope", span.InstrumentationScope().Name,
		"duration", span.EndTime().Sub(span.StartTime()).Round(time.Microsecond),
		"trace_id", span.SpanContext().TraceID().String(),
	}
	for _, kv := range span.Attributes() {
		attrs = append(attrs, string(kv.Key), kv.Value.Emit())
	}

	for _, ev := range span.Events() {
		p.log.Debug("span event", "span", span.Name(), "event", ev.Name, slog.Group("attrs", attrArgs(ev.Attributes)...))
	}

	st := span.Status()
	if st.Code == codes.Error {
		attrs = append(attrs, "err", st.Description)
		p.log.Warn("span failed", attrs...)
		return
	}
	p.log.Debug("span ended", attrs...)
}

func (p *slogProcessor) Shutdown(context.Context) error   { return nil }
func (p *slogProcessor) ForceFlush(context.Context) error { return nil }

func attrArgs(kvs []attribute.KeyValue) []any {
	out := make([]any, 0, 2*len(kvs))
	for _, kv := range kvs {
		out = append(out, string(kv.Key), kv.Value.Emit())
	}
	return out
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dshills/rowflow/pipeline/emit"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Emitter kinds accepted by --emit.
var emitterKinds = []string{"null", "text", "json", "slog", "otel"}

// newEmitter builds the event emitter named by kind. The returned shutdown
// function flushes and stops whatever the emitter started.
func newEmitter(kind string, out io.Writer, logger *slog.Logger) (emit.Emitter, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch kind {
	case "", "null":
		return emit.NewNullEmitter(), noop, nil
	case "text":
		return emit.NewLogEmitter(out, false), noop, nil
	case "json":
		return emit.NewLogEmitter(out, true), noop, nil
	case "slog":
		return emit.NewSlogEmitter(logger), noop, nil
	case "otel":
		tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(&slogSpanExporter{logger: logger}))
		otel.SetTracerProvider(tp)
		emitter := emit.NewOTelEmitter(tp.Tracer("rowflow"))
		return emitter, func(ctx context.Context) error {
			if err := emitter.Flush(ctx); err != nil {
				return err
			}
			return tp.Shutdown(ctx)
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown emitter %q (want one of %v)", kind, emitterKinds)
	}
}

// slogSpanExporter logs finished spans. It stands in for a collector
// exporter when rowflow runs without one.
type slogSpanExporter struct {
	logger *slog.Logger
}

func (e *slogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		attrs := []any{
			"trace_id", span.SpanContext().TraceID().String(),
			"duration", span.EndTime().Sub(span.StartTime()),
			"status", span.Status().Code.String(),
		}
		for _, kv := range span.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		e.logger.InfoContext(ctx, "span "+span.Name(), attrs...)
	}
	return nil
}

func (e *slogSpanExporter) Shutdown(context.Context) error {
	return nil
}

package emit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans.
//
// Each event becomes a span named after event.Msg carrying the attributes
// rowflow.pipeline_id, rowflow.row and rowflow.step_id plus every Meta entry.
// A "duration_ms" entry backdates the span start so step_end spans cover the
// run they describe. A "error" entry marks the span as failed.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
//	emitter := emit.NewOTelEmitter(otel.Tracer("rowflow"))
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter backed by tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit records one span for the event.
func (o *OTelEmitter) Emit(event Event) {
	o.emit(context.Background(), event)
}

// EmitBatch records one span per event under ctx.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.emit(ctx, event)
	}
	return nil
}

// Flush forces export of buffered spans when the global provider supports
// it (the SDK provider does; the no-op provider does not).
func (o *OTelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OTelEmitter) emit(ctx context.Context, event Event) {
	end := time.Now()
	start := end
	if d, ok := durationMeta(event.Meta); ok {
		start = end.Add(-d)
	}

	_, span := o.tracer.Start(ctx, event.Msg, trace.WithTimestamp(start))
	span.SetAttributes(
		attribute.String("rowflow.pipeline_id", event.PipelineID),
		attribute.Int("rowflow.row", event.Row),
	)
	if event.StepID != "" {
		span.SetAttributes(attribute.String("rowflow.step_id", event.StepID))
	}
	for key, value := range event.Meta {
		span.SetAttributes(metaAttribute(key, value))
	}
	if msg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
	span.End(trace.WithTimestamp(end))
}

func durationMeta(meta map[string]interface{}) (time.Duration, bool) {
	switch v := meta["duration_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return 0, false
}

func metaAttribute(key string, value interface{}) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case time.Duration:
		return attribute.Int64(key, int64(v/time.Millisecond))
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Compile-time checks that every emitter satisfies the interface.
var (
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (*SlogEmitter)(nil)
	_ Emitter = (*BufferedEmitter)(nil)
	_ Emitter = (*OTelEmitter)(nil)
	_ Emitter = (*NullEmitter)(nil)
)

func TestLogEmitter_Text(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{PipelineID: "p-1", Row: 2, StepID: "s-2", Msg: MsgStepEnd,
		Meta: map[string]interface{}{"operation": "copy"}})

	got := buf.String()
	want := `[step_end] pipeline=p-1 row=2 stepID=s-2 meta={"operation":"copy"}` + "\n"
	if got != want {
		t.Errorf("text output = %q, want %q", got, want)
	}
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{PipelineID: "p-1", Row: 0, StepID: "s-0", Msg: MsgStepStart})
	emitter.Emit(Event{PipelineID: "p-1", Row: -1, Msg: MsgBatchEnd, Meta: map[string]interface{}{"iterations": 3}})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}

	var decoded struct {
		PipelineID string                 `json:"pipelineID"`
		Row        int                    `json:"row"`
		Msg        string                 `json:"msg"`
		Meta       map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if decoded.Msg != MsgBatchEnd || decoded.Row != -1 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Meta["iterations"] != float64(3) {
		t.Errorf("iterations = %v, want 3", decoded.Meta["iterations"])
	}
}

func TestLogEmitter_ConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(row int) {
			defer wg.Done()
			emitter.Emit(Event{PipelineID: "p", Row: row, Msg: MsgStepStart})
		}(i)
	}
	wg.Wait()

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !json.Valid([]byte(line)) {
			t.Fatalf("corrupted line %q", line)
		}
	}
}

func TestSlogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	emitter := NewSlogEmitter(logger)

	emitter.Emit(Event{PipelineID: "p", Row: 1, StepID: "s", Msg: MsgStepError,
		Meta: map[string]interface{}{"error": "boom"}})

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if record["level"] != "WARN" {
		t.Errorf("level = %v, want WARN", record["level"])
	}
	if record["msg"] != MsgStepError || record["error"] != "boom" || record["step_id"] != "s" {
		t.Errorf("record = %v", record)
	}
}

func TestBufferedEmitter(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{PipelineID: "p1", Row: 0, StepID: "a", Msg: MsgStepStart})
	emitter.Emit(Event{PipelineID: "p1", Row: 0, StepID: "a", Msg: MsgStepEnd})
	emitter.Emit(Event{PipelineID: "p1", Row: 1, StepID: "b", Msg: MsgStepError})
	emitter.Emit(Event{PipelineID: "p2", Row: 0, StepID: "c", Msg: MsgStepStart})

	t.Run("history isolates pipelines", func(t *testing.T) {
		if got := len(emitter.History("p1")); got != 3 {
			t.Errorf("p1 history = %d, want 3", got)
		}
		if got := len(emitter.History("p2")); got != 1 {
			t.Errorf("p2 history = %d, want 1", got)
		}
		if got := emitter.History("missing"); got == nil || len(got) != 0 {
			t.Errorf("missing history = %v, want empty slice", got)
		}
	})

	t.Run("filters combine", func(t *testing.T) {
		minRow := 1
		got := emitter.HistoryWithFilter("p1", HistoryFilter{MinRow: &minRow})
		if len(got) != 1 || got[0].StepID != "b" {
			t.Errorf("min row filter = %+v", got)
		}
		got = emitter.HistoryWithFilter("p1", HistoryFilter{StepID: "a", Msg: MsgStepEnd})
		if len(got) != 1 {
			t.Errorf("step+msg filter = %+v", got)
		}
		if n := emitter.Count("p1", MsgStepStart); n != 1 {
			t.Errorf("Count = %d, want 1", n)
		}
	})

	t.Run("clear", func(t *testing.T) {
		emitter.Clear("p1")
		if len(emitter.History("p1")) != 0 || len(emitter.History("p2")) != 1 {
			t.Error("Clear(p1) removed the wrong events")
		}
		emitter.Clear("")
		if len(emitter.History("p2")) != 0 {
			t.Error("Clear(\"\") kept events")
		}
	})
}

func attributeMap(attrs []attribute.KeyValue) map[string]interface{} {
	m := make(map[string]interface{}, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

func TestOTelEmitter(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	emitter := NewOTelEmitter(tp.Tracer("test"))

	t.Run("span per event", func(t *testing.T) {
		exporter.Reset()
		emitter.Emit(Event{PipelineID: "p", Row: 3, StepID: "s3", Msg: MsgStepEnd,
			Meta: map[string]interface{}{"operation": "copy", "duration_ms": int64(40)}})

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
		span := spans[0]
		if span.Name != MsgStepEnd {
			t.Errorf("span name = %q", span.Name)
		}
		attrs := attributeMap(span.Attributes)
		if attrs["rowflow.row"] != int64(3) || attrs["rowflow.step_id"] != "s3" || attrs["operation"] != "copy" {
			t.Errorf("attributes = %v", attrs)
		}
		if d := span.EndTime.Sub(span.StartTime); d.Milliseconds() < 40 {
			t.Errorf("span duration = %v, want >= 40ms", d)
		}
	})

	t.Run("error status", func(t *testing.T) {
		exporter.Reset()
		emitter.Emit(Event{PipelineID: "p", Row: 1, Msg: MsgStepError,
			Meta: map[string]interface{}{"error": "processor failed"}})

		spans := exporter.GetSpans()
		if len(spans) != 1 {
			t.Fatalf("expected 1 span, got %d", len(spans))
		}
		if spans[0].Status.Code != codes.Error {
			t.Errorf("status = %v, want Error", spans[0].Status.Code)
		}
		if spans[0].Status.Description != "processor failed" {
			t.Errorf("description = %q", spans[0].Status.Description)
		}
	})

	t.Run("batch honors cancellation", func(t *testing.T) {
		exporter.Reset()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := emitter.EmitBatch(ctx, []Event{{Msg: MsgStepStart}})
		if err == nil {
			t.Fatal("expected context error")
		}
		if len(exporter.GetSpans()) != 0 {
			t.Error("spans recorded after cancellation")
		}
	})

	t.Run("flush", func(t *testing.T) {
		if err := emitter.Flush(context.Background()); err != nil {
			t.Errorf("Flush: %v", err)
		}
	})
}

func TestNullEmitter(t *testing.T) {
	NewNullEmitter().Emit(Event{Msg: MsgStepStart})
}

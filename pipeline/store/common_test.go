package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// runStoreConformance exercises the ProvenanceStore contract against any
// implementation.
func runStoreConformance(t *testing.T, newStore func(t *testing.T) ProvenanceStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("latest of unknown step is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Latest(ctx, "p", "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Latest error = %v, want ErrNotFound", err)
		}
	})

	t.Run("latest returns newest record", func(t *testing.T) {
		s := newStore(t)
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, op := range []string{"copy", "concat"} {
			rec := Record{
				PipelineID: "p",
				StepID:     "s1",
				Row:        i,
				Operation:  op,
				Version:    "v1",
				Inputs:     map[string]string{"Default": "input.json"},
				Params:     map[string]any{"sep": ","},
				Timestamp:  base.Add(time.Duration(i) * time.Second),
			}
			if err := s.Record(ctx, rec); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}

		got, err := s.Latest(ctx, "p", "s1")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if got.Operation != "concat" || got.Row != 1 {
			t.Errorf("Latest = %+v, want concat at row 1", got)
		}
		if got.Inputs["Default"] != "input.json" {
			t.Errorf("Inputs = %v", got.Inputs)
		}
		if got.Params["sep"] != "," {
			t.Errorf("Params = %v", got.Params)
		}
		if !got.Timestamp.Equal(base.Add(time.Second)) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, base.Add(time.Second))
		}
	})

	t.Run("failed and disabled flags round trip", func(t *testing.T) {
		s := newStore(t)
		if err := s.Record(ctx, Record{PipelineID: "p", StepID: "f", Operation: "fail",
			Failed: true, Error: "boom", Timestamp: time.Now()}); err != nil {
			t.Fatalf("Record: %v", err)
		}
		if err := s.Record(ctx, Record{PipelineID: "p", StepID: "d", Operation: "copy",
			Disabled: true, Timestamp: time.Now()}); err != nil {
			t.Fatalf("Record: %v", err)
		}
		f, err := s.Latest(ctx, "p", "f")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if !f.Failed || f.Error != "boom" {
			t.Errorf("failed record = %+v", f)
		}
		d, err := s.Latest(ctx, "p", "d")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if !d.Disabled || d.Failed {
			t.Errorf("disabled record = %+v", d)
		}
	})

	t.Run("history is newest first and limited", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			if err := s.Record(ctx, Record{PipelineID: "p", StepID: "h", Row: i, Operation: "op",
				Timestamp: time.Now()}); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
		all, err := s.History(ctx, "p", "h", 0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(all) != 5 || all[0].Row != 4 || all[4].Row != 0 {
			t.Errorf("History order wrong: %+v", all)
		}
		two, err := s.History(ctx, "p", "h", 2)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(two) != 2 || two[0].Row != 4 {
			t.Errorf("limited history = %+v", two)
		}
	})

	t.Run("forget isolates steps and pipelines", func(t *testing.T) {
		s := newStore(t)
		for _, key := range [][2]string{{"p", "a"}, {"p", "b"}, {"q", "a"}} {
			if err := s.Record(ctx, Record{PipelineID: key[0], StepID: key[1], Operation: "op",
				Timestamp: time.Now()}); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
		if err := s.Forget(ctx, "p", "a"); err != nil {
			t.Fatalf("Forget: %v", err)
		}
		if _, err := s.Latest(ctx, "p", "a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("forgotten step still present: %v", err)
		}
		if _, err := s.Latest(ctx, "p", "b"); err != nil {
			t.Errorf("sibling step lost: %v", err)
		}
		if _, err := s.Latest(ctx, "q", "a"); err != nil {
			t.Errorf("other pipeline lost: %v", err)
		}
	})

	t.Run("rejects records without ids", func(t *testing.T) {
		s := newStore(t)
		if err := s.Record(ctx, Record{StepID: "s"}); err == nil {
			t.Error("expected error for empty pipeline ID")
		}
		if err := s.Record(ctx, Record{PipelineID: "p"}); err == nil {
			t.Error("expected error for empty step ID")
		}
	})

	t.Run("concurrent records", func(t *testing.T) {
		s := newStore(t)
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := s.Record(ctx, Record{PipelineID: "p", StepID: "c", Row: i, Operation: "op",
					Timestamp: time.Now()}); err != nil {
					t.Errorf("Record: %v", err)
				}
			}(i)
		}
		wg.Wait()
		all, err := s.History(ctx, "p", "c", 0)
		if err != nil {
			t.Fatalf("History: %v", err)
		}
		if len(all) != 10 {
			t.Errorf("History = %d records, want 10", len(all))
		}
	})

	t.Run("closed store", func(t *testing.T) {
		s := newStore(t)
		if err := s.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close: %v", err)
		}
		if err := s.Record(ctx, Record{PipelineID: "p", StepID: "s"}); !errors.Is(err, ErrClosed) {
			t.Errorf("Record after close = %v, want ErrClosed", err)
		}
		if _, err := s.Latest(ctx, "p", "s"); !errors.Is(err, ErrClosed) {
			t.Errorf("Latest after close = %v, want ErrClosed", err)
		}
	})
}

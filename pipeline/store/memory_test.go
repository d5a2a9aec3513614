package store

import (
	"context"
	"testing"
	"time"
)

var _ ProvenanceStore = (*MemStore)(nil)

func TestMemStore(t *testing.T) {
	runStoreConformance(t, func(t *testing.T) ProvenanceStore {
		return NewMemStore()
	})
}

func TestMemStore_RecordsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	params := map[string]any{"n": 1}
	if err := s.Record(ctx, Record{PipelineID: "p", StepID: "s", Params: params, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	params["n"] = 2

	got, err := s.Latest(ctx, "p", "s")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got.Params["n"] != 1 {
		t.Errorf("stored params changed through caller map: %v", got.Params)
	}
	got.Params["n"] = 3
	again, _ := s.Latest(ctx, "p", "s")
	if again.Params["n"] != 1 {
		t.Errorf("stored params changed through returned map: %v", again.Params)
	}
}

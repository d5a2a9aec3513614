package store

import (
	"context"
	"sync"
)

// MemStore keeps provenance records in memory. It is the default store of a
// pipeline and the one used in tests.
type MemStore struct {
	mu      sync.RWMutex
	records map[string][]Record // pipelineID/stepID -> records, oldest first
	closed  bool
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		records: make(map[string][]Record),
	}
}

func memKey(pipelineID, stepID string) string {
	return pipelineID + "/" + stepID
}

// Record appends rec.
func (m *MemStore) Record(_ context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	key := memKey(rec.PipelineID, rec.StepID)
	m.records[key] = append(m.records[key], cloneRecord(rec))
	return nil
}

// Latest returns the newest record of a step.
func (m *MemStore) Latest(_ context.Context, pipelineID, stepID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Record{}, ErrClosed
	}

	recs := m.records[memKey(pipelineID, stepID)]
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return cloneRecord(recs[len(recs)-1]), nil
}

// History returns records newest first.
func (m *MemStore) History(_ context.Context, pipelineID, stepID string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	recs := m.records[memKey(pipelineID, stepID)]
	out := make([]Record, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneRecord(recs[i]))
	}
	return out, nil
}

// Forget drops the records of a step.
func (m *MemStore) Forget(_ context.Context, pipelineID, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	delete(m.records, memKey(pipelineID, stepID))
	return nil
}

// Close marks the store closed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// cloneRecord copies the maps so callers cannot mutate stored records.
func cloneRecord(rec Record) Record {
	if rec.Inputs != nil {
		in := make(map[string]string, len(rec.Inputs))
		for k, v := range rec.Inputs {
			in[k] = v
		}
		rec.Inputs = in
	}
	if rec.Params != nil {
		pa := make(map[string]any, len(rec.Params))
		for k, v := range rec.Params {
			pa[k] = v
		}
		rec.Params = pa
	}
	return rec
}

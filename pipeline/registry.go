package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh processor instance.
type Factory func() Processor

// Registry maps processor ids, as written in StepConfig.Processor, to
// factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory. Registering an id twice is an error.
func (r *Registry) Register(id string, f Factory) error {
	if id == "" {
		return &EngineError{Message: "processor id is empty", Code: "INVALID_PROCESSOR"}
	}
	if f == nil {
		return &EngineError{Message: fmt.Sprintf("processor %q has nil factory", id), Code: "INVALID_PROCESSOR"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[id]; ok {
		return &EngineError{Message: fmt.Sprintf("processor %q already registered", id), Code: "DUPLICATE_PROCESSOR"}
	}
	r.factories[id] = f
	return nil
}

// MustRegister is Register that panics on error, for package init code.
func (r *Registry) MustRegister(id string, f Factory) {
	if err := r.Register(id, f); err != nil {
		panic(err)
	}
}

// New instantiates the processor registered under id.
func (r *Registry) New(id string) (Processor, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &EngineError{Message: fmt.Sprintf("unknown processor %q", id), Code: "UNKNOWN_PROCESSOR"}
	}
	p := f()
	if p == nil {
		return nil, &EngineError{Message: fmt.Sprintf("factory for %q returned nil", id), Code: "INVALID_PROCESSOR"}
	}
	return p, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

package resource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry is an in-memory set of named resources. The pipeline registers
// every output it creates here so later steps can reference it by name.
type Registry struct {
	mu    sync.RWMutex
	items map[string]any
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]any)}
}

// Register adds v under name, failing if the name is taken.
func (r *Registry) Register(name string, v any) error {
	if name == "" {
		return fmt.Errorf("resource name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[name]; exists {
		return fmt.Errorf("resource %q already registered", name)
	}
	r.items[name] = v
	return nil
}

// Put adds or replaces v under name.
func (r *Registry) Put(name string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[name] = v
}

// Remove drops name. Unknown names are ignored.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, name)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup implements Resolver.
func (r *Registry) Lookup(_ context.Context, name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
	}
	return v, nil
}

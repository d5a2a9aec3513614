package pipeline

import (
	"sync"
	"time"
)

// Data is a value flowing between steps: a step output, or a named resource
// bound as an input.
type Data interface {
	Name() string
	LastModified() time.Time
	Derivation() string
}

// Kinded is implemented by data that carries a type tag, checked against
// InputDescription.AcceptableKinds.
type Kinded interface {
	Kind() string
}

// Convertible is implemented by data that can produce a copy of itself of a
// different kind.
type Convertible interface {
	ConvertTo(kind string) (Data, error)
}

// ValueOf returns the payload of d when d exposes one through a Value()
// method, and d itself otherwise.
func ValueOf(d Data) any {
	if v, ok := d.(interface{ Value() any }); ok {
		return v.Value()
	}
	return d
}

// Item is the stock Data implementation: a named, mutable value with a
// modification time. It is safe for concurrent use.
type Item struct {
	mu         sync.RWMutex
	name       string
	kind       string
	value      any
	modified   time.Time
	derivation string
}

// NewItem creates an item holding v.
func NewItem(name string, v any) *Item {
	return &Item{name: name, value: v, modified: time.Now()}
}

// NewKindedItem creates an item with a kind tag.
func NewKindedItem(name, kind string, v any) *Item {
	it := NewItem(name, v)
	it.kind = kind
	return it
}

// Name implements Data.
func (i *Item) Name() string {
	return i.name
}

// Kind implements Kinded.
func (i *Item) Kind() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.kind
}

// Value returns the current payload.
func (i *Item) Value() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.value
}

// Set replaces the payload and bumps the modification time.
func (i *Item) Set(v any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.value = v
	i.modified = time.Now()
}

// LastModified implements Data.
func (i *Item) LastModified() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.modified
}

// Derivation implements Data. Items the pipeline creates get the operation
// chain that produced them; other items report their name.
func (i *Item) Derivation() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.derivation == "" {
		return i.name
	}
	return i.derivation
}

// SetDerivation records how the payload was produced.
func (i *Item) SetDerivation(d string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.derivation = d
}

// namedValue wraps a resolver result that is not Data.
type namedValue struct {
	name     string
	value    any
	resolved time.Time
}

func (n *namedValue) Name() string            { return n.name }
func (n *namedValue) LastModified() time.Time { return n.resolved }
func (n *namedValue) Derivation() string      { return n.name }
func (n *namedValue) Value() any              { return n.value }

// Package resource looks up named resources for pipeline references that are
// neither row positions nor empty: outputs registered by other steps, files
// on disk, and documents served over HTTP.
package resource

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Resolver that has nothing under a name.
var ErrNotFound = errors.New("resource not found")

// Resolver opens a resource by name.
//
// Lookup returns ErrNotFound (possibly wrapped) when the name is unknown to
// this resolver, so that a Chain can try the next one. Any other error is
// final.
type Resolver interface {
	Lookup(ctx context.Context, name string) (any, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (any, error)

// Lookup calls f.
func (f ResolverFunc) Lookup(ctx context.Context, name string) (any, error) {
	return f(ctx, name)
}

// Chain tries each resolver in order and returns the first hit. Nil entries
// are skipped.
type Chain []Resolver

// Lookup implements Resolver.
func (c Chain) Lookup(ctx context.Context, name string) (any, error) {
	for _, r := range c {
		if r == nil {
			continue
		}
		v, err := r.Lookup(ctx, name)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

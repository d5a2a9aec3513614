// Package emit delivers pipeline run events to observability backends.
package emit

// Emitter receives events produced while steps run, cascade, and while the
// table changes shape.
//
// Implementations must be safe for concurrent use: cascades on different
// worker goroutines emit at the same time. Emit must not block a run for
// long and must not panic.
type Emitter interface {
	// Emit delivers a single event.
	Emit(event Event)
}

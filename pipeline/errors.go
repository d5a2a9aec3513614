// Package pipeline schedules an ordered, editable table of processing steps.
//
// Each step runs a Processor on inputs taken from other steps (by absolute
// "$N" or relative "-1" row reference) or from named resources, and a change
// to a step re-runs it and, in cascade, every step below it. The package
// provides reference resolution, per-step single-flight execution with
// coalescing of redundant requests, output locks, cancellation, row
// insertion/deletion/move with reference rewriting, and a batch driver.
package pipeline

import (
	"errors"
	"fmt"
)

// ErrInterrupted reports a run that was cancelled, either by a newer request
// on the same row, by StopAll, or by the caller's context. It is not a step
// failure: the step's error flag is left untouched.
var ErrInterrupted = errors.New("step run interrupted")

// ErrOutOfResource is wrapped by processors that ran out of memory or another
// hard resource. The step's outputs are cleared and the run is never retried.
var ErrOutOfResource = errors.New("out of resource")

// ErrNotComputed is returned when provenance is requested for a row that has
// not run yet.
var ErrNotComputed = errors.New("not computed")

// ErrBatchRunning is returned when a batch is started while another batch of
// the same runner is still running.
var ErrBatchRunning = errors.New("batch already running")

// ErrExhausted is returned by an InputEnumerator that has no further input.
var ErrExhausted = errors.New("input enumerator exhausted")

// ReferenceError reports a reference string that is malformed, out of range,
// or cannot be resolved.
type ReferenceError struct {
	// Ref is the reference string as written on the step.
	Ref string

	// Row is the position of the step owning the reference.
	Row int

	Reason string

	// Err is the underlying cause, if any (e.g. a resource lookup failure).
	Err error
}

func (e *ReferenceError) Error() string {
	msg := fmt.Sprintf("reference %q at row %d: %s", e.Ref, e.Row, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReferenceError) Unwrap() error {
	return e.Err
}

// PluginExecutionError wraps a failure raised by a Processor.
type PluginExecutionError struct {
	Row       int
	StepID    string
	Operation string
	Err       error
}

func (e *PluginExecutionError) Error() string {
	return fmt.Sprintf("step %q (%s) at row %d failed: %v", e.StepID, e.Operation, e.Row, e.Err)
}

func (e *PluginExecutionError) Unwrap() error {
	return e.Err
}

// EngineError reports misuse of the pipeline API.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func rowOutOfRange(op string, row, n int) error {
	return &EngineError{
		Message: fmt.Sprintf("%s: row %d out of range [0,%d)", op, row, n),
		Code:    "ROW_OUT_OF_RANGE",
	}
}

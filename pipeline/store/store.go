// Package store persists run provenance for pipeline steps.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a step has no recorded run.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Record describes one run of one step: what it ran, at which version, and
// where its inputs came from.
type Record struct {
	PipelineID string `json:"pipelineID"`
	StepID     string `json:"stepID"`

	// Row is the table position of the step when it ran.
	Row int `json:"row"`

	Operation string `json:"operation"`
	Version   string `json:"version"`

	// Inputs maps each bound input name to the derivation of the data bound
	// to it.
	Inputs map[string]string `json:"inputs,omitempty"`

	// Params is a snapshot of the step parameters used for the run.
	Params map[string]any `json:"params,omitempty"`

	// Disabled marks bookkeeping records of disabled steps whose processor
	// did not run.
	Disabled bool `json:"disabled,omitempty"`

	// Failed marks runs whose processor or bindings failed. Error is also
	// set, without Failed, for interrupted runs.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ProvenanceStore receives a Record after every completed run and answers
// which run a step last completed.
//
// Implementations must be safe for concurrent use.
type ProvenanceStore interface {
	// Record appends a run record.
	Record(ctx context.Context, rec Record) error

	// Latest returns the most recent record of a step, or ErrNotFound.
	Latest(ctx context.Context, pipelineID, stepID string) (Record, error)

	// History returns up to limit records of a step, newest first. A limit
	// of 0 or less returns every record.
	History(ctx context.Context, pipelineID, stepID string, limit int) ([]Record, error)

	// Forget drops every record of a step.
	Forget(ctx context.Context, pipelineID, stepID string) error

	// Close releases resources. Calling Close twice is not an error.
	Close() error
}

func validateRecord(rec Record) error {
	if rec.PipelineID == "" {
		return fmt.Errorf("record pipeline ID cannot be empty")
	}
	if rec.StepID == "" {
		return fmt.Errorf("record step ID cannot be empty")
	}
	return nil
}

// encodeJSONColumns serializes the map columns shared by the SQL stores.
func encodeJSONColumns(rec Record) (inputs, params string, err error) {
	in, err := json.Marshal(rec.Inputs)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal inputs: %w", err)
	}
	pa, err := json.Marshal(rec.Params)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal params: %w", err)
	}
	return string(in), string(pa), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const recordColumns = "pipeline_id, step_id, row_index, operation, version, inputs, params, disabled, failed, error_text, recorded_at"

func scanRecord(s rowScanner) (Record, error) {
	var (
		rec            Record
		inputs, params string
		disabled       bool
		failed         bool
		recordedAt     int64
	)
	if err := s.Scan(&rec.PipelineID, &rec.StepID, &rec.Row, &rec.Operation, &rec.Version,
		&inputs, &params, &disabled, &failed, &rec.Error, &recordedAt); err != nil {
		return Record{}, err
	}
	if inputs != "" && inputs != "null" {
		if err := json.Unmarshal([]byte(inputs), &rec.Inputs); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal inputs: %w", err)
		}
	}
	if params != "" && params != "null" {
		if err := json.Unmarshal([]byte(params), &rec.Params); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal params: %w", err)
		}
	}
	rec.Disabled = disabled
	rec.Failed = failed
	rec.Timestamp = time.Unix(0, recordedAt).UTC()
	return rec, nil
}

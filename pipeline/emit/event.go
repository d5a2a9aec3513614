package emit

// Event messages emitted by the pipeline.
const (
	MsgStepStart       = "step_start"
	MsgStepEnd         = "step_end"
	MsgStepError       = "step_error"
	MsgStepInterrupted = "step_interrupted"
	MsgStepCoalesced   = "step_coalesced"
	MsgStepSkipped     = "step_skipped"
	MsgCascadeStopped  = "cascade_stopped"
	MsgBatchStart      = "batch_start"
	MsgBatchIteration  = "batch_iteration"
	MsgBatchEnd        = "batch_end"
	MsgRowInserted     = "row_inserted"
	MsgRowDeleted      = "row_deleted"
	MsgRowMoved        = "row_moved"
)

// Event is a single observation from a pipeline.
//
// Events cover step execution (start, end, error, interruption, coalescing),
// batch progress, and table mutations.
type Event struct {
	// PipelineID identifies the pipeline table that emitted the event.
	PipelineID string

	// Row is the table position of the step at the time of the event.
	// -1 for pipeline-level events (batch progress).
	Row int

	// StepID is the stable identifier of the step. Empty for pipeline-level
	// events.
	StepID string

	// Msg is one of the Msg* constants.
	Msg string

	// Meta carries event specific data. Common keys:
	//   - "operation": processor operation name
	//   - "duration_ms": run duration in milliseconds
	//   - "error": error text
	//   - "trigger_row": row that started the cascade
	//   - "iteration": batch iteration number
	Meta map[string]interface{}
}

package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter writes events to a writer, either as text lines or as JSON
// lines.
//
// Example text output:
//
//	[step_end] pipeline=p-1 row=2 stepID=9b1c meta={"operation":"copy"}
//
// Example JSON output:
//
//	{"pipelineID":"p-1","row":2,"stepID":"9b1c","msg":"step_end","meta":{"operation":"copy"}}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter. A nil writer means os.Stdout.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{
		writer:   writer,
		jsonMode: jsonMode,
	}
}

// Emit writes one line for the event. Lines from concurrent cascades are
// never interleaved.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		PipelineID string                 `json:"pipelineID"`
		Row        int                    `json:"row"`
		StepID     string                 `json:"stepID,omitempty"`
		Msg        string                 `json:"msg"`
		Meta       map[string]interface{} `json:"meta"`
	}{
		PipelineID: event.PipelineID,
		Row:        event.Row,
		StepID:     event.StepID,
		Msg:        event.Msg,
		Meta:       event.Meta,
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	fmt.Fprintf(l.writer, "[%s] pipeline=%s row=%d", event.Msg, event.PipelineID, event.Row)
	if event.StepID != "" {
		fmt.Fprintf(l.writer, " stepID=%s", event.StepID)
	}

	if len(event.Meta) > 0 {
		metaJSON, err := json.Marshal(event.Meta)
		if err == nil {
			fmt.Fprintf(l.writer, " meta=%s", metaJSON)
		} else {
			fmt.Fprintf(l.writer, " meta=%v", event.Meta)
		}
	}

	fmt.Fprint(l.writer, "\n")
}

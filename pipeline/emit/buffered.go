package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by pipeline ID.
//
// It is meant for tests and for short interactive sessions that want to
// inspect what a cascade did:
//
//	emitter := emit.NewBufferedEmitter()
//	p, _ := pipeline.New(registry, pipeline.WithEmitter(emitter))
//	_ = p.RunStep(ctx, pipeline.RunRequest{Row: 0})
//	errs := emitter.HistoryWithFilter(p.ID(), emit.HistoryFilter{Msg: emit.MsgStepError})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
}

// HistoryFilter selects events. Empty fields match everything; set fields
// are combined with AND.
type HistoryFilter struct {
	StepID string
	Msg    string
	MinRow *int
	MaxRow *int
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[event.PipelineID] = append(b.events[event.PipelineID], event)
}

// History returns a copy of the events emitted by a pipeline, in emission
// order.
func (b *BufferedEmitter) History(pipelineID string) []Event {
	return b.HistoryWithFilter(pipelineID, HistoryFilter{})
}

// HistoryWithFilter returns a copy of the events matching filter.
func (b *BufferedEmitter) HistoryWithFilter(pipelineID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := []Event{}
	for _, event := range b.events[pipelineID] {
		if matches(event, filter) {
			result = append(result, event)
		}
	}
	return result
}

// Count returns how many events of a pipeline carry msg.
func (b *BufferedEmitter) Count(pipelineID, msg string) int {
	return len(b.HistoryWithFilter(pipelineID, HistoryFilter{Msg: msg}))
}

// Clear drops the events of one pipeline, or of all pipelines when
// pipelineID is empty.
func (b *BufferedEmitter) Clear(pipelineID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if pipelineID == "" {
		b.events = make(map[string][]Event)
		return
	}
	delete(b.events, pipelineID)
}

func matches(event Event, filter HistoryFilter) bool {
	if filter.StepID != "" && event.StepID != filter.StepID {
		return false
	}
	if filter.Msg != "" && event.Msg != filter.Msg {
		return false
	}
	if filter.MinRow != nil && event.Row < *filter.MinRow {
		return false
	}
	if filter.MaxRow != nil && event.Row > *filter.MaxRow {
		return false
	}
	return true
}

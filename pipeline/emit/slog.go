package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a structured logger. Error events are
// logged at warn level, everything else at debug level, so a pipeline run
// with the default info level stays quiet unless something goes wrong.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates an emitter that logs through logger. A nil logger
// means slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit logs the event with its metadata flattened into attributes.
func (s *SlogEmitter) Emit(event Event) {
	level := slog.LevelDebug
	if event.Msg == MsgStepError {
		level = slog.LevelWarn
	}

	attrs := make([]slog.Attr, 0, len(event.Meta)+3)
	attrs = append(attrs,
		slog.String("pipeline_id", event.PipelineID),
		slog.Int("row", event.Row),
	)
	if event.StepID != "" {
		attrs = append(attrs, slog.String("step_id", event.StepID))
	}

	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}

	s.logger.LogAttrs(context.Background(), level, event.Msg, attrs...)
}

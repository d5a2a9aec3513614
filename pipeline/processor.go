package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Flags describes how the scheduler binds a processor.
type Flags uint32

const (
	// FlagNoInput marks processors that take no main input; InputRef is ignored.
	FlagNoInput Flags = 1 << iota

	// FlagNoOutput marks processors that produce no outputs; no destination
	// is resolved or synthesized.
	FlagNoOutput

	// FlagStuffAllInputs binds every output of the producer step as an input,
	// under the output's name, instead of only its default output.
	FlagStuffAllInputs

	// FlagPause halts auto-advance after the step unless the run is headless.
	FlagPause
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// InputDescription describes one named input slot of a processor.
type InputDescription struct {
	// AcceptableKinds lists the kinds the slot accepts. Empty accepts anything.
	AcceptableKinds []string

	// NeedsLocked requires the producer of the bound data to keep its outputs
	// stable (no concurrent re-run) while this step runs.
	NeedsLocked bool
}

// RunContext is handed to Processor.Run.
type RunContext struct {
	// Row is the current position of the step.
	Row int

	// TriggerRow is the row whose change started the cascade.
	TriggerRow int

	StepID string

	// InputsChanged is false when the step ran before and none of its inputs
	// were modified since.
	InputsChanged bool

	// ChangedParam names the parameter whose change triggered the run, if any.
	ChangedParam string

	StayInLoop bool

	// Interaction is the payload of the request that started this run.
	Interaction any

	// Params is a copy of the step parameters.
	Params map[string]any

	Logger *slog.Logger
}

// Processor is the unit of computation placed in a row.
//
// The scheduler binds inputs and outputs before Run and never calls Run
// concurrently on the same processor.
type Processor interface {
	OperationName() string
	Version() string
	Flags() Flags
	InputDescriptions() map[string]InputDescription

	Inputs() map[string]Data
	Outputs() map[string]Data
	SetInputs(map[string]Data)
	SetOutputs(map[string]Data)
	ClearInputs()
	ClearOutputs()

	// Run computes outputs from inputs. It must return promptly once ctx is
	// done.
	Run(ctx context.Context, rc RunContext) error
}

// DestinationCreator is implemented by processors that build their own
// output containers when a step has none.
type DestinationCreator interface {
	CreateOutputs(name string) (map[string]Data, error)
}

// Resetter is implemented by processors holding state across runs.
type Resetter interface {
	Reset() error
}

// BatchCapable is implemented by processors that need preparation before a
// batch.
type BatchCapable interface {
	PrepareForBatchRun() error
}

// Advancer is implemented by processors that produce a new input for each
// batch iteration. Advance returns ErrExhausted when it has nothing left.
type Advancer interface {
	Advance(ctx context.Context) error
}

// Base implements the input/output bookkeeping of Processor. Embed it and
// supply OperationName, Version, Flags, InputDescriptions and Run.
type Base struct {
	mu      sync.RWMutex
	inputs  map[string]Data
	outputs map[string]Data
}

// Inputs returns a copy of the bound inputs.
func (b *Base) Inputs() map[string]Data {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyData(b.inputs)
}

// Outputs returns a copy of the bound outputs.
func (b *Base) Outputs() map[string]Data {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyData(b.outputs)
}

func (b *Base) SetInputs(in map[string]Data) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = copyData(in)
}

func (b *Base) SetOutputs(out map[string]Data) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = copyData(out)
}

func (b *Base) ClearInputs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inputs = nil
}

func (b *Base) ClearOutputs() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = nil
}

// Input returns the input bound under name.
func (b *Base) Input(name string) (Data, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.inputs[name]
	return d, ok
}

// Output returns the output bound under name.
func (b *Base) Output(name string) (Data, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.outputs[name]
	return d, ok
}

// DefaultOutput returns the output named "Default", the single output when
// there is exactly one, or the first output by name.
func (b *Base) DefaultOutput() (Data, bool) {
	return defaultData(b.Outputs())
}

// DefaultInput is DefaultOutput for inputs.
func (b *Base) DefaultInput() (Data, bool) {
	return defaultData(b.Inputs())
}

// DefaultName is the input and output slot bound from InputRef/OutputRef.
const DefaultName = "Default"

func defaultData(m map[string]Data) (Data, bool) {
	if len(m) == 0 {
		return nil, false
	}
	if d, ok := m[DefaultName]; ok {
		return d, true
	}
	return m[sortedKeys(m)[0]], true
}

func copyData(m map[string]Data) map[string]Data {
	if m == nil {
		return nil
	}
	out := make(map[string]Data, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

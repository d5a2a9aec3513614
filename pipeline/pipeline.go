package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/rowflow/pipeline/emit"
	"github.com/dshills/rowflow/pipeline/resource"
	"github.com/dshills/rowflow/pipeline/store"
)

// Pipeline is an ordered, editable table of steps.
//
// All methods are safe for concurrent use. Runs hold the table lock only
// for short snapshots, so rows may be inserted, deleted or moved while
// steps execute.
type Pipeline struct {
	id       string
	opts     Options
	registry *Registry

	logger   *slog.Logger
	emitter  emit.Emitter
	prov     store.ProvenanceStore
	metrics  *PrometheusMetrics
	names    *resource.Registry
	resolver resource.Resolver
	pool     *WorkerPool

	mu    sync.RWMutex
	steps []*Step
}

// New creates an empty pipeline whose steps instantiate processors from
// registry.
func New(registry *Registry, options ...Option) (*Pipeline, error) {
	if registry == nil {
		return nil, &EngineError{Message: "processor registry is nil", Code: "INVALID_CONFIG"}
	}
	cfg := &pipelineConfig{opts: DefaultOptions()}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("pipeline option: %w", err)
		}
	}
	opts := cfg.opts
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Emitter == nil {
		opts.Emitter = emit.NewNullEmitter()
	}
	if opts.Provenance == nil {
		opts.Provenance = store.NewMemStore()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	names := resource.NewRegistry()
	return &Pipeline{
		id:       opts.ID,
		opts:     opts,
		registry: registry,
		logger:   opts.Logger.With("component", "pipeline", "pipeline_id", opts.ID),
		emitter:  opts.Emitter,
		prov:     opts.Provenance,
		metrics:  opts.Metrics,
		names:    names,
		resolver: resource.Chain{names, opts.Resources},
		pool:     NewWorkerPool(opts.Workers),
	}, nil
}

// ID returns the pipeline id.
func (p *Pipeline) ID() string {
	return p.id
}

// Len returns the number of rows.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.steps)
}

// Step returns a snapshot of the row.
func (p *Pipeline) Step(row int) (StepInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if row < 0 || row >= len(p.steps) {
		return StepInfo{}, rowOutOfRange("step", row, len(p.steps))
	}
	return p.steps[row].info(), nil
}

// Steps returns a snapshot of every row.
func (p *Pipeline) Steps() []StepInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	infos := make([]StepInfo, len(p.steps))
	for i, st := range p.steps {
		infos[i] = st.info()
	}
	return infos
}

// Processor returns the processor instance of the row, nil for empty rows.
func (p *Pipeline) Processor(row int) (Processor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if row < 0 || row >= len(p.steps) {
		return nil, rowOutOfRange("processor", row, len(p.steps))
	}
	return p.steps[row].proc, nil
}

// Outputs returns the current outputs of the row.
func (p *Pipeline) Outputs(row int) (map[string]Data, error) {
	proc, err := p.Processor(row)
	if err != nil {
		return nil, err
	}
	if proc == nil {
		return nil, nil
	}
	return proc.Outputs(), nil
}

// AppendStep adds a configured row at the end and returns its id.
func (p *Pipeline) AppendStep(cfg StepConfig) (string, error) {
	return p.appendStep(uuid.NewString(), cfg)
}

func (p *Pipeline) appendStep(id string, cfg StepConfig) (string, error) {
	proc, err := p.newProcessor(cfg.Processor)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	st := newStep(id, len(p.steps))
	st.cfg = cfg.clone()
	st.proc = proc
	p.steps = append(p.steps, st)
	p.mu.Unlock()

	p.emit(st.position, st.id, emit.MsgRowInserted, nil)
	return st.id, nil
}

// UpdateStep edits the configuration of a row. Changing the processor id
// replaces the processor instance; an unknown id leaves the row unchanged.
func (p *Pipeline) UpdateStep(row int, update func(*StepConfig)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if row < 0 || row >= len(p.steps) {
		return rowOutOfRange("update step", row, len(p.steps))
	}
	st := p.steps[row]
	cfg := st.cfg.clone()
	update(&cfg)
	if cfg.Processor != st.cfg.Processor {
		proc, err := p.newProcessor(cfg.Processor)
		if err != nil {
			return err
		}
		if st.proc != nil {
			p.releaseNames(st)
		}
		st.proc = proc
		st.state.reset()
	}
	st.cfg = cfg
	return nil
}

func (p *Pipeline) newProcessor(id string) (Processor, error) {
	if id == "" {
		return nil, nil
	}
	return p.registry.New(id)
}

// LockOutputFor keeps the outputs of row stable: the call waits for a
// running step to finish, and the step does not start again until
// UnlockOutputFor.
func (p *Pipeline) LockOutputFor(ctx context.Context, row int) error {
	p.mu.RLock()
	if row < 0 || row >= len(p.steps) {
		n := len(p.steps)
		p.mu.RUnlock()
		return rowOutOfRange("lock output", row, n)
	}
	st := p.steps[row]
	p.mu.RUnlock()
	return st.state.lockOutput(ctx)
}

// UnlockOutputFor releases a lock taken by LockOutputFor.
func (p *Pipeline) UnlockOutputFor(row int) error {
	p.mu.RLock()
	if row < 0 || row >= len(p.steps) {
		n := len(p.steps)
		p.mu.RUnlock()
		return rowOutOfRange("unlock output", row, n)
	}
	st := p.steps[row]
	p.mu.RUnlock()
	st.state.unlockOutput()
	return nil
}

// StopAll interrupts the running and queued requests of every step at or
// after fromRow.
func (p *Pipeline) StopAll(fromRow int) {
	if fromRow < 0 {
		fromRow = 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i := fromRow; i < len(p.steps); i++ {
		p.steps[i].state.interrupt()
	}
}

// Trigger re-runs row after a user change on the worker pool. With
// CancelOnChange, every run below row is stopped first; a run already
// executing row itself is interrupted by the new request.
func (p *Pipeline) Trigger(ctx context.Context, row int, changedParam string) *Task {
	if p.opts.CancelOnChange {
		p.StopAll(row + 1)
	}
	return p.pool.Go(ctx, func(ctx context.Context) error {
		return p.RunStep(ctx, RunRequest{
			Row:            row,
			TriggerRow:     row,
			AllowInterrupt: p.opts.CancelOnChange,
			ChangedParam:   changedParam,
		})
	})
}

// ResetAll forgets every run: it clears last-run times and error flags,
// resets stateful processors, and unbinds inputs and outputs.
func (p *Pipeline) ResetAll() error {
	p.mu.RLock()
	steps := make([]*Step, len(p.steps))
	copy(steps, p.steps)
	procs := make([]Processor, len(p.steps))
	for i, st := range p.steps {
		procs[i] = st.proc
	}
	p.mu.RUnlock()

	var errs []error
	for i, st := range steps {
		st.state.reset()
		p.releaseNames(st)
		proc := procs[i]
		if proc == nil {
			continue
		}
		if r, ok := proc.(Resetter); ok {
			if err := r.Reset(); err != nil {
				errs = append(errs, fmt.Errorf("reset step %s: %w", st.id, err))
			}
		}
		proc.ClearInputs()
		proc.ClearOutputs()
	}
	return errors.Join(errs...)
}

// Close waits for submitted triggers and batches and releases the worker
// pool. The provenance store is owned by the caller and stays open.
func (p *Pipeline) Close() {
	p.StopAll(0)
	p.pool.Close()
}

// Names returns the resource names currently produced by steps.
func (p *Pipeline) Names() []string {
	return p.names.Names()
}

func (p *Pipeline) releaseNames(st *Step) {
	for _, name := range st.takeOwnedNames() {
		p.names.Remove(name)
	}
}

// enabledLocked returns the enabled flag of every row; p.mu must be held.
func (p *Pipeline) enabledLocked() []bool {
	enabled := make([]bool, len(p.steps))
	for i, st := range p.steps {
		enabled[i] = st.cfg.Enabled
	}
	return enabled
}

func (p *Pipeline) emit(row int, stepID, msg string, meta map[string]interface{}) {
	p.emitter.Emit(emit.Event{
		PipelineID: p.id,
		Row:        row,
		StepID:     stepID,
		Msg:        msg,
		Meta:       meta,
	})
}

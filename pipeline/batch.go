package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dshills/rowflow/pipeline/emit"
	"github.com/dshills/rowflow/pipeline/resource"
)

// ExitCode is the outcome of a batch.
type ExitCode int

const (
	NoError     ExitCode = 0
	Error       ExitCode = 1
	Interrupted ExitCode = 2
)

func (c ExitCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case Error:
		return "ERROR"
	case Interrupted:
		return "INTERRUPTED"
	default:
		return fmt.Sprintf("ExitCode(%d)", int(c))
	}
}

// InputEnumerator prepares the table for the next batch iteration. It
// returns ErrExhausted when there is no further input.
type InputEnumerator interface {
	Next(ctx context.Context, p *Pipeline) error
}

// InputEnumeratorFunc adapts a function to InputEnumerator.
type InputEnumeratorFunc func(ctx context.Context, p *Pipeline) error

func (f InputEnumeratorFunc) Next(ctx context.Context, p *Pipeline) error {
	return f(ctx, p)
}

// BatchRunner runs the whole table repeatedly, once per input produced by
// its InputEnumerator.
type BatchRunner struct {
	p    *Pipeline
	enum InputEnumerator

	mu      sync.Mutex
	current *batchRun

	iterations atomic.Int64
}

type batchRun struct {
	done   chan struct{}
	cancel context.CancelCauseFunc
	code   ExitCode
	err    error
}

// NewBatchRunner creates a runner for p. A nil enum uses
// IncrementEnumerator.
func NewBatchRunner(p *Pipeline, enum InputEnumerator) *BatchRunner {
	if enum == nil {
		enum = &IncrementEnumerator{}
	}
	return &BatchRunner{p: p, enum: enum}
}

// Run starts a batch on the pipeline's worker pool. Unless singleRun, all
// run state is reset and BatchCapable processors are prepared first, and
// the table is run once per enumerated input until the enumerator is
// exhausted.
//
// A blocking Run returns the batch outcome. A non-blocking Run returns
// (NoError, nil) at once; collect the outcome with Wait.
func (r *BatchRunner) Run(ctx context.Context, blocking, singleRun bool) (ExitCode, error) {
	r.mu.Lock()
	if r.current != nil && !isClosed(r.current.done) {
		r.mu.Unlock()
		return Error, ErrBatchRunning
	}
	bctx, cancel := context.WithCancelCause(ctx)
	run := &batchRun{done: make(chan struct{}), cancel: cancel}
	r.current = run
	r.iterations.Store(0)
	r.mu.Unlock()

	var ran atomic.Bool
	task := r.p.pool.Go(bctx, func(ctx context.Context) error {
		ran.Store(true)
		run.code, run.err = r.drive(ctx, singleRun)
		return run.err
	})
	go func() {
		<-task.Done()
		if !ran.Load() {
			run.code, run.err = Interrupted, task.Err()
			if !errors.Is(run.err, ErrInterrupted) {
				run.code = Error
			}
		}
		cancel(nil)
		close(run.done)
	}()

	if !blocking {
		return NoError, nil
	}
	<-run.done
	return run.code, run.err
}

// Wait blocks until the last started batch finished and returns its
// outcome. It returns (NoError, nil) when no batch was started.
func (r *BatchRunner) Wait(ctx context.Context) (ExitCode, error) {
	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil {
		return NoError, nil
	}
	select {
	case <-run.done:
		return run.code, run.err
	case <-ctx.Done():
		return Interrupted, ctx.Err()
	}
}

// Cancel interrupts the running batch, if any.
func (r *BatchRunner) Cancel() {
	r.mu.Lock()
	run := r.current
	r.mu.Unlock()
	if run == nil || isClosed(run.done) {
		return
	}
	run.cancel(ErrInterrupted)
	r.p.StopAll(0)
}

// Running reports whether a batch is in progress.
func (r *BatchRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current != nil && !isClosed(r.current.done)
}

// Iterations returns the number of completed iterations of the current or
// last batch.
func (r *BatchRunner) Iterations() int {
	return int(r.iterations.Load())
}

func (r *BatchRunner) drive(ctx context.Context, singleRun bool) (code ExitCode, err error) {
	p := r.p
	p.emit(-1, "", emit.MsgBatchStart, map[string]interface{}{"single_run": singleRun})
	defer func() {
		meta := map[string]interface{}{"exit_code": code.String(), "iterations": r.Iterations()}
		if err != nil {
			meta["error"] = err.Error()
		}
		p.emit(-1, "", emit.MsgBatchEnd, meta)
		p.logger.Info("batch finished", "exit_code", code.String(), "iterations", r.Iterations())
	}()

	if !singleRun {
		if err := p.ResetAll(); err != nil {
			return Error, err
		}
		if err := p.prepareBatch(); err != nil {
			return Error, err
		}
	}

	policy := &CascadePolicy{AutoAdvance: true, StopOnError: p.opts.StopOnError, Headless: true}
loop:
	for {
		if ctx.Err() != nil {
			return Interrupted, ErrInterrupted
		}
		err := p.RunStep(ctx, RunRequest{Row: 0, TriggerRow: 0, Policy: policy})
		n := r.iterations.Add(1)
		p.metrics.IncrementBatchIterations()
		p.emit(-1, "", emit.MsgBatchIteration, map[string]interface{}{"iteration": n})

		switch {
		case errors.Is(err, ErrInterrupted):
			return Interrupted, err
		case err != nil:
			return Error, err
		case singleRun:
			break loop
		}

		if err := r.enum.Next(ctx, p); err != nil {
			if errors.Is(err, ErrExhausted) {
				break loop
			}
			if ctx.Err() != nil {
				return Interrupted, ErrInterrupted
			}
			return Error, fmt.Errorf("next batch input: %w", err)
		}
	}

	if err := p.ResetAll(); err != nil {
		return Error, err
	}
	return NoError, nil
}

func (p *Pipeline) processors() []Processor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	procs := make([]Processor, 0, len(p.steps))
	for _, st := range p.steps {
		if st.proc != nil {
			procs = append(procs, st.proc)
		}
	}
	return procs
}

func (p *Pipeline) prepareBatch() error {
	for _, proc := range p.processors() {
		if bc, ok := proc.(BatchCapable); ok {
			if err := bc.PrepareForBatchRun(); err != nil {
				return fmt.Errorf("prepare %s for batch: %w", proc.OperationName(), err)
			}
		}
	}
	return nil
}

// clearBindings unbinds every processor and drops the names steps created.
func (p *Pipeline) clearBindings() {
	p.mu.RLock()
	steps := make([]*Step, len(p.steps))
	copy(steps, p.steps)
	p.mu.RUnlock()
	for _, st := range steps {
		p.releaseNames(st)
	}
	for _, proc := range p.processors() {
		proc.ClearInputs()
		proc.ClearOutputs()
	}
}

// IncrementEnumerator is the default InputEnumerator. Each call advances
// every Advancer processor, increments the "{N}" marks in references and
// string parameters, checks that the incremented input names exist, and
// unbinds the table for the next run.
type IncrementEnumerator struct{}

// Next implements InputEnumerator.
func (IncrementEnumerator) Next(ctx context.Context, p *Pipeline) error {
	advanced := false
	for _, proc := range p.processors() {
		adv, ok := proc.(Advancer)
		if !ok {
			continue
		}
		if err := adv.Advance(ctx); err != nil {
			return err
		}
		advanced = true
	}

	var inputNames []string
	p.mu.Lock()
	for _, st := range p.steps {
		cfg := &st.cfg
		inc := func(ref string, input bool) string {
			next, found := resource.IncrementMarks(ref)
			if !found {
				return ref
			}
			advanced = true
			if _, _, isRow := parseRowRef(strings.TrimSpace(next)); input && !isRow {
				inputNames = append(inputNames, next)
			}
			return next
		}
		cfg.InputRef = inc(cfg.InputRef, st.proc == nil || !st.proc.Flags().Has(FlagNoInput))
		cfg.OutputRef = inc(cfg.OutputRef, false)
		for i := range cfg.AuxRefs {
			cfg.AuxRefs[i].Ref = inc(cfg.AuxRefs[i].Ref, true)
		}
		for k, v := range cfg.Params {
			if s, ok := v.(string); ok {
				cfg.Params[k] = inc(s, false)
			}
		}
	}
	p.mu.Unlock()

	if !advanced {
		return ErrExhausted
	}
	for _, name := range inputNames {
		_, err := p.resolver.Lookup(ctx, resource.StripMarks(name))
		if errors.Is(err, resource.ErrNotFound) {
			return fmt.Errorf("%s: %w", name, ErrExhausted)
		}
		if err != nil {
			return err
		}
	}
	p.clearBindings()
	return nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

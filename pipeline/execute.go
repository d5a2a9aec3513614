package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dshills/rowflow/pipeline/emit"
	"github.com/dshills/rowflow/pipeline/resource"
	"github.com/dshills/rowflow/pipeline/store"
)

// Interaction is the user event behind a run request. A non-coalescable
// interaction is never dropped in favour of an already queued request.
type Interaction struct {
	Payload     any
	Coalescable bool
}

// CascadePolicy overrides the pipeline options for one request.
type CascadePolicy struct {
	AutoAdvance bool
	StopOnError bool
	Headless    bool
}

// RunRequest asks for a step to run, then cascade down the table.
type RunRequest struct {
	Row int

	// TriggerRow is the row the user changed. A request for TriggerRow with
	// AllowInterrupt cancels the run currently executing that row.
	TriggerRow int

	// Interaction is nil for plain re-runs, which may be coalesced.
	Interaction *Interaction

	AllowInterrupt bool
	ChangedParam   string
	StayInLoop     bool

	// Policy overrides AutoAdvance, StopOnError and Headless when set.
	Policy *CascadePolicy
}

func (r RunRequest) coalescable() bool {
	return r.Interaction == nil || r.Interaction.Coalescable
}

func (p *Pipeline) policy(req RunRequest) CascadePolicy {
	if req.Policy != nil {
		return *req.Policy
	}
	return CascadePolicy{
		AutoAdvance: p.opts.AutoAdvance,
		StopOnError: p.opts.StopOnError,
		Headless:    p.opts.Headless,
	}
}

// stepOutcome is the result of one row of a cascade.
type stepOutcome struct {
	err         error
	interrupted bool
	handled     bool
	next        int
	advance     bool
}

// RunStep runs req.Row and, when the policy auto-advances, every row below
// it in order.
//
// The cascade stops at the end of the table, on interruption, on a
// reference error, on a processor error when StopOnError is set, after a
// pause step in interactive mode, and when the row was coalesced into an
// already queued request. Errors from every row run are joined; an
// interruption makes the result match ErrInterrupted.
func (p *Pipeline) RunStep(ctx context.Context, req RunRequest) error {
	n := p.Len()
	if req.Row < 0 || req.Row >= n {
		return rowOutOfRange("run step", req.Row, n)
	}
	policy := p.policy(req)

	var errs []error
	row := req.Row
	for {
		out := p.runRow(ctx, req, row, policy)
		if out.err != nil {
			errs = append(errs, out.err)
		}
		if out.interrupted || out.handled || !out.advance || !policy.AutoAdvance {
			break
		}
		if ctx.Err() != nil {
			errs = append(errs, ErrInterrupted)
			break
		}
		if out.next >= p.Len() {
			break
		}
		row = out.next
	}
	return errors.Join(errs...)
}

// binding is what a run needs, captured under the table lock.
type binding struct {
	st       *Step
	row      int
	cfg      StepConfig
	proc     Processor
	enabled  []bool
	input    *Target
	aux      []Target
	output   *Target
	producer map[int]*Step
}

func (p *Pipeline) snapshot(st *Step) (binding, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if st.position < 0 {
		return binding{}, false
	}
	return binding{
		st:       st,
		row:      st.position,
		cfg:      st.cfg.clone(),
		proc:     st.proc,
		enabled:  p.enabledLocked(),
		producer: make(map[int]*Step),
	}, true
}

// resolveRefs resolves every reference of the step against the current
// table shape and records the producer steps of row targets.
func (p *Pipeline) resolveRefs(b *binding) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// The table may have been reshaped since the snapshot.
	if b.st.position < 0 {
		return ErrInterrupted
	}
	b.row = b.st.position
	b.enabled = p.enabledLocked()

	flags := b.proc.Flags()
	resolve := func(ref string) (Target, error) {
		t, err := Resolve(ref, b.row, b.enabled)
		if err != nil {
			return t, err
		}
		if !t.IsNamed() {
			b.producer[t.Row] = p.steps[t.Row]
		}
		return t, nil
	}

	if !flags.Has(FlagNoInput) {
		t, err := resolve(b.cfg.InputRef)
		if err != nil {
			return err
		}
		b.input = &t
	}
	for _, aux := range b.cfg.AuxRefs {
		t, err := resolve(aux.Ref)
		if err != nil {
			return err
		}
		b.aux = append(b.aux, t)
	}
	if !flags.Has(FlagNoOutput) && strings.TrimSpace(b.cfg.OutputRef) != "" {
		t, err := Resolve(b.cfg.OutputRef, b.row, b.enabled)
		if err != nil {
			return err
		}
		if !t.IsNamed() {
			b.producer[t.Row] = p.steps[t.Row]
		}
		b.output = &t
	}
	return nil
}

func (p *Pipeline) runRow(ctx context.Context, req RunRequest, row int, policy CascadePolicy) stepOutcome {
	p.mu.RLock()
	if row >= len(p.steps) {
		p.mu.RUnlock()
		return stepOutcome{}
	}
	st := p.steps[row]
	p.mu.RUnlock()

	log := p.logger.With("row", row, "step_id", st.id)

	tok := newRunToken(ctx)
	defer tok.cancel(nil)

	interrupt := req.AllowInterrupt && row == req.TriggerRow
	handled, err := st.state.acquire(tok, interrupt, req.coalescable())
	if err != nil {
		p.metrics.IncrementInterrupts()
		p.emit(row, st.id, emit.MsgStepInterrupted, map[string]interface{}{"phase": "wait"})
		return stepOutcome{err: ErrInterrupted, interrupted: true}
	}
	if handled {
		p.metrics.IncrementCoalesced()
		p.emit(row, st.id, emit.MsgStepCoalesced, nil)
		log.Debug("request coalesced into queued run")
		return stepOutcome{handled: true}
	}
	defer st.state.release(tok)

	b, ok := p.snapshot(st)
	if !ok {
		return stepOutcome{err: ErrInterrupted, interrupted: true}
	}
	row = b.row
	next := row + 1

	if b.proc == nil {
		p.emit(row, st.id, emit.MsgStepSkipped, map[string]interface{}{"reason": "empty"})
		return stepOutcome{next: next, advance: true}
	}

	// Every exit from here on stamps the run time and leaves a record.
	var (
		inputs map[string]Data
		recErr error
	)
	defer func() {
		st.state.touch(time.Now())
		p.record(ctx, b, inputs, recErr, !b.cfg.Enabled)
	}()

	if !b.cfg.Enabled {
		p.metrics.StepDisabled()
		p.emit(row, st.id, emit.MsgStepSkipped, map[string]interface{}{"reason": "disabled"})
		return stepOutcome{next: next, advance: true}
	}

	op := b.proc.OperationName()
	rc := RunContext{
		Row:          row,
		TriggerRow:   req.TriggerRow,
		StepID:       st.id,
		ChangedParam: req.ChangedParam,
		StayInLoop:   req.StayInLoop,
		Params:       maps.Clone(b.cfg.Params),
		Logger:       log,
	}
	if req.Interaction != nil {
		rc.Interaction = req.Interaction.Payload
	}

	unlock, bound, err := p.bind(tok.ctx, &b)
	inputs = bound
	defer unlock()
	if err != nil {
		if tok.ctx.Err() != nil && errors.Is(err, ErrInterrupted) {
			recErr = ErrInterrupted
			p.metrics.IncrementInterrupts()
			p.emit(row, st.id, emit.MsgStepInterrupted, map[string]interface{}{"phase": "bind"})
			return stepOutcome{err: ErrInterrupted, interrupted: true}
		}
		recErr = err
		st.state.setComputingError(true)
		p.emit(row, st.id, emit.MsgStepError, map[string]interface{}{"operation": op, "error": err.Error()})
		p.emit(row, st.id, emit.MsgCascadeStopped, map[string]interface{}{"reason": "reference"})
		log.Warn("step binding failed", "error", err)
		return stepOutcome{err: err}
	}

	lastRun := st.state.lastRunTime()
	rc.InputsChanged = lastRun.IsZero()
	for _, d := range inputs {
		if d.LastModified().After(lastRun) {
			rc.InputsChanged = true
		}
	}

	p.metrics.StepStarted()
	p.emit(row, st.id, emit.MsgStepStart, map[string]interface{}{"operation": op})
	start := time.Now()
	runErr := safeRun(tok.ctx, b.proc, rc)
	latency := time.Since(start)

	if runErr != nil && tok.ctx.Err() != nil && isCancellation(runErr) {
		recErr = ErrInterrupted
		p.metrics.StepFinished(op, "interrupted", latency)
		p.metrics.IncrementInterrupts()
		p.emit(row, st.id, emit.MsgStepInterrupted, map[string]interface{}{"operation": op, "duration_ms": latency.Milliseconds()})
		log.Debug("step interrupted")
		return stepOutcome{err: ErrInterrupted, interrupted: true}
	}

	if runErr != nil {
		if errors.Is(runErr, ErrOutOfResource) {
			b.proc.ClearOutputs()
		}
		perr := &PluginExecutionError{Row: row, StepID: st.id, Operation: op, Err: runErr}
		recErr = perr
		st.state.setComputingError(true)
		p.metrics.StepFinished(op, "error", latency)
		p.emit(row, st.id, emit.MsgStepError, map[string]interface{}{
			"operation":   op,
			"error":       runErr.Error(),
			"duration_ms": latency.Milliseconds(),
		})
		log.Warn("step failed", "operation", op, "error", runErr)
		if policy.StopOnError {
			p.emit(row, st.id, emit.MsgCascadeStopped, map[string]interface{}{"reason": "error"})
			return stepOutcome{err: perr}
		}
		return stepOutcome{err: perr, next: p.nextRow(st), advance: true}
	}

	p.stampDerivation(b.proc, op, inputs)
	st.state.setComputingError(false)
	p.metrics.StepFinished(op, "success", latency)
	p.emit(row, st.id, emit.MsgStepEnd, map[string]interface{}{"operation": op, "duration_ms": latency.Milliseconds()})

	if b.proc.Flags().Has(FlagPause) && !policy.Headless {
		p.emit(row, st.id, emit.MsgCascadeStopped, map[string]interface{}{"reason": "pause"})
		return stepOutcome{}
	}
	return stepOutcome{next: p.nextRow(st), advance: true}
}

// nextRow reads the position of st after its run; the row may have moved.
func (p *Pipeline) nextRow(st *Step) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if st.position < 0 {
		return len(p.steps)
	}
	return st.position + 1
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrInterrupted)
}

func safeRun(ctx context.Context, proc Processor, rc RunContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return proc.Run(ctx, rc)
}

// bind resolves references, pins producers whose outputs must stay stable,
// and installs inputs and outputs on the processor. The returned unlock
// function is always non-nil.
func (p *Pipeline) bind(ctx context.Context, b *binding) (func(), map[string]Data, error) {
	unlock := func() {}
	if err := p.resolveRefs(b); err != nil {
		return unlock, nil, err
	}

	descs := b.proc.InputDescriptions()
	flags := b.proc.Flags()

	locked, err := p.lockProducers(ctx, b, descs, flags)
	unlock = func() {
		for _, st := range locked {
			st.state.unlockOutput()
		}
	}
	if err != nil {
		return unlock, nil, err
	}

	inputs := make(map[string]Data)
	if b.input != nil {
		if flags.Has(FlagStuffAllInputs) && !b.input.IsNamed() {
			outs := p.producerOutputs(b, b.input.Row)
			if len(outs) == 0 {
				return unlock, nil, &ReferenceError{Ref: b.cfg.InputRef, Row: b.row, Reason: "referenced step has no output"}
			}
			maps.Copy(inputs, outs)
		} else {
			d, err := p.fetch(ctx, b, b.cfg.InputRef, *b.input)
			if err != nil {
				return unlock, nil, err
			}
			inputs[DefaultName] = d
		}
	}
	for i, t := range b.aux {
		d, err := p.fetch(ctx, b, b.cfg.AuxRefs[i].Ref, t)
		if err != nil {
			return unlock, inputs, err
		}
		inputs[b.cfg.AuxRefs[i].Name] = d
	}

	if err := convertInputs(inputs, descs, b.row); err != nil {
		return unlock, inputs, err
	}
	b.proc.SetInputs(inputs)

	if !flags.Has(FlagNoOutput) {
		if err := p.bindOutputs(ctx, b, inputs); err != nil {
			return unlock, inputs, err
		}
	}
	return unlock, inputs, nil
}

// lockProducers locks, in row order, the outputs of producers feeding an
// input slot marked NeedsLocked. The step itself is never locked.
func (p *Pipeline) lockProducers(ctx context.Context, b *binding, descs map[string]InputDescription, flags Flags) ([]*Step, error) {
	need := make(map[int]bool)
	if b.input != nil && !b.input.IsNamed() {
		if flags.Has(FlagStuffAllInputs) {
			for _, d := range descs {
				if d.NeedsLocked {
					need[b.input.Row] = true
				}
			}
		} else if descs[DefaultName].NeedsLocked {
			need[b.input.Row] = true
		}
	}
	for i, t := range b.aux {
		if !t.IsNamed() && descs[b.cfg.AuxRefs[i].Name].NeedsLocked {
			need[t.Row] = true
		}
	}
	delete(need, b.row)

	rows := make([]int, 0, len(need))
	for r := range need {
		rows = append(rows, r)
	}
	sort.Ints(rows)

	var locked []*Step
	for _, r := range rows {
		st := b.producer[r]
		if err := st.state.lockOutput(ctx); err != nil {
			return locked, err
		}
		locked = append(locked, st)
	}
	return locked, nil
}

func (p *Pipeline) producerOutputs(b *binding, row int) map[string]Data {
	st := b.producer[row]
	p.mu.RLock()
	proc := st.proc
	p.mu.RUnlock()
	if proc == nil {
		return nil
	}
	return proc.Outputs()
}

// fetch returns the data a resolved reference points to.
func (p *Pipeline) fetch(ctx context.Context, b *binding, ref string, t Target) (Data, error) {
	if !t.IsNamed() {
		d, ok := defaultData(p.producerOutputs(b, t.Row))
		if !ok {
			return nil, &ReferenceError{Ref: ref, Row: b.row, Reason: "referenced step has no output"}
		}
		return d, nil
	}
	name := resource.StripMarks(t.Name)
	v, err := p.resolver.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return nil, &ReferenceError{Ref: ref, Row: b.row, Reason: "named resource not found", Err: err}
		}
		if ctx.Err() != nil {
			return nil, ErrInterrupted
		}
		return nil, &ReferenceError{Ref: ref, Row: b.row, Reason: "named resource lookup failed", Err: err}
	}
	return asData(name, v), nil
}

func asData(name string, v any) Data {
	if d, ok := v.(Data); ok {
		return d
	}
	return &namedValue{name: name, value: v, resolved: time.Now()}
}

// convertInputs checks kinded inputs against the acceptable kinds of their
// slot and converts them when possible.
func convertInputs(inputs map[string]Data, descs map[string]InputDescription, row int) error {
	for _, name := range sortedKeys(inputs) {
		desc, ok := descs[name]
		if !ok || len(desc.AcceptableKinds) == 0 {
			continue
		}
		k, ok := inputs[name].(Kinded)
		if !ok || slices.Contains(desc.AcceptableKinds, k.Kind()) {
			continue
		}
		conv, ok := inputs[name].(Convertible)
		if !ok {
			return &ReferenceError{Ref: name, Row: row, Reason: fmt.Sprintf("input of kind %q is not one of %v", k.Kind(), desc.AcceptableKinds)}
		}
		var lastErr error
		converted := false
		for _, kind := range desc.AcceptableKinds {
			d, err := conv.ConvertTo(kind)
			if err == nil && d != nil {
				inputs[name] = d
				converted = true
				break
			}
			lastErr = err
		}
		if !converted {
			return &ReferenceError{Ref: name, Row: row, Reason: fmt.Sprintf("cannot convert input of kind %q to %v", k.Kind(), desc.AcceptableKinds), Err: lastErr}
		}
	}
	return nil
}

// bindOutputs picks the destination of the step: the outputs of the row
// named by OutputRef, a named resource, the outputs the processor already
// has, or a freshly synthesized destination.
func (p *Pipeline) bindOutputs(ctx context.Context, b *binding, inputs map[string]Data) error {
	if b.output != nil {
		if !b.output.IsNamed() {
			outs := p.producerOutputs(b, b.output.Row)
			if len(outs) == 0 {
				return &ReferenceError{Ref: b.cfg.OutputRef, Row: b.row, Reason: "output step has no destination to share"}
			}
			b.proc.SetOutputs(outs)
			return nil
		}
		name := resource.StripMarks(b.output.Name)
		v, err := p.resolver.Lookup(ctx, name)
		switch {
		case err == nil:
			b.proc.SetOutputs(map[string]Data{DefaultName: asData(name, v)})
			return nil
		case errors.Is(err, resource.ErrNotFound):
			item := NewItem(name, nil)
			p.names.Put(name, item)
			b.st.addOwnedName(name)
			b.proc.SetOutputs(map[string]Data{DefaultName: item})
			return nil
		default:
			return &ReferenceError{Ref: b.cfg.OutputRef, Row: b.row, Reason: "output resource lookup failed", Err: err}
		}
	}

	if len(b.proc.Outputs()) > 0 {
		return nil
	}

	inputName := ""
	if d, ok := defaultData(inputs); ok {
		inputName = d.Name()
	}
	name := p.claimName(b.proc.OperationName() + "_" + chop(inputName, 15))
	b.st.addOwnedName(name)

	var outs map[string]Data
	if dc, ok := b.proc.(DestinationCreator); ok {
		created, err := dc.CreateOutputs(name)
		if err != nil {
			return &PluginExecutionError{Row: b.row, StepID: b.st.id, Operation: b.proc.OperationName(), Err: fmt.Errorf("create outputs: %w", err)}
		}
		outs = created
	}
	if len(outs) == 0 {
		outs = map[string]Data{DefaultName: NewItem(name, nil)}
	}
	for _, key := range sortedKeys(outs) {
		d := outs[key]
		switch n := d.Name(); {
		case n == name:
			p.names.Put(n, d)
		case n != "" && p.names.Register(n, d) == nil:
			b.st.addOwnedName(n)
		}
	}
	b.proc.SetOutputs(outs)
	return nil
}

// claimName registers a placeholder under base, with "#" appended until the
// name is free, and returns the claimed name.
func (p *Pipeline) claimName(base string) string {
	name := base
	for p.names.Register(name, nil) != nil {
		name += "#"
	}
	return name
}

func chop(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// stampDerivation records on Item outputs which operation produced them
// from which inputs.
func (p *Pipeline) stampDerivation(proc Processor, op string, inputs map[string]Data) {
	parts := make([]string, 0, len(inputs))
	for _, name := range sortedKeys(inputs) {
		parts = append(parts, inputs[name].Derivation())
	}
	derivation := op + "(" + strings.Join(parts, ", ") + ")"
	for _, d := range proc.Outputs() {
		if it, ok := d.(*Item); ok {
			it.SetDerivation(derivation)
		}
	}
}

func (p *Pipeline) record(ctx context.Context, b binding, inputs map[string]Data, runErr error, disabled bool) {
	rec := store.Record{
		PipelineID: p.id,
		StepID:     b.st.id,
		Row:        b.row,
		Params:     maps.Clone(b.cfg.Params),
		Disabled:   disabled,
		Timestamp:  time.Now(),
	}
	if b.proc != nil {
		rec.Operation = b.proc.OperationName()
		rec.Version = b.proc.Version()
	}
	if len(inputs) > 0 {
		rec.Inputs = make(map[string]string, len(inputs))
		for name, d := range inputs {
			rec.Inputs[name] = d.Derivation()
		}
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, ErrInterrupted):
		rec.Error = runErr.Error()
	default:
		rec.Failed = true
		rec.Error = runErr.Error()
	}
	if err := p.prov.Record(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("provenance record failed", "row", b.row, "step_id", b.st.id, "error", err)
	}
}

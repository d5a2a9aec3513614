package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dshills/rowflow/pipeline/resource"
)

type runFunc func(ctx context.Context, p *testProc, rc RunContext) error

// testProc is a configurable processor for scheduler tests.
type testProc struct {
	Base
	op    string
	flags Flags
	descs map[string]InputDescription
	run   runFunc
}

func (p *testProc) OperationName() string { return p.op }
func (p *testProc) Version() string       { return "test-1" }
func (p *testProc) Flags() Flags          { return p.flags }

func (p *testProc) InputDescriptions() map[string]InputDescription {
	return p.descs
}

func (p *testProc) Run(ctx context.Context, rc RunContext) error {
	if p.run == nil {
		return nil
	}
	return p.run(ctx, p, rc)
}

func procFactory(op string, flags Flags, run runFunc) Factory {
	return func() Processor {
		return &testProc{op: op, flags: flags, run: run}
	}
}

// copyRun copies the default input value into the default output.
func copyRun(_ context.Context, p *testProc, _ RunContext) error {
	in, ok := p.DefaultInput()
	if !ok {
		return errors.New("no input")
	}
	out, ok := p.DefaultOutput()
	if !ok {
		return errors.New("no output")
	}
	item, ok := out.(*Item)
	if !ok {
		return fmt.Errorf("output %T is not an item", out)
	}
	item.Set(ValueOf(in))
	return nil
}

// sourceRun publishes the "value" parameter.
func sourceRun(_ context.Context, p *testProc, rc RunContext) error {
	out, ok := p.DefaultOutput()
	if !ok {
		return errors.New("no output")
	}
	out.(*Item).Set(rc.Params["value"])
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister("copy", procFactory("copy", 0, copyRun))
	reg.MustRegister("source", procFactory("source", FlagNoInput, sourceRun))
	reg.MustRegister("fail", procFactory("fail", 0, func(context.Context, *testProc, RunContext) error {
		return errors.New("boom")
	}))
	reg.MustRegister("panic", procFactory("panic", 0, func(context.Context, *testProc, RunContext) error {
		panic("kaboom")
	}))
	return reg
}

func newTestPipeline(t *testing.T, reg *Registry, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New(reg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func addStep(t *testing.T, p *Pipeline, cfg StepConfig) string {
	t.Helper()
	id, err := p.AppendStep(cfg)
	if err != nil {
		t.Fatalf("AppendStep(%+v) error = %v", cfg, err)
	}
	return id
}

func outputValue(t *testing.T, p *Pipeline, row int) any {
	t.Helper()
	outs, err := p.Outputs(row)
	if err != nil {
		t.Fatalf("Outputs(%d) error = %v", row, err)
	}
	d, ok := defaultData(outs)
	if !ok {
		t.Fatalf("row %d has no output", row)
	}
	return ValueOf(d)
}

// waitUntil polls cond until it holds or a second passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func recvErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

// resourceMap is a fixed set of named resources.
type resourceMap map[string]any

func (m resourceMap) Lookup(_ context.Context, name string) (any, error) {
	v, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, resource.ErrNotFound)
	}
	return v, nil
}

package builtin

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/dshills/rowflow/pipeline"
)

// Value publishes its "value" parameter.
type Value struct {
	pipeline.Base
}

func (p *Value) OperationName() string { return "value" }
func (p *Value) Version() string       { return Version }
func (p *Value) Flags() pipeline.Flags { return pipeline.FlagNoInput }

func (p *Value) InputDescriptions() map[string]pipeline.InputDescription {
	return nil
}

func (p *Value) Run(_ context.Context, rc pipeline.RunContext) error {
	return setOutput(&p.Base, rc.Params["value"])
}

// Copy forwards its input unchanged.
type Copy struct {
	pipeline.Base
}

func (p *Copy) OperationName() string { return "copy" }
func (p *Copy) Version() string       { return Version }
func (p *Copy) Flags() pipeline.Flags { return 0 }

func (p *Copy) InputDescriptions() map[string]pipeline.InputDescription {
	return nil
}

func (p *Copy) Run(_ context.Context, _ pipeline.RunContext) error {
	v, err := defaultInput(&p.Base)
	if err != nil {
		return err
	}
	return setOutput(&p.Base, v)
}

// Concat joins the text of every input, Default first and the others by
// name, with the "sep" parameter.
type Concat struct {
	pipeline.Base
}

func (p *Concat) OperationName() string { return "concat" }
func (p *Concat) Version() string       { return Version }
func (p *Concat) Flags() pipeline.Flags { return 0 }

func (p *Concat) InputDescriptions() map[string]pipeline.InputDescription {
	return nil
}

func (p *Concat) Run(_ context.Context, rc pipeline.RunContext) error {
	inputs := p.Inputs()
	first, ok := inputs[pipeline.DefaultName]
	if !ok {
		return errors.New("no input bound")
	}
	parts := []string{fmt.Sprint(pipeline.ValueOf(first))}
	delete(inputs, pipeline.DefaultName)
	for _, name := range sortedNames(inputs) {
		parts = append(parts, fmt.Sprint(pipeline.ValueOf(inputs[name])))
	}
	return setOutput(&p.Base, strings.Join(parts, stringParam(rc.Params, "sep", "")))
}

// Count outputs the length of a list, map or string input, and 1 for any
// other value.
type Count struct {
	pipeline.Base
}

func (p *Count) OperationName() string { return "count" }
func (p *Count) Version() string       { return Version }
func (p *Count) Flags() pipeline.Flags { return 0 }

func (p *Count) InputDescriptions() map[string]pipeline.InputDescription {
	return map[string]pipeline.InputDescription{
		pipeline.DefaultName: {NeedsLocked: true},
	}
}

func (p *Count) Run(_ context.Context, _ pipeline.RunContext) error {
	v, err := defaultInput(&p.Base)
	if err != nil {
		return err
	}
	n := 1
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map, reflect.String:
		n = rv.Len()
	case reflect.Invalid:
		n = 0
	}
	return setOutput(&p.Base, n)
}

// Sleep waits for the "duration" parameter (default 100ms), then forwards
// its input.
type Sleep struct {
	pipeline.Base
}

func (p *Sleep) OperationName() string { return "sleep" }
func (p *Sleep) Version() string       { return Version }
func (p *Sleep) Flags() pipeline.Flags { return 0 }

func (p *Sleep) InputDescriptions() map[string]pipeline.InputDescription {
	return nil
}

func (p *Sleep) Run(ctx context.Context, rc pipeline.RunContext) error {
	d, err := time.ParseDuration(stringParam(rc.Params, "duration", "100ms"))
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}
	v, err := defaultInput(&p.Base)
	if err != nil {
		return err
	}
	return setOutput(&p.Base, v)
}

// Fail always fails with the "message" parameter.
type Fail struct {
	pipeline.Base
}

func (p *Fail) OperationName() string { return "fail" }
func (p *Fail) Version() string       { return Version }
func (p *Fail) Flags() pipeline.Flags { return pipeline.FlagNoInput | pipeline.FlagNoOutput }

func (p *Fail) InputDescriptions() map[string]pipeline.InputDescription {
	return nil
}

func (p *Fail) Run(_ context.Context, rc pipeline.RunContext) error {
	return errors.New(stringParam(rc.Params, "message", "step failed"))
}

// Package builtin provides the stock processors of the rowflow CLI.
package builtin

import (
	"errors"
	"fmt"

	"github.com/dshills/rowflow/pipeline"
)

// Version is reported by every builtin processor.
const Version = "1.0.0"

// Register adds every builtin processor to reg.
func Register(reg *pipeline.Registry) error {
	factories := map[string]pipeline.Factory{
		"value":    func() pipeline.Processor { return &Value{} },
		"copy":     func() pipeline.Processor { return &Copy{} },
		"concat":   func() pipeline.Processor { return &Concat{} },
		"count":    func() pipeline.Processor { return &Count{} },
		"sleep":    func() pipeline.Processor { return &Sleep{} },
		"fail":     func() pipeline.Processor { return &Fail{} },
		"save":     func() pipeline.Processor { return &Save{} },
		"sequence": func() pipeline.Processor { return &Sequence{} },
	}
	var errs []error
	for id, f := range factories {
		if err := reg.Register(id, f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRegistry returns a registry holding the builtin processors.
func NewRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

func defaultInput(b *pipeline.Base) (any, error) {
	in, ok := b.DefaultInput()
	if !ok {
		return nil, errors.New("no input bound")
	}
	return pipeline.ValueOf(in), nil
}

// setOutput stores v in the default output, which must be an Item.
func setOutput(b *pipeline.Base, v any) error {
	out, ok := b.DefaultOutput()
	if !ok {
		return errors.New("no output bound")
	}
	item, ok := out.(*pipeline.Item)
	if !ok {
		return fmt.Errorf("output %q is not writable", out.Name())
	}
	item.Set(v)
	return nil
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return def
}

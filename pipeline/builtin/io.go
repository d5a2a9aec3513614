package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/dshills/rowflow/pipeline"
	"github.com/dshills/rowflow/pipeline/resource"
)

// Save writes its input as indented JSON to the "path" parameter. Marks in
// the path are stripped, so "out{1}.json" writes out1.json and advances
// with every batch iteration.
type Save struct {
	pipeline.Base
}

func (p *Save) OperationName() string { return "save" }
func (p *Save) Version() string       { return Version }
func (p *Save) Flags() pipeline.Flags { return pipeline.FlagNoOutput }

func (p *Save) InputDescriptions() map[string]pipeline.InputDescription {
	return map[string]pipeline.InputDescription{
		pipeline.DefaultName: {NeedsLocked: true},
	}
}

func (p *Save) Run(_ context.Context, rc pipeline.RunContext) error {
	path := resource.StripMarks(stringParam(rc.Params, "path", ""))
	if path == "" {
		return errors.New("path parameter is required")
	}
	v, err := defaultInput(&p.Base)
	if err != nil {
		return err
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Sequence walks the files of the "dir" parameter matching "pattern"
// (default "*"), one per batch iteration, and outputs the decoded content
// of the current file.
type Sequence struct {
	pipeline.Base

	mu    sync.Mutex
	files []string
	index int
}

func (p *Sequence) OperationName() string { return "sequence" }
func (p *Sequence) Version() string       { return Version }
func (p *Sequence) Flags() pipeline.Flags { return pipeline.FlagNoInput }

func (p *Sequence) InputDescriptions() map[string]pipeline.InputDescription {
	return nil
}

// PrepareForBatchRun implements pipeline.BatchCapable.
func (p *Sequence) PrepareForBatchRun() error {
	return p.Reset()
}

// Reset implements pipeline.Resetter.
func (p *Sequence) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files = nil
	p.index = 0
	return nil
}

// Advance implements pipeline.Advancer.
func (p *Sequence) Advance(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.files == nil || p.index+1 >= len(p.files) {
		return pipeline.ErrExhausted
	}
	p.index++
	return nil
}

func (p *Sequence) Run(ctx context.Context, rc pipeline.RunContext) error {
	dir := stringParam(rc.Params, "dir", ".")
	p.mu.Lock()
	if p.files == nil {
		matches, err := filepath.Glob(filepath.Join(dir, stringParam(rc.Params, "pattern", "*")))
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("list %s: %w", dir, err)
		}
		sort.Strings(matches)
		p.files = matches
	}
	if p.index >= len(p.files) {
		p.mu.Unlock()
		return fmt.Errorf("no file at index %d in %s", p.index, dir)
	}
	path := p.files[p.index]
	p.mu.Unlock()

	v, err := resource.NewFileLoader("").Lookup(ctx, path)
	if err != nil {
		return err
	}
	file := v.(*resource.File)
	rc.Logger.Debug("sequence file", "path", path)
	return setOutput(&p.Base, file.Value())
}

func sortedNames(m map[string]pipeline.Data) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

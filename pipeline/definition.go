package pipeline

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Definition is the saved form of a table.
//
//	id: resize-batch
//	name: Resize images
//	steps:
//	  - processor: copy
//	    input: img{1}.json
//	  - processor: save
//	    input: "-1"
//	    params:
//	      path: out{1}.json
type Definition struct {
	ID    string           `yaml:"id,omitempty" json:"id,omitempty"`
	Name  string           `yaml:"name,omitempty" json:"name,omitempty"`
	Steps []StepDefinition `yaml:"steps" json:"steps"`
}

// StepDefinition is the saved form of a row. Enabled defaults to true.
type StepDefinition struct {
	ID        string         `yaml:"id,omitempty" json:"id,omitempty"`
	Processor string         `yaml:"processor" json:"processor"`
	Enabled   *bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Input     string         `yaml:"input,omitempty" json:"input,omitempty"`
	Output    string         `yaml:"output,omitempty" json:"output,omitempty"`
	Aux       []AuxRef       `yaml:"aux,omitempty" json:"aux,omitempty"`
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

func (s StepDefinition) config() StepConfig {
	enabled := true
	if s.Enabled != nil {
		enabled = *s.Enabled
	}
	return StepConfig{
		Processor: s.Processor,
		Enabled:   enabled,
		InputRef:  s.Input,
		OutputRef: s.Output,
		AuxRefs:   s.Aux,
		Params:    s.Params,
	}.clone()
}

// ParseDefinition decodes a YAML table definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return &def, nil
}

// LoadDefinition reads a YAML table definition from path.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	return ParseDefinition(data)
}

// Marshal encodes the definition as YAML.
func (d *Definition) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Save writes the definition to path as YAML.
func (d *Definition) Save(path string) error {
	data, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// NewFromDefinition builds a pipeline holding the rows of def. The
// definition's id becomes the pipeline id unless an option overrides it,
// and saved step ids are kept so provenance survives a reload.
func NewFromDefinition(def *Definition, registry *Registry, options ...Option) (*Pipeline, error) {
	if def.ID != "" {
		options = append([]Option{WithID(def.ID)}, options...)
	}
	p, err := New(registry, options...)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for i, sd := range def.Steps {
		if sd.ID != "" {
			if seen[sd.ID] {
				return nil, &EngineError{Message: fmt.Sprintf("step %d: duplicate id %q", i, sd.ID), Code: "INVALID_DEFINITION"}
			}
			seen[sd.ID] = true
		}
		id := sd.ID
		if id == "" {
			id = uuid.NewString()
		}
		if _, err := p.appendStep(id, sd.config()); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return p, nil
}

// Definition captures the current rows.
func (p *Pipeline) Definition() *Definition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	def := &Definition{ID: p.id, Steps: make([]StepDefinition, len(p.steps))}
	for i, st := range p.steps {
		cfg := st.cfg.clone()
		sd := StepDefinition{
			ID:        st.id,
			Processor: cfg.Processor,
			Input:     cfg.InputRef,
			Output:    cfg.OutputRef,
			Aux:       cfg.AuxRefs,
			Params:    cfg.Params,
		}
		if !cfg.Enabled {
			disabled := false
			sd.Enabled = &disabled
		}
		def.Steps[i] = sd
	}
	return def
}

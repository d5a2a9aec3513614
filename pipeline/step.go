package pipeline

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// AuxRef binds an auxiliary input slot to a reference.
type AuxRef struct {
	Name string `yaml:"name" json:"name"`
	Ref  string `yaml:"ref" json:"ref"`
}

// StepConfig is the user-editable part of a row.
type StepConfig struct {
	// Processor is a Registry id. Empty rows are skipped by cascades.
	Processor string

	Enabled bool

	// InputRef binds the "Default" input: "$N", a signed relative count, or
	// a resource name.
	InputRef string

	// OutputRef optionally selects where outputs go: a row whose outputs are
	// shared, or a resource name.
	OutputRef string

	AuxRefs []AuxRef
	Params  map[string]any
}

func (c StepConfig) clone() StepConfig {
	c.AuxRefs = slices.Clone(c.AuxRefs)
	c.Params = maps.Clone(c.Params)
	return c
}

// Step is one row of a pipeline. Its id survives row mutations.
//
// position, cfg and proc are guarded by the owning Pipeline's table lock;
// run state has its own lock.
type Step struct {
	id       string
	position int
	cfg      StepConfig
	proc     Processor
	state    *runState

	namesMu    sync.Mutex
	ownedNames []string
}

func newStep(id string, position int) *Step {
	return &Step{
		id:       id,
		position: position,
		cfg:      StepConfig{Enabled: true},
		state:    newRunState(),
	}
}

// ID returns the stable step identifier.
func (s *Step) ID() string {
	return s.id
}

func (s *Step) addOwnedName(name string) {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	s.ownedNames = append(s.ownedNames, name)
}

func (s *Step) takeOwnedNames() []string {
	s.namesMu.Lock()
	defer s.namesMu.Unlock()
	names := s.ownedNames
	s.ownedNames = nil
	return names
}

// StepInfo is a point-in-time view of a row.
type StepInfo struct {
	ID        string
	Position  int
	Config    StepConfig
	Operation string

	Updating       bool
	Queued         bool
	OutputLocks    int
	LastRun        time.Time
	ComputingError bool
}

// info must be called with the table lock held.
func (s *Step) info() StepInfo {
	snap := s.state.snapshot()
	info := StepInfo{
		ID:             s.id,
		Position:       s.position,
		Config:         s.cfg.clone(),
		Updating:       snap.updating,
		Queued:         snap.queued,
		OutputLocks:    snap.outputLocks,
		LastRun:        snap.lastRun,
		ComputingError: snap.computingError,
	}
	if s.proc != nil {
		info.Operation = s.proc.OperationName()
	}
	return info
}

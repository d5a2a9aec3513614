package pipeline

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func TestDeleteRow_AbsoluteReferenceFollowsStep(t *testing.T) {
	p := newTestPipeline(t, NewRegistry())
	ids := make([]string, 5)
	for i := range ids {
		ids[i] = addStep(t, p, StepConfig{Enabled: true})
	}
	if err := p.UpdateStep(4, func(c *StepConfig) { c.InputRef = "$2" }); err != nil {
		t.Fatal(err)
	}

	if err := p.DeleteRow(2); err != nil {
		t.Fatalf("DeleteRow() error = %v", err)
	}

	info, err := p.Step(3)
	if err != nil {
		t.Fatal(err)
	}
	if info.ID != ids[4] {
		t.Fatalf("row 3 is %s, want original row 4", info.ID)
	}
	target, err := Resolve(info.Config.InputRef, 3, enabledOf(p))
	if err != nil {
		t.Fatalf("Resolve(%q) error = %v", info.Config.InputRef, err)
	}
	if target.Row != 1 {
		t.Errorf("reference resolves to row %d, want 1", target.Row)
	}
	if got := mustStep(t, p, target.Row).ID; got != ids[1] {
		t.Errorf("reference resolves to step %s, want %s", got, ids[1])
	}
}

func TestDeleteRow_FallbackAndClear(t *testing.T) {
	p := newTestPipeline(t, NewRegistry())
	addStep(t, p, StepConfig{Enabled: true})
	addStep(t, p, StepConfig{Enabled: true, InputRef: "$1"})
	addStep(t, p, StepConfig{Enabled: true, InputRef: "-1", OutputRef: "result"})

	// Row 2 pointed at row 1; it now points at row 0.
	if err := p.DeleteRow(1); err != nil {
		t.Fatal(err)
	}
	info := mustStep(t, p, 1)
	if info.Config.InputRef != "-1" {
		t.Errorf("InputRef = %q, want -1", info.Config.InputRef)
	}
	if info.Config.OutputRef != "result" {
		t.Errorf("OutputRef = %q, names must not change", info.Config.OutputRef)
	}

	// Nothing survives above row 0: the reference is cleared.
	if err := p.DeleteRow(0); err != nil {
		t.Fatal(err)
	}
	if got := mustStep(t, p, 0).Config.InputRef; got != "" {
		t.Errorf("InputRef = %q, want cleared", got)
	}
}

func TestInsertRow(t *testing.T) {
	p := newTestPipeline(t, NewRegistry())
	a := addStep(t, p, StepConfig{Enabled: true})
	addStep(t, p, StepConfig{Enabled: true, InputRef: "-1", AuxRefs: []AuxRef{{Name: "mask", Ref: "$1"}}})

	id, err := p.InsertRow(-1)
	if err != nil {
		t.Fatalf("InsertRow() error = %v", err)
	}
	if mustStep(t, p, 0).ID != id {
		t.Fatal("new row is not first")
	}
	info := mustStep(t, p, 2)
	if info.Config.AuxRefs[0].Ref != "$2" {
		t.Errorf("aux ref = %q, want $2", info.Config.AuxRefs[0].Ref)
	}

	if _, err := p.InsertRow(1); err != nil {
		t.Fatal(err)
	}
	info = mustStep(t, p, 3)
	if info.Config.InputRef != "-2" {
		t.Errorf("InputRef = %q, want -2", info.Config.InputRef)
	}
	target, err := Resolve(info.Config.InputRef, 3, enabledOf(p))
	if err != nil {
		t.Fatal(err)
	}
	if mustStep(t, p, target.Row).ID != a {
		t.Error("relative reference no longer points at the original step")
	}

	inserted := mustStep(t, p, 2)
	if !inserted.Config.Enabled || inserted.Config.InputRef != "" {
		t.Errorf("inserted row = %+v, want enabled and empty", inserted.Config)
	}
}

func TestMoveRow(t *testing.T) {
	p := newTestPipeline(t, NewRegistry())
	a := addStep(t, p, StepConfig{Enabled: true})
	addStep(t, p, StepConfig{Enabled: true})
	c := addStep(t, p, StepConfig{Enabled: true, InputRef: "$1"})

	if err := p.MoveRow(0, 2); err != nil {
		t.Fatalf("MoveRow() error = %v", err)
	}
	if mustStep(t, p, 2).ID != a {
		t.Fatal("moved row not at 2")
	}
	info := mustStep(t, p, 1)
	if info.ID != c {
		t.Fatal("row c not at 1")
	}
	if info.Config.InputRef != "$3" {
		t.Errorf("InputRef = %q, want $3", info.Config.InputRef)
	}
	if err := p.MoveRow(1, 1); err != nil {
		t.Errorf("MoveRow(1, 1) error = %v", err)
	}
}

func TestMutations_OutOfRange(t *testing.T) {
	p := newTestPipeline(t, NewRegistry())
	addStep(t, p, StepConfig{Enabled: true})

	checks := map[string]error{
		"insert": func() error { _, err := p.InsertRow(1); return err }(),
		"delete": p.DeleteRow(1),
		"move":   p.MoveRow(0, 3),
	}
	for name, err := range checks {
		var engErr *EngineError
		if !errors.As(err, &engErr) || engErr.Code != "ROW_OUT_OF_RANGE" {
			t.Errorf("%s: error = %v, want ROW_OUT_OF_RANGE", name, err)
		}
	}
}

// TestMutations_PreserveTargets applies random sequences of mutations to
// random tables and checks after each one that every reference that
// resolved before still reaches the same step.
func TestMutations_PreserveTargets(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 300; trial++ {
		p := newTestPipeline(t, NewRegistry())
		n := 3 + rng.Intn(5)
		for i := 0; i < n; i++ {
			addStep(t, p, StepConfig{
				Enabled:  rng.Intn(4) != 0,
				InputRef: randomRef(rng, n),
				AuxRefs:  []AuxRef{{Name: "aux", Ref: randomRef(rng, n)}},
			})
		}

		var history []string
		steps := 2 + rng.Intn(6)
		for i := 0; i < steps && p.Len() > 1; i++ {
			before := targetsByID(p)
			deleted, op := randomMutation(t, rng, p)
			history = append(history, op)

			after := targetsByID(p)
			for key, want := range before {
				if want.owner == deleted || want.target == deleted {
					continue
				}
				if got, ok := after[key]; !ok || got.target != want.target {
					t.Fatalf("trial %d %v: %s pointed at %s, now %+v", trial, history, key, want.target, got)
				}
			}
		}
	}
}

// randomMutation inserts, moves or deletes a random row. It returns the id
// of a deleted step, if any, and a description of the mutation.
func randomMutation(t *testing.T, rng *rand.Rand, p *Pipeline) (string, string) {
	t.Helper()
	n := p.Len()
	switch rng.Intn(3) {
	case 0:
		at := rng.Intn(n+1) - 1
		if _, err := p.InsertRow(at); err != nil {
			t.Fatal(err)
		}
		return "", fmt.Sprintf("insert(%d)", at)
	case 1:
		from, to := rng.Intn(n), rng.Intn(n)
		if err := p.MoveRow(from, to); err != nil {
			t.Fatal(err)
		}
		return "", fmt.Sprintf("move(%d,%d)", from, to)
	default:
		row := rng.Intn(n)
		deleted := mustStep(t, p, row).ID
		if err := p.DeleteRow(row); err != nil {
			t.Fatal(err)
		}
		return deleted, fmt.Sprintf("delete(%d)", row)
	}
}

type refTarget struct {
	owner  string
	target string
}

func targetsByID(p *Pipeline) map[string]refTarget {
	enabled := enabledOf(p)
	out := make(map[string]refTarget)
	for row, info := range p.Steps() {
		refs := map[string]string{"input": info.Config.InputRef}
		for _, aux := range info.Config.AuxRefs {
			refs["aux:"+aux.Name] = aux.Ref
		}
		for slot, ref := range refs {
			tgt, err := Resolve(ref, row, enabled)
			if err != nil || tgt.IsNamed() {
				continue
			}
			out[info.ID+"/"+slot] = refTarget{owner: info.ID, target: p.Steps()[tgt.Row].ID}
		}
	}
	return out
}

func randomRef(rng *rand.Rand, n int) string {
	switch rng.Intn(4) {
	case 0:
		return fmt.Sprintf("$%d", 1+rng.Intn(n))
	case 1, 2:
		return fmt.Sprintf("%d", rng.Intn(7)-3)
	default:
		return "named"
	}
}

func enabledOf(p *Pipeline) []bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabledLocked()
}

func mustStep(t *testing.T, p *Pipeline, row int) StepInfo {
	t.Helper()
	info, err := p.Step(row)
	if err != nil {
		t.Fatalf("Step(%d) error = %v", row, err)
	}
	return info
}

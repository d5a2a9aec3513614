package pipeline

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/rowflow/pipeline/emit"
)

// RefTransform rewrites a row reference across a table mutation. owner is
// the pre-mutation row holding the reference; ref is N for "$N" and k for
// a relative reference. It returns the new value, or false when the
// reference must be cleared.
type RefTransform func(absolute bool, owner, ref int) (int, bool)

// NewRefTransform builds the transform of a mutation from the enabled flags
// before and after it and the old-to-new row mapping (-1 for deleted rows).
//
// A reference keeps pointing at the same step. A reference to a deleted
// step moves to the nearest surviving enabled row above it, other than the
// owner, and is cleared when there is none. References that did not resolve
// before the mutation are left alone.
func NewRefTransform(oldEnabled, newEnabled []bool, mapping []int) RefTransform {
	return func(absolute bool, owner, ref int) (int, bool) {
		s := formatRelative(ref)
		if absolute {
			s = "$" + strconv.Itoa(ref)
		}
		t, err := Resolve(s, owner, oldEnabled)
		if err != nil || owner < 0 || owner >= len(mapping) || mapping[owner] < 0 {
			return ref, true
		}
		newOwner := mapping[owner]

		target := mapping[t.Row]
		if target < 0 {
			for r := t.Row - 1; r >= 0; r-- {
				if r != owner && oldEnabled[r] && mapping[r] >= 0 {
					target = mapping[r]
					break
				}
			}
			if target < 0 {
				return 0, false
			}
		}

		if absolute {
			if nt, err := Resolve(s, newOwner, newEnabled); err == nil && nt.Row == target {
				return ref, true
			}
			return target + 1, true
		}
		return relativeDistance(newOwner, target, newEnabled), true
	}
}

// rewriteRef applies tf to a reference string. Names and empty or
// malformed references come back unchanged.
func rewriteRef(ref string, owner int, tf RefTransform) string {
	trimmed := strings.TrimSpace(ref)
	absolute, n, ok := parseRowRef(trimmed)
	if !ok {
		return ref
	}
	v, keep := tf(absolute, owner, n)
	if !keep {
		return ""
	}
	if v == n {
		return ref
	}
	if absolute {
		return "$" + strconv.Itoa(v)
	}
	return formatRelative(v)
}

func (c *StepConfig) rewrite(owner int, tf RefTransform) {
	c.InputRef = rewriteRef(c.InputRef, owner, tf)
	c.OutputRef = rewriteRef(c.OutputRef, owner, tf)
	for i := range c.AuxRefs {
		c.AuxRefs[i].Ref = rewriteRef(c.AuxRefs[i].Ref, owner, tf)
	}
}

// reshapeLocked rewrites every surviving reference for the mapping, then
// rebuilds the row slice and renumbers positions. added, when non-nil, is
// placed at addedAt. p.mu must be held for writing.
func (p *Pipeline) reshapeLocked(mapping []int, newLen int, added *Step, addedAt int) {
	oldEnabled := p.enabledLocked()

	next := make([]*Step, newLen)
	for i, st := range p.steps {
		if mapping[i] >= 0 {
			next[mapping[i]] = st
		}
	}
	if added != nil {
		next[addedAt] = added
	}
	newEnabled := make([]bool, newLen)
	for i, st := range next {
		newEnabled[i] = st.cfg.Enabled
	}

	tf := NewRefTransform(oldEnabled, newEnabled, mapping)
	for i, st := range p.steps {
		if mapping[i] >= 0 {
			st.cfg.rewrite(i, tf)
		}
	}

	p.steps = next
	for i, st := range p.steps {
		st.position = i
	}
}

// InsertRow adds an empty, enabled row after row at (-1 prepends) and
// returns the id of the new step.
func (p *Pipeline) InsertRow(at int) (string, error) {
	p.mu.Lock()
	n := len(p.steps)
	if at < -1 || at >= n {
		p.mu.Unlock()
		return "", rowOutOfRange("insert row", at, n)
	}
	pos := at + 1
	mapping := make([]int, n)
	for i := range mapping {
		mapping[i] = i
		if i >= pos {
			mapping[i] = i + 1
		}
	}
	st := newStep(uuid.NewString(), pos)
	p.reshapeLocked(mapping, n+1, st, pos)
	p.mu.Unlock()

	p.emit(pos, st.id, emit.MsgRowInserted, nil)
	return st.id, nil
}

// DeleteRow removes a row. Its running or queued request is interrupted,
// its processor unbound, and references to it are redirected.
func (p *Pipeline) DeleteRow(row int) error {
	p.mu.Lock()
	n := len(p.steps)
	if row < 0 || row >= n {
		p.mu.Unlock()
		return rowOutOfRange("delete row", row, n)
	}
	st := p.steps[row]
	mapping := make([]int, n)
	for i := range mapping {
		switch {
		case i < row:
			mapping[i] = i
		case i == row:
			mapping[i] = -1
		default:
			mapping[i] = i - 1
		}
	}
	p.reshapeLocked(mapping, n-1, nil, 0)
	st.position = -1
	proc := st.proc
	p.mu.Unlock()

	st.state.interrupt()
	p.releaseNames(st)
	if proc != nil {
		proc.ClearInputs()
		proc.ClearOutputs()
	}
	p.emit(row, st.id, emit.MsgRowDeleted, nil)
	return nil
}

// MoveRow moves the row at from so that it ends up at index to.
func (p *Pipeline) MoveRow(from, to int) error {
	p.mu.Lock()
	n := len(p.steps)
	if from < 0 || from >= n {
		p.mu.Unlock()
		return rowOutOfRange("move row", from, n)
	}
	if to < 0 || to >= n {
		p.mu.Unlock()
		return rowOutOfRange("move row", to, n)
	}
	st := p.steps[from]
	if from == to {
		p.mu.Unlock()
		return nil
	}

	order := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i != from {
			order = append(order, i)
		}
	}
	order = append(order[:to], append([]int{from}, order[to:]...)...)
	mapping := make([]int, n)
	for newIdx, oldIdx := range order {
		mapping[oldIdx] = newIdx
	}
	p.reshapeLocked(mapping, n, nil, 0)
	p.mu.Unlock()

	p.emit(to, st.id, emit.MsgRowMoved, map[string]interface{}{"from": from, "to": to})
	return nil
}

package pipeline

import (
	"strconv"
	"strings"
)

// Target is the result of resolving a reference: a row, or a named
// resource when Name is set.
type Target struct {
	Row  int
	Name string
}

// IsNamed reports whether the target is a named resource rather than a row.
func (t Target) IsNamed() bool {
	return t.Name != ""
}

// Resolve maps a reference string to its target.
//
//   - "$N" is the absolute row N-1. A disabled target falls back to the
//     nearest enabled row above it.
//   - A signed integer k walks |k| enabled rows from fromRow, upward for a
//     negative k. Zero is fromRow itself.
//   - Anything else is a resource name, returned verbatim.
//
// enabled holds one flag per row; disabled rows are never counted and never
// a target.
func Resolve(ref string, fromRow int, enabled []bool) (Target, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Target{}, &ReferenceError{Ref: ref, Row: fromRow, Reason: "reference not set"}
	}

	absolute, n, ok := parseRowRef(ref)
	if !ok {
		if strings.HasPrefix(ref, "$") {
			return Target{}, &ReferenceError{Ref: ref, Row: fromRow, Reason: "absolute reference is not a positive integer"}
		}
		return Target{Row: -1, Name: ref}, nil
	}

	if absolute {
		row := n - 1
		if row < 0 || row >= len(enabled) {
			return Target{}, &ReferenceError{Ref: ref, Row: fromRow, Reason: "absolute reference out of range"}
		}
		for row >= 0 && !enabled[row] {
			row--
		}
		if row < 0 {
			return Target{}, &ReferenceError{Ref: ref, Row: fromRow, Reason: "absolute reference invalid because of inactive steps"}
		}
		return Target{Row: row}, nil
	}

	if n == 0 {
		return Target{Row: fromRow}, nil
	}
	row, ok := walkEnabled(fromRow, n, enabled)
	if !ok {
		return Target{}, &ReferenceError{Ref: ref, Row: fromRow, Reason: "relative reference invalid"}
	}
	return Target{Row: row}, nil
}

// walkEnabled moves |k| enabled rows away from row in the direction of k.
func walkEnabled(row, k int, enabled []bool) (int, bool) {
	dir := 1
	if k < 0 {
		dir, k = -1, -k
	}
	for k > 0 {
		row += dir
		if row < 0 || row >= len(enabled) {
			return 0, false
		}
		if enabled[row] {
			k--
		}
	}
	return row, true
}

// parseRowRef recognises "$N" and signed integers.
func parseRowRef(ref string) (absolute bool, n int, ok bool) {
	if rest, found := strings.CutPrefix(ref, "$"); found {
		v, err := strconv.Atoi(rest)
		if err != nil || v < 1 || strings.HasPrefix(rest, "+") {
			return true, 0, false
		}
		return true, v, true
	}
	v, err := strconv.Atoi(ref)
	if err != nil {
		return false, 0, false
	}
	return false, v, true
}

func formatAbsolute(row int) string {
	return "$" + strconv.Itoa(row+1)
}

func formatRelative(k int) string {
	return strconv.Itoa(k)
}

// relativeDistance counts the enabled rows between owner and target, signed.
// Target itself must be enabled or equal to owner.
func relativeDistance(owner, target int, enabled []bool) int {
	if target == owner {
		return 0
	}
	dir := 1
	if target < owner {
		dir = -1
	}
	k := 0
	for r := owner + dir; ; r += dir {
		if enabled[r] {
			k++
		}
		if r == target {
			break
		}
	}
	return k * dir
}

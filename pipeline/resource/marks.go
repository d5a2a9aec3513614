package resource

import (
	"fmt"
	"regexp"
	"strconv"
)

// Incrementation marks are decimal numbers in braces inside a name, e.g.
// "scan_{007}.json". A batch run increments them between iterations.
var markPattern = regexp.MustCompile(`\{(\d+)\}`)

// HasMarks reports whether s contains an incrementation mark.
func HasMarks(s string) bool {
	return markPattern.MatchString(s)
}

// StripMarks removes the braces of every mark: "scan_{007}.json" becomes
// "scan_007.json".
func StripMarks(s string) string {
	return markPattern.ReplaceAllString(s, "$1")
}

// IncrementMarks adds one to every mark in s, keeping zero padding:
// "scan_{007}.json" becomes "scan_{008}.json". It reports whether s had any
// mark.
func IncrementMarks(s string) (string, bool) {
	found := false
	out := markPattern.ReplaceAllStringFunc(s, func(m string) string {
		found = true
		digits := m[1 : len(m)-1]
		n, err := strconv.Atoi(digits)
		if err != nil {
			return m
		}
		return fmt.Sprintf("{%0*d}", len(digits), n+1)
	})
	return out, found
}

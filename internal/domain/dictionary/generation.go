package dictionary

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Generation is the raw LLM answer for a dictionary request.
type Generation struct {
	Columns      []string `json:"columns"`
	Descriptions []string `json:"descriptions"`
}

// Violations lists the reasons a Generation was rejected.
type Violations []string

func (v Violations) Error() string { return strings.Join(v, "; ") }

// OK reports whether there are no violations.
func (v Violations) OK() bool { return len(v) == 0 }

// ValidateGeneration checks an LLM dictionary answer. A non-empty result is a
// retryable generation failure, never a fatal one.
func ValidateGeneration(g Generation) Violations {
	var v Violations

	if len(g.Columns) == 0 {
		v = append(v, "columns list cannot be empty")
	}
	seen := make(map[string]bool, len(g.Columns))
	dup := false
	for _, c := range g.Columns {
		if c == "" {
			v = append(v, "each column name must be a non-empty string")
			continue
		}
		if seen[c] && !dup {
			v = append(v, "duplicate column names are not allowed")
			dup = true
		}
		seen[c] = true
	}

	if len(g.Descriptions) != len(g.Columns) {
		v = append(v, fmt.Sprintf("number of descriptions (%d) must match number of columns (%d)", len(g.Descriptions), len(g.Columns)))
	}
	for i, d := range g.Descriptions {
		if d == "" {
			v = append(v, fmt.Sprintf("description %d must be a non-empty string", i))
			continue
		}
		if utf8.RuneCountInString(strings.TrimSpace(d)) < MinDescriptionLength {
			v = append(v, fmt.Sprintf("description %d must be at least %d characters long", i, MinDescriptionLength))
		}
	}
	return v
}

// Map returns column -> description. Call only on a validated Generation.
func (g Generation) Map() map[string]string {
	out := make(map[string]string, len(g.Columns))
	for i, c := range g.Columns {
		if i < len(g.Descriptions) {
			out[c] = g.Descriptions[i]
		}
	}
	return out
}

package ir

import (
	"fmt"
	"strings"
)

// Difference is one structural mismatch between two values.
// A nil Expected or Observed means the element is absent on that side.
type Difference struct {
	Path     string `json:"path"`
	Expected Value  `json:"-"`
	Observed Value  `json:"-"`
}

func (d Difference) String() string {
	path := d.Path
	if path == "" {
		path = "."
	}
	return fmt.Sprintf("%s: expected %s, observed %s", path, Format(d.Expected), Format(d.Observed))
}

// Diff returns the structural differences between expected and observed,
// rooted at path "". Equal values produce nil.
//
// Records descend by field, maps by key, sequences by index (trailing
// elements reported as absent), sets report missing and unexpected members.
// Any kind mismatch or scalar mismatch is reported at the current path.
func Diff(expected, observed Value) []Difference {
	var out []Difference
	diffInto(&out, "", expected, observed)
	return out
}

func diffInto(out *[]Difference, path string, a, b Value) {
	if Equal(a, b) {
		return
	}
	if a == nil || b == nil || a.Kind() != b.Kind() {
		*out = append(*out, Difference{Path: path, Expected: a, Observed: b})
		return
	}

	switch x := a.(type) {
	case Record:
		y := b.(Record)
		for _, name := range unionNames(x, y) {
			diffInto(out, path+"."+name, x.fields[name], y.fields[name])
		}
	case Map:
		y := b.(Map)
		seen := make(map[string]bool, len(x.entries))
		for _, e := range x.entries {
			seen[Key(e.Key)] = true
			ov, _ := y.Get(e.Key)
			diffInto(out, path+"["+Format(e.Key)+"]", e.Value, ov)
		}
		for _, e := range y.entries {
			if !seen[Key(e.Key)] {
				diffInto(out, path+"["+Format(e.Key)+"]", nil, e.Value)
			}
		}
	case Seq:
		y := b.(Seq)
		n := max(len(x.elems), len(y.elems))
		for i := 0; i < n; i++ {
			var ev, ov Value
			if i < len(x.elems) {
				ev = x.elems[i]
			}
			if i < len(y.elems) {
				ov = y.elems[i]
			}
			diffInto(out, fmt.Sprintf("%s[%d]", path, i), ev, ov)
		}
	case Set:
		y := b.(Set)
		for _, e := range x.elems {
			if !y.Contains(e) {
				*out = append(*out, Difference{Path: path + "{" + Format(e) + "}", Expected: e})
			}
		}
		for _, e := range y.elems {
			if !x.Contains(e) {
				*out = append(*out, Difference{Path: path + "{" + Format(e) + "}", Observed: e})
			}
		}
	default:
		*out = append(*out, Difference{Path: path, Expected: a, Observed: b})
	}
}

func unionNames(a, b Record) []string {
	names := a.Names()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, n := range b.Names() {
		if !seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// FormatDifferences renders differences one per line.
func FormatDifferences(diffs []Difference) string {
	lines := make([]string, len(diffs))
	for i, d := range diffs {
		lines[i] = d.String()
	}
	return strings.Join(lines, "\n")
}

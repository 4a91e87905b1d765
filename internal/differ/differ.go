// Package differ determines which action fired between two trace states.
//
// Traces that declare an action variable name their actions explicitly and
// the differ reads them back. Otherwise the differ computes the delta between
// consecutive states and matches it against the declared action signatures.
// An inferred match must be unique; the differ never guesses.
package differ

import (
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/trace"
)

// Mode is the attribution policy of a trace.
type Mode string

const (
	Explicit Mode = "explicit"
	Inferred Mode = "inferred"
)

// Delta is the structural change between two states.
type Delta struct {
	Changed []string
	Added   []string
	Removed []string

	// Differences holds the nested differences of each changed variable.
	Differences map[string][]ir.Difference
}

// Vars returns every variable touched by the delta.
func (d Delta) Vars() []string {
	out := make([]string, 0, len(d.Changed)+len(d.Added)+len(d.Removed))
	out = append(out, d.Changed...)
	out = append(out, d.Added...)
	out = append(out, d.Removed...)
	return out
}

// Empty reports whether the states are identical.
func (d Delta) Empty() bool {
	return len(d.Changed)+len(d.Added)+len(d.Removed) == 0
}

// Action is the attributed transition into state Step.
type Action struct {
	Step   int
	Name   string
	Params ir.Record
	Delta  Delta
}

// AmbiguousActionError reports a delta compatible with several actions.
type AmbiguousActionError struct {
	Step       int
	Candidates []string
	Changed    []string
}

func (e *AmbiguousActionError) Error() string {
	return fmt.Sprintf("step %d: change of [%s] is compatible with actions %s",
		e.Step, strings.Join(e.Changed, ", "), strings.Join(e.Candidates, ", "))
}

// Differ attributes steps for one trace.
type Differ struct {
	meta trace.Metadata
	mode Mode
}

// New selects the policy from the trace metadata: explicit when an action
// variable is declared, inferred otherwise.
func New(meta trace.Metadata) *Differ {
	mode := Inferred
	if meta.Explicit() {
		mode = Explicit
	}
	return &Differ{meta: meta, mode: mode}
}

// Mode returns the policy in use.
func (d *Differ) Mode() Mode { return d.mode }

// Step attributes the transition from prev to cur.
//
// The initial state never fires an action, so cur must not be state 0.
func (d *Differ) Step(prev, cur trace.State) (Action, error) {
	if cur.Index == 0 {
		return Action{}, fmt.Errorf("differ: the initial state has no action")
	}
	delta := Compute(prev, cur, d.meta.ActionVariable)

	if d.mode == Explicit {
		name, params, err := d.explicit(cur)
		if err != nil {
			return Action{}, err
		}
		return Action{Step: cur.Index, Name: name, Params: params, Delta: delta}, nil
	}

	sig, err := d.match(cur.Index, delta)
	if err != nil {
		return Action{}, err
	}
	params, err := inferParams(cur, sig, delta, d.meta.Variables)
	if err != nil {
		return Action{}, err
	}
	return Action{Step: cur.Index, Name: sig.Name, Params: params, Delta: delta}, nil
}

// Walk attributes every step of tr in order. Iteration ends at the first
// error.
func (d *Differ) Walk(tr *trace.Trace) iter.Seq2[Action, error] {
	return func(yield func(Action, error) bool) {
		var prev trace.State
		first := true
		for st, err := range tr.States() {
			if err != nil {
				yield(Action{}, err)
				return
			}
			if first {
				prev, first = st, false
				continue
			}
			act, err := d.Step(prev, st)
			if !yield(act, err) || err != nil {
				return
			}
			prev = st
		}
	}
}

// explicit reads the action variable of cur. Accepted encodings are a bare
// action name or a variant record {"tag": name, "value": params}.
func (d *Differ) explicit(cur trace.State) (string, ir.Record, error) {
	field := d.meta.ActionVariable
	v, ok := cur.Get(field)
	if !ok {
		return "", ir.Record{}, &trace.FormatError{Step: cur.Index, Field: field, Message: "action variable is missing"}
	}

	var (
		name   string
		params = ir.NewRecord(nil)
	)
	switch val := v.(type) {
	case ir.String:
		name = string(val)
	case ir.Record:
		tag, ok := val.Get("tag")
		s, isString := tag.(ir.String)
		if !ok || !isString {
			return "", ir.Record{}, &trace.FormatError{Step: cur.Index, Field: field, Message: "variant record requires a string tag"}
		}
		name = string(s)
		if inner, ok := val.Get("value"); ok {
			switch p := inner.(type) {
			case ir.Record:
				params = p
			case ir.Seq:
				// Quint encodes the unit payload as an empty tuple.
				if p.Len() != 0 {
					return "", ir.Record{}, &trace.FormatError{Step: cur.Index, Field: field, Message: "action payload must be a record"}
				}
			default:
				return "", ir.Record{}, &trace.FormatError{Step: cur.Index, Field: field, Message: "action payload must be a record"}
			}
		}
	default:
		return "", ir.Record{}, &trace.FormatError{
			Step:    cur.Index,
			Field:   field,
			Message: fmt.Sprintf("expected action name or variant record, found %s", v.Kind()),
		}
	}

	if _, ok := d.meta.Action(name); !ok {
		return "", ir.Record{}, &trace.FormatError{
			Step:    cur.Index,
			Field:   field,
			Message: fmt.Sprintf("action %q is not declared", name),
		}
	}
	return name, params, nil
}

// match finds the unique signature compatible with delta. A signature is
// compatible when every touched variable is in its Writes. Signatures with
// no Writes match only steps that change nothing.
func (d *Differ) match(step int, delta Delta) (trace.ActionSig, error) {
	touched := delta.Vars()
	var candidates []trace.ActionSig
	for _, sig := range d.meta.Actions {
		if compatible(sig, touched) {
			candidates = append(candidates, sig)
		}
	}

	switch len(candidates) {
	case 1:
		return candidates[0], nil
	case 0:
		what := "no change"
		if len(touched) > 0 {
			what = "change of [" + strings.Join(touched, ", ") + "]"
		}
		return trace.ActionSig{}, &trace.FormatError{
			Step:    step,
			Message: fmt.Sprintf("no declared action accounts for %s", what),
		}
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		return trace.ActionSig{}, &AmbiguousActionError{Step: step, Candidates: names, Changed: touched}
	}
}

func compatible(sig trace.ActionSig, touched []string) bool {
	if len(touched) == 0 {
		return len(sig.Writes) == 0
	}
	for _, v := range touched {
		if !sig.MayWrite(v) {
			return false
		}
	}
	return true
}

// inferParams builds the abstract parameters of an inferred action.
//
// Without declared parameters, the params are the post-state values of the
// touched variables. Declared parameter P is read from a changed variable
// named P, or else from field P of the first record-valued changed variable
// in declaration order.
func inferParams(cur trace.State, sig trace.ActionSig, delta Delta, order []string) (ir.Record, error) {
	touched := delta.Vars()
	if len(sig.Params) == 0 {
		fields := make(map[string]ir.Value, len(touched))
		for _, name := range touched {
			if v, ok := cur.Get(name); ok {
				fields[name] = v
			}
		}
		return ir.NewRecord(fields), nil
	}

	var records []ir.Record
	for _, name := range order {
		if !slices.Contains(touched, name) {
			continue
		}
		if r, ok := cur.Vars[name].(ir.Record); ok {
			records = append(records, r)
		}
	}

	fields := make(map[string]ir.Value, len(sig.Params))
	for _, p := range sig.Params {
		if slices.Contains(touched, p.Name) {
			if v, ok := cur.Get(p.Name); ok {
				fields[p.Name] = v
				continue
			}
		}
		found := false
		for _, r := range records {
			if v, ok := r.Get(p.Name); ok {
				fields[p.Name] = v
				found = true
				break
			}
		}
		if !found {
			return ir.Record{}, &trace.FormatError{
				Step:    cur.Index,
				Message: fmt.Sprintf("cannot infer parameter %q of action %q", p.Name, sig.Name),
			}
		}
	}
	return ir.NewRecord(fields), nil
}

// Compute returns the delta from prev to cur, ignoring the variable named
// skip (the action variable in explicit traces).
func Compute(prev, cur trace.State, skip string) Delta {
	delta := Delta{Differences: make(map[string][]ir.Difference)}

	names := make(map[string]bool, len(prev.Vars)+len(cur.Vars))
	for k := range prev.Vars {
		names[k] = true
	}
	for k := range cur.Vars {
		names[k] = true
	}
	delete(names, skip)

	for _, name := range slices.Sorted(maps.Keys(names)) {
		before, hadBefore := prev.Vars[name]
		after, hasAfter := cur.Vars[name]
		switch {
		case !hadBefore:
			delta.Added = append(delta.Added, name)
		case !hasAfter:
			delta.Removed = append(delta.Removed, name)
		default:
			if diffs := ir.Diff(before, after); len(diffs) > 0 {
				delta.Changed = append(delta.Changed, name)
				delta.Differences[name] = diffs
			}
		}
	}
	return delta
}

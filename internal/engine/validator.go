package engine

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/roach88/kraft/internal/binding"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/target"
	"github.com/roach88/kraft/internal/trace"
)

// Validation failure reasons.
const (
	ReasonMismatch      = "mismatch"
	ReasonMissing       = "missing from observed state"
	ReasonUnknownHandle = "unknown handle"
)

// ValidationError reports the first field whose projected observed value
// differs from the trace.
type ValidationError struct {
	Step     int
	Field    string
	Expected ir.Value
	// Observed is the projected value, or the raw value when projection
	// failed.
	Observed    ir.Value
	Differences []ir.Difference
	Reason      string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("step %d: %s: %s", e.Step, e.Field, e.Reason)
	if len(e.Differences) > 0 {
		msg += "\n" + ir.FormatDifferences(e.Differences)
	}
	return msg
}

// Diff renders expected and observed as a unified diff of their indented
// tagged JSON.
func (e *ValidationError) Diff() string {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(indented(e.Expected)),
		B:        difflib.SplitLines(indented(e.Observed)),
		FromFile: "expected/" + e.Field,
		ToFile:   "observed/" + e.Field,
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err.Error()
	}
	return out
}

func indented(v ir.Value) string {
	if v == nil {
		return "<absent>\n"
	}
	data, err := json.MarshalIndent(ir.ToTree(v), "", "  ")
	if err != nil {
		return ir.Format(v) + "\n"
	}
	return string(data) + "\n"
}

// Projector maps handles back to abstract identifiers.
// Implemented by *binding.Resolver.
type Projector interface {
	Project(h ir.Handle) (ir.Value, error)
}

// Validator compares observed state with expected trace states.
type Validator struct {
	vars []string
	proj Projector
}

// NewValidator creates a validator for the given variables.
func NewValidator(vars []string, proj Projector) *Validator {
	return &Validator{vars: vars, proj: proj}
}

// Variables returns the validated variables.
func (v *Validator) Variables() []string { return v.vars }

// Validate checks every validated variable of expected against observed,
// in declaration order, and reports the first failure.
//
// Each step is checked on its own; nothing carries over between steps
// except the bindings themselves.
func (v *Validator) Validate(step int, expected trace.State, observed target.Observed) error {
	for _, field := range v.vars {
		want, ok := expected.Get(field)
		if !ok {
			return fmt.Errorf("validate step %d: trace state has no variable %q", step, field)
		}

		raw, ok := observed[field]
		if !ok {
			return &ValidationError{Step: step, Field: field, Expected: want, Reason: ReasonMissing}
		}

		got, err := Project(raw, v.proj)
		if err != nil {
			reason := err.Error()
			if errors.Is(err, binding.ErrUnknownHandle) {
				reason = ReasonUnknownHandle + " (" + reason + ")"
			}
			return &ValidationError{Step: step, Field: field, Expected: want, Observed: raw, Reason: reason}
		}

		if !ir.Equal(want, got) {
			return &ValidationError{
				Step:        step,
				Field:       field,
				Expected:    want,
				Observed:    got,
				Differences: ir.Diff(want, got),
				Reason:      ReasonMismatch,
			}
		}
	}
	return nil
}

// Project replaces every handle in v with its identifier.
func Project(v ir.Value, proj Projector) (ir.Value, error) {
	return ir.TransformLeaves(v, func(leaf ir.Value) (ir.Value, error) {
		h, ok := leaf.(ir.Handle)
		if !ok {
			return leaf, nil
		}
		return proj.Project(h)
	})
}

package trace

import (
	"bytes"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/kraft/internal/ir"
)

// ParamKind classifies an action parameter.
type ParamKind string

const (
	// ParamID marks a parameter whose value holds abstract identifiers that
	// must be resolved to concrete handles before dispatch.
	ParamID ParamKind = "id"

	// ParamValue marks a parameter passed to the handler unchanged.
	ParamValue ParamKind = "value"
)

// ParamSig declares one parameter of an action.
type ParamSig struct {
	Name string    `json:"name"`
	Kind ParamKind `json:"kind"`
}

// ActionSig declares an action the trace may perform.
//
// Writes lists the state variables the action may change. It is required
// for traces without an action variable, where the action of each step is
// inferred from which variables changed.
type ActionSig struct {
	Name   string     `json:"name"`
	Params []ParamSig `json:"params,omitempty"`
	Writes []string   `json:"writes,omitempty"`
}

// Param returns the named parameter declaration.
func (a ActionSig) Param(name string) (ParamSig, bool) {
	for _, p := range a.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSig{}, false
}

// MayWrite reports whether the action declares variable in Writes.
func (a ActionSig) MayWrite(variable string) bool {
	return slices.Contains(a.Writes, variable)
}

// Metadata is the decoded "#meta" object plus the document's variable list.
type Metadata struct {
	Format         string      `json:"format,omitempty"`
	Description    string      `json:"description,omitempty"`
	Source         string      `json:"source,omitempty"`
	Actions        []ActionSig `json:"actions"`
	ActionVariable string      `json:"action_variable,omitempty"`
	Validate       []string    `json:"validate,omitempty"`

	// Variables is the document-level "vars" list, in declaration order.
	Variables []string `json:"-"`
}

// Action returns the declared signature with the given name.
func (m Metadata) Action(name string) (ActionSig, bool) {
	for _, a := range m.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionSig{}, false
}

// ActionNames returns the declared action names in declaration order.
func (m Metadata) ActionNames() []string {
	names := make([]string, len(m.Actions))
	for i, a := range m.Actions {
		names[i] = a.Name
	}
	return names
}

// Explicit reports whether each state names its action through the action
// variable. Otherwise actions are inferred from state deltas.
func (m Metadata) Explicit() bool {
	return m.ActionVariable != ""
}

// Validated returns the variables compared against the target after each
// step: Validate when set, otherwise every variable except the action
// variable.
func (m Metadata) Validated() []string {
	if len(m.Validate) > 0 {
		return slices.Clone(m.Validate)
	}
	out := make([]string, 0, len(m.Variables))
	for _, v := range m.Variables {
		if v != m.ActionVariable {
			out = append(out, v)
		}
	}
	return out
}

// State is one abstract state of a trace.
type State struct {
	// Index is the position of the state in the document, starting at 0.
	Index int

	// Vars holds every declared variable.
	Vars map[string]ir.Value

	// Meta is the state's "#meta" object, if any. It is never validated.
	Meta map[string]any
}

// Get returns the named variable.
func (s State) Get(name string) (ir.Value, bool) {
	v, ok := s.Vars[name]
	return v, ok
}

// Source provides repeatable access to trace bytes.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

type fileSource string

// FileSource reads a trace from a file. The trace name is the file name
// without its ".json" or ".itf.json" extension.
func FileSource(path string) Source { return fileSource(path) }

func (f fileSource) Name() string {
	base := strings.TrimSuffix(filepath.Base(string(f)), ".json")
	return strings.TrimSuffix(base, ".itf")
}

func (f fileSource) Open() (io.ReadCloser, error) { return os.Open(string(f)) }

type bytesSource struct {
	name string
	data []byte
}

// BytesSource reads a trace from memory. The slice is not copied and must
// not be modified afterwards.
func BytesSource(name string, data []byte) Source {
	return bytesSource{name: name, data: data}
}

func (b bytesSource) Name() string { return b.name }

func (b bytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.data)), nil
}

// Trace is a validated trace document.
type Trace struct {
	name   string
	meta   Metadata
	digest string
	length int
	src    Source
}

// Name identifies the trace in logs, records and artifacts.
func (t *Trace) Name() string { return t.name }

// Metadata returns the trace metadata.
func (t *Trace) Metadata() Metadata { return t.meta }

// Digest is the hex SHA-256 of the source bytes.
func (t *Trace) Digest() string { return t.digest }

// Len returns the number of states.
func (t *Trace) Len() int { return t.length }

// States iterates the states in document order. Each call re-reads the
// source. A non-nil error ends the sequence.
func (t *Trace) States() iter.Seq2[State, error] {
	return func(yield func(State, error) bool) {
		rc, err := t.src.Open()
		if err != nil {
			yield(State{}, err)
			return
		}
		defer rc.Close()

		_, err = scan(rc, func(idx int, raw []byte) error {
			st, err := decodeState(t.meta, idx, raw)
			if err != nil {
				return err
			}
			if !yield(st, nil) {
				return errStop
			}
			return nil
		})
		if err != nil && err != errStop {
			yield(State{}, err)
		}
	}
}


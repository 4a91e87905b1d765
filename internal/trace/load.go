package trace

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"github.com/roach88/kraft/internal/ir"
)

//go:embed meta.schema.json
var metaSchemaJSON []byte

var metaSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(metaSchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile trace metadata schema: %w", err)
	}
	return schema, nil
})

// errStop ends a scan early when the consumer stops iterating.
var errStop = errors.New("trace: iteration stopped")

// Load opens and validates the trace file at path.
func Load(path string) (*Trace, error) {
	return Open(FileSource(path))
}

// Parse validates a trace held in memory.
func Parse(name string, data []byte) (*Trace, error) {
	return Open(BytesSource(name, data))
}

// Open validates the trace provided by src.
//
// The source is read twice: once for the metadata and digest, and once to
// decode and check every state. Neither pass retains states.
func Open(src Source) (*Trace, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open trace %s: %w", src.Name(), err)
	}
	hasher := sha256.New()
	hdr, err := scan(io.TeeReader(rc, hasher), nil)
	rc.Close()
	if err != nil {
		return nil, err
	}

	meta, err := parseMetadata(hdr)
	if err != nil {
		return nil, err
	}

	t := &Trace{
		name:   src.Name(),
		meta:   meta,
		digest: hex.EncodeToString(hasher.Sum(nil)),
		length: hdr.states,
		src:    src,
	}
	for _, err := range t.States() {
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FromStates builds a trace from in-memory states. When meta.Variables is
// empty the variables of the first state are used, sorted by name.
func FromStates(name string, meta Metadata, states ...map[string]ir.Value) (*Trace, error) {
	vars := meta.Variables
	if len(vars) == 0 && len(states) > 0 {
		vars = slices.Sorted(maps.Keys(states[0]))
	}
	if meta.Actions == nil {
		meta.Actions = []ActionSig{}
	}

	nodes := make([]any, len(states))
	for i, st := range states {
		obj := make(map[string]any, len(st)+1)
		obj["#meta"] = map[string]any{"index": i}
		for k, v := range st {
			obj[k] = ir.ToTree(v)
		}
		nodes[i] = obj
	}

	data, err := json.Marshal(map[string]any{
		"#meta":  meta,
		"vars":   vars,
		"states": nodes,
	})
	if err != nil {
		return nil, fmt.Errorf("encode trace %s: %w", name, err)
	}
	return Parse(name, data)
}

type header struct {
	meta      json.RawMessage
	vars      []string
	hasVars   bool
	hasStates bool
	states    int
}

// scan walks the top-level document object. Each element of "states" is
// handed to onState as raw JSON; a nil onState skips them.
func scan(r io.Reader, onState func(idx int, raw []byte) error) (header, error) {
	var h header
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectDelim(dec, '{'); err != nil {
		return h, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return h, syntaxError(err)
		}
		key, _ := tok.(string)

		switch key {
		case "#meta":
			if err := dec.Decode(&h.meta); err != nil {
				return h, syntaxError(err)
			}
		case "vars":
			if err := dec.Decode(&h.vars); err != nil {
				return h, docError("vars", "expected an array of strings: %v", err)
			}
			h.hasVars = true
		case "states":
			if err := expectDelim(dec, '['); err != nil {
				return h, err
			}
			n := 0
			for dec.More() {
				var raw json.RawMessage
				if err := dec.Decode(&raw); err != nil {
					return h, syntaxError(err)
				}
				if onState != nil {
					if err := onState(n, raw); err != nil {
						return h, err
					}
				}
				n++
			}
			if err := expectDelim(dec, ']'); err != nil {
				return h, err
			}
			h.states = n
			h.hasStates = true
		default:
			// ITF documents may carry "params" and "loop"; they are not replayed.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return h, syntaxError(err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return h, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return h, docError("", "unexpected data after the document")
	}
	return h, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return syntaxError(err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return docError("", "expected %q, found %v", want, tok)
	}
	return nil
}

func syntaxError(err error) error {
	return &FormatError{Step: DocumentStep, Message: "invalid JSON", Err: err}
}

func parseMetadata(h header) (Metadata, error) {
	var meta Metadata
	if h.meta == nil {
		return meta, docError("#meta", "missing")
	}
	if !h.hasVars {
		return meta, docError("vars", "missing")
	}
	if !h.hasStates {
		return meta, docError("states", "missing")
	}
	if h.states == 0 {
		return meta, docError("states", "trace has no states")
	}

	schema, err := metaSchema()
	if err != nil {
		return meta, err
	}
	result := schema.ValidateJSON(h.meta)
	if !result.IsValid() {
		return meta, docError("#meta", "schema validation failed: %v", result.Errors)
	}
	if err := json.Unmarshal(h.meta, &meta); err != nil {
		return meta, &FormatError{Step: DocumentStep, Field: "#meta", Err: err}
	}
	meta.Variables = h.vars

	return meta, checkMetadata(meta)
}

func checkMetadata(meta Metadata) error {
	declared := make(map[string]bool, len(meta.Variables))
	for _, v := range meta.Variables {
		switch {
		case v == "":
			return docError("vars", "empty variable name")
		case strings.HasPrefix(v, "#"):
			return docError("vars", "variable %q: reserved prefix '#'", v)
		case declared[v]:
			return docError("vars", "duplicate variable %q", v)
		}
		declared[v] = true
	}

	if meta.ActionVariable != "" && !declared[meta.ActionVariable] {
		return docError("#meta.action_variable", "variable %q is not declared in vars", meta.ActionVariable)
	}
	for _, v := range meta.Validate {
		if !declared[v] {
			return docError("#meta.validate", "variable %q is not declared in vars", v)
		}
	}

	seen := make(map[string]bool, len(meta.Actions))
	for _, a := range meta.Actions {
		if seen[a.Name] {
			return docError("#meta.actions", "duplicate action %q", a.Name)
		}
		seen[a.Name] = true

		params := make(map[string]bool, len(a.Params))
		for _, p := range a.Params {
			if params[p.Name] {
				return docError("#meta.actions", "action %q: duplicate parameter %q", a.Name, p.Name)
			}
			params[p.Name] = true
		}
		for _, w := range a.Writes {
			if !declared[w] {
				return docError("#meta.actions", "action %q writes undeclared variable %q", a.Name, w)
			}
		}
	}
	return nil
}

func decodeState(meta Metadata, idx int, raw []byte) (State, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return State{}, &FormatError{Step: idx, Message: "state must be a JSON object"}
	}

	st := State{Index: idx, Vars: make(map[string]ir.Value, len(obj))}
	if m, ok := obj["#meta"]; ok {
		mm, ok := m.(map[string]any)
		if !ok {
			return State{}, &FormatError{Step: idx, Field: "#meta", Message: "state metadata must be an object"}
		}
		st.Meta = mm
		delete(obj, "#meta")
	}

	declared := make(map[string]bool, len(meta.Variables))
	for _, v := range meta.Variables {
		declared[v] = true
	}

	for _, name := range slices.Sorted(maps.Keys(obj)) {
		if !declared[name] {
			return State{}, &FormatError{Step: idx, Field: name, Message: "variable is not declared in vars"}
		}
		v, err := ir.FromTree(obj[name])
		if err != nil {
			return State{}, stepError(idx, name, err)
		}
		st.Vars[name] = v
	}
	for _, name := range meta.Variables {
		if _, ok := st.Vars[name]; !ok {
			return State{}, &FormatError{Step: idx, Field: name, Message: "variable is missing"}
		}
	}
	return st, nil
}

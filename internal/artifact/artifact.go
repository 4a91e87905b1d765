// Package artifact turns a validated replay into a self-contained regression
// test and runs it again without the trace or any handler.
//
// An artifact is a YAML document: the bindings needed to re-seed
// identifiers, then one entry per step holding the concrete operation and
// the abstract state expected after it.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/kraft/internal/engine"
	"github.com/roach88/kraft/internal/ir"
)

// Version is the artifact format version.
const Version = "1"

// ErrReplayNotSuccessful is returned by Emit for failed or cancelled replays.
var ErrReplayNotSuccessful = errors.New("artifact: replay did not succeed")

// ErrDigestMismatch is returned by Verify when the content was altered.
var ErrDigestMismatch = errors.New("artifact: digest mismatch")

// ErrUnsupportedVersion is returned by Verify for other format versions.
var ErrUnsupportedVersion = errors.New("artifact: unsupported version")

// Artifact is an executable test case.
type Artifact struct {
	Version       string    `yaml:"version"`
	Name          string    `yaml:"name"`
	TraceDigest   string    `yaml:"trace_digest"`
	EngineVersion string    `yaml:"engine_version"`
	Validate      []string  `yaml:"validate"`
	Bindings      []Binding `yaml:"bindings"`
	Steps         []Step    `yaml:"steps"`

	// Digest is the sha256 of the JCS canonical JSON of every other field.
	Digest string `yaml:"digest"`
}

// Binding is a recorded identifier/handle pair. ID is a tagged value tree.
type Binding struct {
	ID     any    `yaml:"id"`
	Handle string `yaml:"handle"`
	Seeded bool   `yaml:"seeded,omitempty"`
}

// Step is one recorded operation with its expected post-state.
type Step struct {
	Index     int            `yaml:"index"`
	Action    string         `yaml:"action"`
	Operation *Operation     `yaml:"operation,omitempty"`
	Expect    map[string]any `yaml:"expect"`
}

// NoOp reports whether the step submitted nothing.
func (s Step) NoOp() bool { return s.Operation == nil }

// Operation is a concrete operation. Params is a tagged value tree whose
// handles refer to Artifact.Bindings.
type Operation struct {
	Kind   string `yaml:"kind"`
	Params any    `yaml:"params"`
}

// Emit builds the artifact of a successful replay.
func Emit(rec *engine.Record) (*Artifact, error) {
	if rec == nil || !rec.Succeeded() {
		return nil, ErrReplayNotSuccessful
	}

	a := &Artifact{
		Version:       Version,
		Name:          rec.Trace,
		TraceDigest:   rec.TraceDigest,
		EngineVersion: ir.EngineVersion,
		Validate:      append([]string{}, rec.Validated...),
		Bindings:      make([]Binding, len(rec.Bindings)),
		Steps:         make([]Step, len(rec.Steps)),
	}
	for i, b := range rec.Bindings {
		a.Bindings[i] = Binding{ID: ir.ToTree(b.ID), Handle: string(b.Handle), Seeded: b.Seeded}
	}
	for i, s := range rec.Steps {
		step := Step{Index: s.Step, Action: s.Action, Expect: make(map[string]any, len(s.Expected))}
		if !s.Operation.IsNoOp() {
			step.Operation = &Operation{Kind: s.Operation.Kind, Params: ir.ToTree(s.Operation.Params)}
		}
		for name, v := range s.Expected {
			step.Expect[name] = ir.ToTree(v)
		}
		a.Steps[i] = step
	}

	digest, err := a.ComputeDigest()
	if err != nil {
		return nil, err
	}
	a.Digest = digest
	return a, nil
}

// body is the digested content: every field but Digest, with empty
// collections spelled out so decoding never changes the digest.
func (a *Artifact) body() map[string]any {
	bindings := make([]any, len(a.Bindings))
	for i, b := range a.Bindings {
		bindings[i] = map[string]any{"id": b.ID, "handle": b.Handle, "seeded": b.Seeded}
	}
	steps := make([]any, len(a.Steps))
	for i, s := range a.Steps {
		entry := map[string]any{"index": s.Index, "action": s.Action, "expect": orEmpty(s.Expect)}
		if s.Operation != nil {
			entry["operation"] = map[string]any{"kind": s.Operation.Kind, "params": s.Operation.Params}
		}
		steps[i] = entry
	}
	validate := make([]any, len(a.Validate))
	for i, v := range a.Validate {
		validate[i] = v
	}
	return map[string]any{
		"version":        a.Version,
		"name":           a.Name,
		"trace_digest":   a.TraceDigest,
		"engine_version": a.EngineVersion,
		"validate":       validate,
		"bindings":       bindings,
		"steps":          steps,
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// ComputeDigest returns the digest of the current content.
func (a *Artifact) ComputeDigest() (string, error) {
	raw, err := json.Marshal(a.body())
	if err != nil {
		return "", fmt.Errorf("artifact digest: %w", err)
	}
	return digestJCS(raw)
}

// Verify checks the version and the digest.
func (a *Artifact) Verify() error {
	if a.Version != Version {
		return fmt.Errorf("%w %q", ErrUnsupportedVersion, a.Version)
	}
	got, err := a.ComputeDigest()
	if err != nil {
		return err
	}
	if got != a.Digest {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrDigestMismatch, a.Digest, got)
	}
	return nil
}

// Marshal encodes a as YAML.
func Marshal(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a YAML artifact, rejecting unknown fields.
func Unmarshal(data []byte) (*Artifact, error) {
	var a Artifact
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	if a.Name == "" {
		return nil, fmt.Errorf("parse artifact: name is required")
	}
	return &a, nil
}

// Write stores a at path.
func Write(path string, a *Artifact) error {
	data, err := Marshal(a)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Load reads and verifies the artifact at path.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	a, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if err := a.Verify(); err != nil {
		return nil, err
	}
	return a, nil
}

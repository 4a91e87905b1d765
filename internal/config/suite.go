package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/kraft/internal/ir"
)

// Suite is a set of traces replayed together.
//
// A suite file is CUE with a top-level "suite" struct:
//
//	suite: {
//		name:   "bank"
//		traces: ["traces/transfer.itf.json"]
//		out:    "artifacts"
//		engine: {timeout: "5s", retries: 2, workers: 8}
//		seeds: [{id: 0, handle: "validator-0"}]
//	}
//
// Relative paths are resolved against the suite file's directory.
type Suite struct {
	Name   string
	Traces []string
	Out    string
	DB     string
	Engine Engine
	Seeds  []Seed
}

// Seed pre-binds an abstract identifier to an existing resource.
type Seed struct {
	ID     ir.Value
	Handle ir.Handle
}

// SuiteError reports an invalid suite file.
type SuiteError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *SuiteError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

const suiteSchema = `
#Suite: {
	name:    string & !=""
	traces:  [...string]
	out?:    string
	db?:     string
	engine?: #Engine
	seeds?: [...#Seed]
}

#Engine: {
	timeout?:        string
	retries?:        int & >=0
	retry_interval?: string
	workers?:        int & >=1
	max_steps?:      int & >=0
}

#Seed: {
	id:     _
	handle: string & !=""
}
`

// LoadSuite reads and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	s, err := ParseSuite(path, data)
	if err != nil {
		return nil, err
	}
	s.resolvePaths(filepath.Dir(path))
	return s, nil
}

// ParseSuite validates suite source. filename is used in positions only.
func ParseSuite(filename string, data []byte) (*Suite, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(suiteSchema, cue.Filename("suite-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	suiteVal := v.LookupPath(cue.ParsePath("suite"))
	if !suiteVal.Exists() {
		return nil, &SuiteError{Field: "suite", Message: "suite is required", Pos: v.Pos()}
	}
	// Validate against the closed schema, then read from the data itself so
	// that absent optional fields stay absent.
	checked := schema.LookupPath(cue.ParsePath("#Suite")).Unify(suiteVal)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	s := &Suite{Engine: Defaults()}

	name, err := suiteVal.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	s.Name = name

	if s.Traces, err = stringList(suiteVal.LookupPath(cue.ParsePath("traces"))); err != nil {
		return nil, err
	}
	if s.Out, err = optionalString(suiteVal, "out"); err != nil {
		return nil, err
	}
	if s.DB, err = optionalString(suiteVal, "db"); err != nil {
		return nil, err
	}
	if err := parseEngine(suiteVal.LookupPath(cue.ParsePath("engine")), &s.Engine); err != nil {
		return nil, err
	}
	if s.Seeds, err = parseSeeds(suiteVal.LookupPath(cue.ParsePath("seeds"))); err != nil {
		return nil, err
	}
	if err := s.Engine.Validate(); err != nil {
		return nil, &SuiteError{Field: "engine", Message: err.Error(), Pos: suiteVal.Pos()}
	}
	return s, nil
}

func (s *Suite) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i, p := range s.Traces {
		s.Traces[i] = abs(p)
	}
	s.Out = abs(s.Out)
	s.DB = abs(s.DB)
}

func parseEngine(v cue.Value, e *Engine) error {
	if !v.Exists() {
		return nil
	}

	durations := []struct {
		field string
		dst   *time.Duration
	}{
		{"timeout", &e.Timeout},
		{"retry_interval", &e.RetryInterval},
	}
	for _, d := range durations {
		s, err := optionalString(v, d.field)
		if err != nil {
			return err
		}
		if s == "" {
			continue
		}
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return &SuiteError{Field: "engine." + d.field, Message: err.Error(), Pos: v.LookupPath(cue.ParsePath(d.field)).Pos()}
		}
		*d.dst = parsed
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"retries", &e.Retries},
		{"workers", &e.Workers},
		{"max_steps", &e.MaxSteps},
	}
	for _, i := range ints {
		fv := v.LookupPath(cue.ParsePath(i.field))
		if !fv.Exists() {
			continue
		}
		n, err := fv.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		*i.dst = int(n)
	}
	return nil
}

func parseSeeds(v cue.Value) ([]Seed, error) {
	if !v.Exists() {
		return nil, nil
	}
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var seeds []Seed
	for iter.Next() {
		item := iter.Value()
		idVal := item.LookupPath(cue.ParsePath("id"))
		raw, err := idVal.MarshalJSON()
		if err != nil {
			return nil, formatCUEError(err)
		}
		id, err := ir.UnmarshalJSON(raw)
		if err != nil {
			return nil, &SuiteError{Field: "seeds.id", Message: err.Error(), Pos: idVal.Pos()}
		}
		handle, err := item.LookupPath(cue.ParsePath("handle")).String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		seeds = append(seeds, Seed{ID: id, Handle: ir.Handle(handle)})
	}
	return seeds, nil
}

func stringList(v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// formatCUEError keeps the first CUE error and its position.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &SuiteError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

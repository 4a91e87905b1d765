package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/kraft/internal/trace"
)

// LoadError represents an error that occurred while locating or loading
// traces.
type LoadError struct {
	Code    string
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// FindTraces expands paths into trace files. Files are taken as given;
// directories are walked for *.itf.json files, sorted by path. Duplicates
// are dropped.
func FindTraces(paths []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		clean := filepath.Clean(p)
		if !seen[clean] {
			seen[clean] = true
			out = append(out, clean)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			return nil, &LoadError{Code: ErrCodeNotFound, Path: p, Message: "no such file or directory", Err: err}
		}
		if err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Path: p, Message: err.Error(), Err: err}
		}
		if !info.IsDir() {
			add(p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".itf.json") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Path: p, Message: err.Error(), Err: err}
		}
		slices.Sort(found)
		for _, f := range found {
			add(f)
		}
	}

	if len(out) == 0 {
		return nil, &LoadError{Code: ErrCodeNoTraces, Message: "no trace files found"}
	}
	return out, nil
}

// loadTraces opens every trace. Traces that fail to load are reported by
// path and skipped.
func loadTraces(paths []string) ([]*trace.Trace, map[string]error) {
	traces := make([]*trace.Trace, 0, len(paths))
	failed := make(map[string]error)
	for _, p := range paths {
		tr, err := trace.Load(p)
		if err != nil {
			failed[p] = err
			continue
		}
		traces = append(traces, tr)
	}
	return traces, failed
}

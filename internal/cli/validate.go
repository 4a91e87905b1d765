package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/kraft/internal/differ"
	"github.com/roach88/kraft/internal/trace"
)

// TraceSummary describes one checked trace.
type TraceSummary struct {
	Path      string         `json:"path"`
	Name      string         `json:"name,omitempty"`
	Digest    string         `json:"digest,omitempty"`
	Mode      string         `json:"mode,omitempty"`
	States    int            `json:"states"`
	Validated []string       `json:"validated,omitempty"`
	Actions   map[string]int `json:"actions,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Traces []TraceSummary `json:"traces"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <trace|dir>...",
		Short: "Check traces without replaying them",
		Long: `Check that traces are well formed and that every step can be
attributed to exactly one declared action. No target system is contacted.

Exit codes:
  0 - All traces valid
  1 - At least one trace is malformed or ambiguous
  2 - Command error (path not found, no traces, etc.)`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	paths, err := FindTraces(args)
	if err != nil {
		return loadFailure(formatter, err)
	}

	result := ValidationResult{Valid: true, Traces: make([]TraceSummary, 0, len(paths))}
	for _, p := range paths {
		formatter.VerboseLog("Checking %s", p)
		summary := checkTrace(p)
		if summary.Error != "" {
			result.Valid = false
		}
		result.Traces = append(result.Traces, summary)
	}

	var failed int
	for _, s := range result.Traces {
		if s.Error != "" {
			failed++
		}
	}

	if formatter.JSON() {
		if result.Valid {
			return formatter.Success(result)
		}
		if err := formatter.Failure(ErrCodeTraceFailed, fmt.Sprintf("%d trace(s) invalid", failed), result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d trace(s) invalid", failed))
	}

	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	for _, s := range result.Traces {
		if s.Error != "" {
			fmt.Fprintf(formatter.Writer, "%s %s\n    %s\n", bad("✗"), s.Path, s.Error)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%s %s (%d states, %s, sha256:%s)\n",
			ok("✓"), s.Name, s.States, s.Mode, short(s.Digest))
	}
	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d trace(s) invalid", failed))
	}
	fmt.Fprintln(formatter.Writer, "✓ All traces valid")
	return nil
}

// checkTrace loads the trace at path and attributes every step.
func checkTrace(path string) TraceSummary {
	s := TraceSummary{Path: path}
	tr, err := trace.Load(path)
	if err != nil {
		s.Error = err.Error()
		return s
	}

	d := differ.New(tr.Metadata())
	s.Name = tr.Name()
	s.Digest = tr.Digest()
	s.Mode = string(d.Mode())
	s.States = tr.Len()
	s.Validated = tr.Metadata().Validated()
	s.Actions = make(map[string]int)
	for act, err := range d.Walk(tr) {
		if err != nil {
			s.Error = err.Error()
			return s
		}
		s.Actions[act.Name]++
	}
	return s
}

// loadFailure reports a FindTraces error.
func loadFailure(f *OutputFormatter, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return commandError(f, le.Code, le.Error(), nil)
	}
	return commandError(f, ErrCodeGeneric, err.Error(), nil)
}

// short abbreviates a hex digest for display.
func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

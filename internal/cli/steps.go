package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/kraft/internal/differ"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/trace"
)

// StepSummary is one attributed step.
type StepSummary struct {
	Step    int      `json:"step"`
	Action  string   `json:"action"`
	Params  any      `json:"params"`
	Changed []string `json:"changed,omitempty"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`

	params ir.Record
}

// StepsResult lists the steps of one trace.
type StepsResult struct {
	Trace string        `json:"trace"`
	Mode  string        `json:"mode"`
	Steps []StepSummary `json:"steps"`
}

// NewStepsCommand creates the steps command.
func NewStepsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steps <trace>",
		Short: "Show which action fired at each step of a trace",
		Long: `Attribute every transition of a trace to its action and print the
action, its abstract parameters and the variables it changed. No target
system is contacted.

Examples:
  kraft steps traces/transfer.itf.json
  kraft steps traces/transfer.itf.json --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSteps(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSteps(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	tr, err := trace.Load(path)
	if err != nil {
		if trace.IsFormatError(err) {
			_ = formatter.Error(ErrCodeTraceFailed, err.Error(), nil)
			return WrapExitError(ExitFailure, "invalid trace", err)
		}
		return commandError(formatter, ErrCodeNotFound, "failed to load trace", err)
	}

	d := differ.New(tr.Metadata())
	result := StepsResult{Trace: tr.Name(), Mode: string(d.Mode()), Steps: []StepSummary{}}
	var walkErr error
	for act, err := range d.Walk(tr) {
		if err != nil {
			walkErr = err
			break
		}
		result.Steps = append(result.Steps, StepSummary{
			Step:    act.Step,
			Action:  act.Name,
			Params:  ir.ToTree(act.Params),
			Changed: act.Delta.Changed,
			Added:   act.Delta.Added,
			Removed: act.Delta.Removed,
			params:  act.Params,
		})
	}

	if formatter.JSON() {
		if walkErr != nil {
			if err := formatter.Failure(ErrCodeTraceFailed, walkErr.Error(), result); err != nil {
				return err
			}
			return WrapExitError(ExitFailure, "step attribution failed", walkErr)
		}
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "%s (%s)\n", result.Trace, result.Mode)
	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	for _, s := range result.Steps {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", s.Step, s.Action, formatParams(s.params), strings.Join(s.Changed, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if walkErr != nil {
		fmt.Fprintf(formatter.Writer, "✗ %v\n", walkErr)
		return WrapExitError(ExitFailure, "step attribution failed", walkErr)
	}
	return nil
}

func formatParams(r ir.Record) string {
	if r.Len() == 0 {
		return "-"
	}
	return ir.Format(r)
}

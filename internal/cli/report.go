package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/store"
)

// ReportOptions holds flags for the report command.
type ReportOptions struct {
	*RootOptions
	Database string
	Trace    string
	Run      string
}

// RunSummary is one stored run.
type RunSummary struct {
	ID         string    `json:"id"`
	Trace      string    `json:"trace"`
	Status     string    `json:"status"`
	Mode       string    `json:"mode"`
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	ErrorStep  int       `json:"error_step,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// ReportResult lists stored runs.
type ReportResult struct {
	Runs   []RunSummary   `json:"runs"`
	Counts map[string]int `json:"counts"`
}

// RunStep is one stored step of a run.
type RunStep struct {
	Step      int    `json:"step"`
	Action    string `json:"action"`
	Operation string `json:"operation"`
	NoOp      bool   `json:"noop"`
	Attempts  int    `json:"attempts"`
	Status    string `json:"status"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
}

// RunBinding is one stored binding of a run.
type RunBinding struct {
	ID     string `json:"id"`
	Handle string `json:"handle"`
	Seeded bool   `json:"seeded"`
}

// RunDetail is a run with its record.
type RunDetail struct {
	RunSummary
	Steps    []RunStep    `json:"steps"`
	Bindings []RunBinding `json:"bindings"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show replay runs recorded in a database",
		Long: `List the replay runs recorded by "kraft replay --db", or show the steps
and bindings of one run.

Examples:
  kraft report --db ./kraft.db
  kraft report --db ./kraft.db --trace transfer
  kraft report --db ./kraft.db --run 01920b7e-...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Trace, "trace", "", "list runs of this trace only")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show one run in detail")

	return cmd
}

func runReport(opts *ReportOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	// Open would create a missing database.
	if _, err := os.Stat(opts.Database); err != nil {
		return commandError(formatter, ErrCodeNotFound, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to open database", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("error closing database", "error", err)
		}
	}()

	if opts.Run != "" {
		detail, err := readRunDetail(cmd, st, opts.Run)
		if errors.Is(err, store.ErrRunNotFound) {
			return commandError(formatter, ErrCodeNotFound, "run not found", err)
		}
		if err != nil {
			return commandError(formatter, ErrCodeStore, "failed to read run", err)
		}
		if formatter.JSON() {
			return formatter.Success(detail)
		}
		return outputRunDetail(formatter, detail)
	}

	runs, err := st.ListRuns(ctx, opts.Trace)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to list runs", err)
	}
	counts, err := st.StatusCounts(ctx)
	if err != nil {
		return commandError(formatter, ErrCodeStore, "failed to count runs", err)
	}

	result := ReportResult{Runs: make([]RunSummary, 0, len(runs)), Counts: make(map[string]int, len(counts))}
	for _, r := range runs {
		result.Runs = append(result.Runs, runSummary(r))
	}
	for _, c := range counts {
		result.Counts[c.Status] = c.Count
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	if len(result.Runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs found in database.")
		return nil
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tTRACE\tSTATUS\tDURATION\tERROR")
	for _, r := range result.Runs {
		errText := ""
		if r.ErrorKind != "" {
			errText = fmt.Sprintf("%s at step %d", r.ErrorKind, r.ErrorStep)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\n", r.ID, r.Trace, statusColor(r.Status), r.DurationMS, errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(formatter.Writer)
	for _, c := range counts {
		fmt.Fprintf(formatter.Writer, "%s: %d\n", c.Status, c.Count)
	}
	return nil
}

func readRunDetail(cmd *cobra.Command, st *store.Store, id string) (RunDetail, error) {
	ctx := cmd.Context()
	run, err := st.ReadRun(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	steps, err := st.ReadSteps(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}
	bindings, err := st.ReadBindings(ctx, id)
	if err != nil {
		return RunDetail{}, err
	}

	detail := RunDetail{
		RunSummary: runSummary(run),
		Steps:      make([]RunStep, 0, len(steps)),
		Bindings:   make([]RunBinding, 0, len(bindings)),
	}
	for _, s := range steps {
		op := "-"
		if !s.NoOp && s.Operation != nil {
			op = ir.Format(s.Operation)
		}
		detail.Steps = append(detail.Steps, RunStep{
			Step:      s.Step,
			Action:    s.Action,
			Operation: op,
			NoOp:      s.NoOp,
			Attempts:  s.Attempts,
			Status:    s.Status,
			ErrorKind: s.ErrorKind,
			Message:   s.ErrorMessage,
		})
	}
	for _, b := range bindings {
		detail.Bindings = append(detail.Bindings, RunBinding{
			ID:     ir.Format(b.ID),
			Handle: string(b.Handle),
			Seeded: b.Seeded,
		})
	}
	return detail, nil
}

func runSummary(r store.Run) RunSummary {
	return RunSummary{
		ID:         r.ID,
		Trace:      r.Trace,
		Status:     r.Status,
		Mode:       r.Mode,
		Started:    r.Started,
		DurationMS: r.Duration.Milliseconds(),
		ErrorKind:  r.ErrorKind,
		ErrorStep:  r.ErrorStep,
		Message:    r.ErrorMessage,
	}
}

func outputRunDetail(f *OutputFormatter, d RunDetail) error {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(f.Writer, "%s %s (%s, %s)\n", bold("run"), d.ID, d.Trace, statusColor(d.Status))
	if d.ErrorKind != "" {
		fmt.Fprintf(f.Writer, "  %s at step %d: %s\n", d.ErrorKind, d.ErrorStep, d.Message)
	}

	fmt.Fprintln(f.Writer, bold("steps"))
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for _, s := range d.Steps {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", s.Step, s.Action, statusColor(s.Status), s.Operation)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(f.Writer, bold("bindings"))
	for _, b := range d.Bindings {
		seeded := ""
		if b.Seeded {
			seeded = " (seeded)"
		}
		fmt.Fprintf(f.Writer, "  %s -> @%s%s\n", b.ID, b.Handle, seeded)
	}
	return nil
}

func statusColor(status string) string {
	switch status {
	case "success", "ok":
		return color.GreenString(status)
	case "cancelled":
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}

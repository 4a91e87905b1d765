package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/kraft/internal/artifact"
	"github.com/roach88/kraft/internal/config"
	"github.com/roach88/kraft/internal/engine"
	"github.com/roach88/kraft/internal/ledger"
	"github.com/roach88/kraft/internal/reactor"
	"github.com/roach88/kraft/internal/store"
	"github.com/roach88/kraft/internal/telemetry"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Suite        string
	Database     string
	Out          string
	ConfirmDelay int
}

// ReplayFailure describes why a replay failed.
type ReplayFailure struct {
	Kind    string `json:"kind"`
	Step    int    `json:"step"`
	Action  string `json:"action,omitempty"`
	Message string `json:"message"`
	Diff    string `json:"diff,omitempty"`
}

// ReplayTraceResult holds the result of one trace.
type ReplayTraceResult struct {
	Trace      string         `json:"trace"`
	RunID      string         `json:"run_id,omitempty"`
	Status     string         `json:"status"`
	Steps      int            `json:"steps"`
	DurationMS int64          `json:"duration_ms"`
	Artifact   string         `json:"artifact,omitempty"`
	Error      *ReplayFailure `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result. Cancelled replays are
// neither passed nor failed.
type ReplayResult struct {
	Traces    []ReplayTraceResult `json:"traces"`
	Total     int                 `json:"total"`
	Passed    int                 `json:"passed"`
	Failed    int                 `json:"failed"`
	Cancelled int                 `json:"cancelled"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [trace|dir]...",
		Short: "Replay traces against the reference ledger",
		Long: `Replay traces against the built-in reference ledger and check every
step against the observed state.

Traces come from the arguments and from the suite file, if given. Engine
settings come from built-in defaults, the suite's engine block and KRAFT_*
environment variables, later layers winning.

Exit codes:
  0 - No replay failed (cancelled replays are reported, not failed)
  1 - At least one replay failed
  2 - Command error (bad suite, missing traces, database error, etc.)

Examples:
  kraft replay traces/transfer.itf.json
  kraft replay --suite bank.cue --db kraft.db --out artifacts
  kraft replay traces/ --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Suite, "suite", "", "CUE suite file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite database")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write test case artifacts for successful replays to this directory")
	cmd.Flags().IntVar(&opts.ConfirmDelay, "confirm-delay", 0, "ledger confirmation delay, in waits per submission")

	return cmd
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg := config.Defaults()
	var seeds []config.Seed
	paths := args
	if opts.Suite != "" {
		suite, err := config.LoadSuite(opts.Suite)
		if err != nil {
			return commandError(formatter, ErrCodeSuite, "failed to load suite", err)
		}
		cfg = suite.Engine
		seeds = suite.Seeds
		paths = append(append([]string{}, suite.Traces...), args...)
		if opts.Database == "" {
			opts.Database = suite.DB
		}
		if opts.Out == "" {
			opts.Out = suite.Out
		}
		formatter.VerboseLog("Loaded suite %s (%d traces)", suite.Name, len(suite.Traces))
	}
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		return commandError(formatter, ErrCodeSuite, "invalid engine settings", err)
	}
	if len(paths) == 0 {
		return commandError(formatter, ErrCodeNoTraces, "no traces given", nil)
	}

	files, err := FindTraces(paths)
	if err != nil {
		return loadFailure(formatter, err)
	}

	logger := opts.Logger(formatter.GetErrWriter())

	shutdown, err := telemetry.Setup(ctx, "kraft")
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("flush spans", "error", err)
		}
	}()

	reg := reactor.NewRegistry()
	if err := ledger.Register(reg); err != nil {
		return commandError(formatter, ErrCodeGeneric, "failed to register handlers", err)
	}
	reg.Freeze()

	replayerOpts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
		engine.WithSeeds(seeds...),
	}
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return commandError(formatter, ErrCodeStore, "failed to open database", err)
		}
		defer func() {
			if err := st.Close(); err != nil {
				slog.Error("error closing database", "error", err)
			}
		}()
		replayerOpts = append(replayerOpts, engine.WithSink(st))
	}
	if opts.Out != "" {
		if err := os.MkdirAll(opts.Out, 0o755); err != nil {
			return commandError(formatter, ErrCodeWriteFailed, "failed to create artifact directory", err)
		}
	}

	traces, loadErrs := loadTraces(files)
	outcomes := engine.NewReplayer(reg, replayerOpts...).
		Batch(ctx, traces, ledger.Provider(ledgerOptions(seeds, opts.ConfirmDelay)...))

	result := ReplayResult{Traces: make([]ReplayTraceResult, 0, len(files))}
	for _, f := range files {
		if err, ok := loadErrs[f]; ok {
			result.Traces = append(result.Traces, ReplayTraceResult{
				Trace:  f,
				Status: string(engine.StatusFailed),
				Error:  &ReplayFailure{Kind: string(engine.KindTraceFormat), Step: engine.NoStep, Message: err.Error()},
			})
		}
	}
	for _, o := range outcomes {
		tr := summarize(o)
		if o.Status == engine.StatusSuccess && opts.Out != "" {
			path, err := writeArtifact(opts.Out, o)
			if err != nil {
				return commandError(formatter, ErrCodeWriteFailed, "failed to write artifact", err)
			}
			tr.Artifact = path
		}
		result.Traces = append(result.Traces, tr)
	}
	for _, tr := range result.Traces {
		switch tr.Status {
		case string(engine.StatusSuccess):
			result.Passed++
		case string(engine.StatusCancelled):
			result.Cancelled++
		default:
			result.Failed++
		}
	}
	result.Total = len(result.Traces)

	if formatter.JSON() {
		switch {
		case result.Failed > 0:
			msg := fmt.Sprintf("%d of %d replays failed", result.Failed, result.Total)
			if err := formatter.Failure(ErrCodeReplay, msg, result); err != nil {
				return err
			}
			return NewExitError(ExitFailure, msg)
		case result.Cancelled > 0:
			return formatter.Cancelled(result)
		default:
			return formatter.Success(result)
		}
	}
	return outputReplayText(formatter, result)
}

// ledgerOptions opens an account for every seeded handle so seeded
// identifiers refer to existing resources.
func ledgerOptions(seeds []config.Seed, delay int) []ledger.Option {
	opts := make([]ledger.Option, 0, len(seeds)+1)
	for _, s := range seeds {
		opts = append(opts, ledger.WithAccount(s.Handle, 0))
	}
	if delay > 0 {
		opts = append(opts, ledger.WithConfirmationDelay(delay))
	}
	return opts
}

func summarize(o engine.Outcome) ReplayTraceResult {
	r := ReplayTraceResult{
		Trace:      o.Trace,
		RunID:      o.RunID,
		Status:     string(o.Status),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.Record != nil {
		for _, s := range o.Record.Steps {
			if s.Status == engine.StepOK {
				r.Steps++
			}
		}
	}
	if o.Err != nil {
		r.Error = &ReplayFailure{
			Kind:    string(o.Err.Kind),
			Step:    o.Err.Step,
			Action:  o.Err.Action,
			Message: o.Err.Message,
		}
		var ve *engine.ValidationError
		if errors.As(o.Err, &ve) {
			r.Error.Diff = ve.Diff()
		}
	}
	return r
}

// writeArtifact emits the artifact of a successful replay as
// <out>/<trace>.artifact.yaml.
func writeArtifact(out string, o engine.Outcome) (string, error) {
	a, err := artifact.Emit(o.Record)
	if err != nil {
		return "", err
	}
	path := filepath.Join(out, o.Trace+".artifact.yaml")
	if err := artifact.Write(path, a); err != nil {
		return "", err
	}
	return path, nil
}

func outputReplayText(f *OutputFormatter, result ReplayResult) error {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	for _, tr := range result.Traces {
		if tr.Status == string(engine.StatusCancelled) {
			where := ""
			if tr.Error != nil && tr.Error.Step != engine.NoStep {
				where = fmt.Sprintf(" at step %d", tr.Error.Step)
			}
			fmt.Fprintf(f.Writer, "%s %s: %s%s\n", warn("⊘"), tr.Trace, warn("cancelled"), where)
			continue
		}
		if tr.Error == nil {
			fmt.Fprintf(f.Writer, "%s %s (%d steps, %dms)\n", ok("✓"), tr.Trace, tr.Steps, tr.DurationMS)
			if tr.Artifact != "" {
				fmt.Fprintf(f.Writer, "    artifact: %s\n", tr.Artifact)
			}
			continue
		}

		where := ""
		if tr.Error.Step != engine.NoStep {
			where = fmt.Sprintf(" at step %d", tr.Error.Step)
			if tr.Error.Action != "" {
				where += fmt.Sprintf(" (%s)", tr.Error.Action)
			}
		}
		fmt.Fprintf(f.Writer, "%s %s: %s%s\n", bad("✗"), tr.Trace, bold(tr.Error.Kind), where)
		fmt.Fprintf(f.Writer, "    %s\n", tr.Error.Message)
		if f.Verbose && tr.Error.Diff != "" {
			fmt.Fprintln(f.Writer, tr.Error.Diff)
		}
	}

	fmt.Fprintln(f.Writer)
	summary := fmt.Sprintf("%d passed, %d failed, ", result.Passed, result.Failed)
	if result.Cancelled > 0 {
		summary += fmt.Sprintf("%d cancelled, ", result.Cancelled)
	}
	summary += fmt.Sprintf("%d total", result.Total)
	switch {
	case result.Failed > 0:
		fmt.Fprintln(f.Writer, bad(summary))
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d replays failed", result.Failed, result.Total))
	case result.Cancelled > 0:
		fmt.Fprintln(f.Writer, warn(summary))
	default:
		fmt.Fprintln(f.Writer, ok(summary))
	}
	return nil
}

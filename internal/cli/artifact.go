package cli

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/kraft/internal/artifact"
	"github.com/roach88/kraft/internal/config"
	"github.com/roach88/kraft/internal/engine"
	"github.com/roach88/kraft/internal/ir"
	"github.com/roach88/kraft/internal/ledger"
)

// ArtifactSummary describes one verified artifact.
type ArtifactSummary struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Digest      string `json:"digest"`
	TraceDigest string `json:"trace_digest"`
	Steps       int    `json:"steps"`
	Bindings    int    `json:"bindings"`
}

// ArtifactReplayResult holds the result of replaying an artifact.
type ArtifactReplayResult struct {
	ArtifactSummary
	Passed int            `json:"passed"`
	Error  *ReplayFailure `json:"error,omitempty"`
}

// NewArtifactCommand creates the artifact command group.
func NewArtifactCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact",
		Short: "Verify and replay emitted test case artifacts",
	}

	cmd.AddCommand(newArtifactVerifyCommand(rootOpts))
	cmd.AddCommand(newArtifactReplayCommand(rootOpts))

	return cmd
}

func newArtifactVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <artifact>",
		Short: "Check an artifact's digest",
		Long: `Check that an artifact parses and that its digest matches its content.

Exit codes:
  0 - Artifact verified
  1 - Digest mismatch or unsupported version
  2 - Command error (file not found, not an artifact, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			a, err := loadArtifact(formatter, args[0])
			if err != nil {
				return err
			}
			summary := summarizeArtifact(args[0], a)
			if formatter.JSON() {
				return formatter.Success(summary)
			}
			fmt.Fprintf(formatter.Writer, "%s %s (%d steps, %d bindings, sha256:%s)\n",
				color.New(color.FgGreen).Sprint("✓"), summary.Name, summary.Steps, summary.Bindings, short(summary.Digest))
			return nil
		},
	}
}

func newArtifactReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <artifact>",
		Short: "Replay an artifact against a fresh reference ledger",
		Long: `Replay the recorded operations of an artifact against a fresh reference
ledger, without the trace or the reactor. Seeded handles are opened in
the ledger before the replay starts.

Exit codes:
  0 - Every step matched
  1 - A step failed, or the artifact does not verify
  2 - Command error (file not found, bad settings, etc.)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArtifactReplay(rootOpts, args[0], cmd)
		},
	}
}

func runArtifactReplay(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	a, err := loadArtifact(formatter, path)
	if err != nil {
		return err
	}
	cfg, err := config.FromEnv(config.Defaults())
	if err != nil {
		return commandError(formatter, ErrCodeSuite, "invalid engine settings", err)
	}

	res, err := artifact.Replay(cmd.Context(), a, ledger.New(seededAccounts(a)...),
		artifact.WithConfig(cfg),
		artifact.WithLogger(opts.Logger(formatter.GetErrWriter())),
	)
	result := ArtifactReplayResult{ArtifactSummary: summarizeArtifact(path, a)}
	if res != nil {
		result.Passed = res.Steps
	}

	if err != nil {
		var re *engine.ReplayError
		if !errors.As(err, &re) {
			return commandError(formatter, ErrCodeArtifact, "artifact replay failed", err)
		}
		result.Error = &ReplayFailure{Kind: string(re.Kind), Step: re.Step, Action: re.Action, Message: re.Message}
		var ve *engine.ValidationError
		if errors.As(err, &ve) {
			result.Error.Diff = ve.Diff()
		}
		if formatter.JSON() {
			if err := formatter.Failure(ErrCodeReplay, re.Error(), result); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(formatter.Writer, "%s %s: %s\n", color.New(color.FgRed).Sprint("✗"), result.Name, re.Error())
			if formatter.Verbose && result.Error.Diff != "" {
				fmt.Fprintln(formatter.Writer, result.Error.Diff)
			}
		}
		return WrapExitError(ExitFailure, "artifact replay failed", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "%s %s (%d/%d steps)\n",
		color.New(color.FgGreen).Sprint("✓"), result.Name, result.Passed, result.Steps)
	return nil
}

// loadArtifact loads and verifies path. Digest and version failures exit
// with ExitFailure; anything else is a command error.
func loadArtifact(f *OutputFormatter, path string) (*artifact.Artifact, error) {
	a, err := artifact.Load(path)
	if err == nil {
		return a, nil
	}
	_ = f.Error(ErrCodeArtifact, err.Error(), nil)
	if errors.Is(err, artifact.ErrDigestMismatch) || errors.Is(err, artifact.ErrUnsupportedVersion) {
		return nil, WrapExitError(ExitFailure, "artifact does not verify", err)
	}
	return nil, WrapExitError(ExitCommandError, "failed to load artifact", err)
}

func summarizeArtifact(path string, a *artifact.Artifact) ArtifactSummary {
	return ArtifactSummary{
		Path:        path,
		Name:        a.Name,
		Digest:      a.Digest,
		TraceDigest: a.TraceDigest,
		Steps:       len(a.Steps),
		Bindings:    len(a.Bindings),
	}
}

// seededAccounts opens the seeded handles of a, which the artifact reuses
// as recorded.
func seededAccounts(a *artifact.Artifact) []ledger.Option {
	var opts []ledger.Option
	for _, b := range a.Bindings {
		if b.Seeded {
			opts = append(opts, ledger.WithAccount(ir.Handle(b.Handle), 0))
		}
	}
	return opts
}

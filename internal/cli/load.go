package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lockerbench/internal/config"
	"github.com/roach88/lockerbench/internal/report"
	"github.com/roach88/lockerbench/internal/schedule"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
	Actors      int
	BatchSize   int
	Resources   int
	ConfirmRate float64
	ResetFirst  bool
	Output      string
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run the batched load test",
		Long: `Provision synthetic students and lockers, run every student through
login, list, hold, think, confirm and verify in batches, then restore the
store to the snapshot taken before the run.

Example:
  lockerbench load --config bench.yaml
  lockerbench load --actors 200 --batch-size 50 --confirm-rate 0.8
  lockerbench load --format json --output results.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, rootOpts, report.ModeLoad, func(cfg *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("actors") {
					cfg.Load.TotalActors = opts.Actors
				}
				if flags.Changed("batch-size") {
					cfg.Load.BatchSize = opts.BatchSize
				}
				if flags.Changed("resources") {
					cfg.Load.ResourceCount = opts.Resources
				}
				if flags.Changed("confirm-rate") {
					cfg.Load.ConfirmRate = opts.ConfirmRate
				}
				if flags.Changed("reset-first") {
					cfg.Load.ResetFirst = opts.ResetFirst
				}
				if flags.Changed("output") {
					cfg.Output.ResultsFile = opts.Output
				}
			})
		},
	}

	cmd.Flags().IntVar(&opts.Actors, "actors", 0, "number of actors (overrides load.total_actors)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "actors per batch (overrides load.batch_size)")
	cmd.Flags().IntVar(&opts.Resources, "resources", 0, "synthetic resources to create (overrides load.resource_count)")
	cmd.Flags().Float64Var(&opts.ConfirmRate, "confirm-rate", 0, "probability an actor confirms its hold")
	cmd.Flags().BoolVar(&opts.ResetFirst, "reset-first", false, "clear all reservation state after the snapshot")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "result document path (overrides output.results_file)")

	return cmd
}

// runBench executes one load or race run and publishes its document. The
// document is written and rendered even when the run itself failed, as long
// as a baseline was captured.
func runBench(cmd *cobra.Command, opts *RootOptions, mode string, apply func(*config.Config)) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose).With("component", "cli")
	out := formatter(cmd, opts)

	cfg, err := loadConfig(opts, apply)
	if err != nil {
		out.Error("", err, nil)
		return err
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	e, err := openEnv(ctx, cfg, logger)
	if err != nil {
		out.Error("", err, nil)
		return err
	}
	defer e.Close()
	e.serveMetrics(ctx)

	h := e.harness(opts)
	var (
		doc    *report.Document
		runErr error
	)
	switch mode {
	case report.ModeRace:
		doc, runErr = h.RunRace(ctx)
	default:
		doc, runErr = h.RunLoad(ctx)
	}
	if doc == nil {
		out.Error("", runErr, nil)
		return runError(mode+" run failed", runErr)
	}

	if err := publish(context.WithoutCancel(ctx), cfg, doc); err != nil {
		logger.Error("failed to publish results", "run_id", doc.RunID, "error", err)
		out.Error(doc.RunID, err, doc)
		return WrapExitError(ExitCommandError, "failed to publish results", err)
	}

	if err := render(out, doc, runErr); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return exitStatus(mode, doc, runErr)
}

// publish writes the result file and appends the run to the archive when
// each is configured.
func publish(ctx context.Context, cfg config.Config, doc *report.Document) error {
	if path := cfg.Output.ResultsFile; path != "" {
		if err := report.WriteFile(path, doc); err != nil {
			return err
		}
	}
	if path := cfg.Output.ArchivePath; path != "" {
		archive, err := report.OpenArchive(ctx, path)
		if err != nil {
			return err
		}
		defer archive.Close()
		if err := archive.Save(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func render(out *OutputFormatter, doc *report.Document, runErr error) error {
	if out.Format == "json" {
		if runErr != nil {
			return out.Error(doc.RunID, runErr, doc)
		}
		return out.Success(doc.RunID, doc, "")
	}
	var b strings.Builder
	if err := report.RenderText(&b, doc); err != nil {
		return err
	}
	return out.Success(doc.RunID, doc, b.String())
}

// exitStatus ranks a finished run: an invariant violation or setup error
// first, then residue left by teardown, then an interrupted load, then a
// race nobody won.
func exitStatus(mode string, doc *report.Document, runErr error) error {
	if runErr != nil {
		return runError(mode+" run failed", runErr)
	}
	if !doc.Teardown.Clean() {
		return NewExitError(ExitFailure, fmt.Sprintf("teardown left state behind (%d errors)", len(doc.Teardown.Errors)))
	}
	if doc.Batches != nil && doc.Batches.Interrupted {
		return NewExitError(ExitFailure, fmt.Sprintf("run interrupted after %d of %d batches",
			doc.Batches.Completed, doc.Batches.Planned))
	}
	if doc.Race != nil && doc.Race.Verdict == schedule.VerdictNoWinner {
		return NewExitError(ExitFailure, fmt.Sprintf("race on resource %d had no winner: every hold was rejected",
			doc.Race.ResourceID))
	}
	return nil
}

// RaceOptions holds flags for the race command.
type RaceOptions struct {
	*RootOptions
	Actors   int
	Resource int
	Output   string
}

// NewRaceCommand creates the race command.
func NewRaceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RaceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "race",
		Short: "Release many actors at one locker and check exactly one wins",
		Long: `Authenticate every actor, then release all of them at the same locker at
once. Exactly one hold must succeed. More than one winner is an invariant
violation and exits with status 3; no winner at all is a warning and exits
with status 1.

Example:
  lockerbench race --actors 100
  lockerbench race --actors 10 --resource 9002`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, rootOpts, report.ModeRace, func(cfg *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("actors") {
					cfg.Race.Actors = opts.Actors
				}
				if flags.Changed("resource") {
					cfg.Race.ResourceID = opts.Resource
				}
				if flags.Changed("output") {
					cfg.Output.ResultsFile = opts.Output
				}
			})
		},
	}

	cmd.Flags().IntVar(&opts.Actors, "actors", 0, "number of contenders (overrides race.actors)")
	cmd.Flags().IntVar(&opts.Resource, "resource", 0, "locker to contend for; 0 provisions a fresh one")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "result document path (overrides output.results_file)")

	return cmd
}

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockerbench/internal/report"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Archive string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List archived runs or show one",
		Long: `List the runs recorded in the archive, newest first, or print the full
report of one run.

Example:
  lockerbench history --archive runs.db
  lockerbench history --archive runs.db 0199a1b2-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Archive, "archive", "", "archive database (overrides output.archive_path)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions, args []string) error {
	out := formatter(cmd, opts.RootOptions)

	path := opts.Archive
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions, nil)
		if err != nil {
			out.Error("", err, nil)
			return err
		}
		path = cfg.Output.ArchivePath
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no archive configured: set output.archive_path or pass --archive")
	}

	ctx := cmd.Context()
	archive, err := report.OpenArchive(ctx, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open archive", err)
	}
	defer archive.Close()

	if len(args) == 1 {
		doc, err := archive.Document(ctx, args[0])
		if err != nil {
			exitErr := WrapExitError(ExitCommandError, "failed to load run", err)
			out.Error(args[0], exitErr, nil)
			return exitErr
		}
		return render(out, doc, nil)
	}

	runs, err := archive.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	var b strings.Builder
	if len(runs) == 0 {
		b.WriteString("no archived runs\n")
	}
	for _, r := range runs {
		verdict := r.Verdict
		if verdict == "" {
			verdict = "-"
		}
		fmt.Fprintf(&b, "%s  %-4s  %s  %5d req  %5d ok  p95 %-10s %s\n",
			r.RunID, r.Mode, r.StartedAt.Format(time.RFC3339), r.Total, r.Succeeded, r.P95, verdict)
	}
	return out.Success("", runs, b.String())
}

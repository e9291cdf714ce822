package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockerbench/internal/snapshot"
	"github.com/roach88/lockerbench/internal/store"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	Full bool
}

// snapshotView is the snapshot command's JSON payload.
type snapshotView struct {
	CapturedAt time.Time          `json:"captured_at"`
	Counts     snapshot.Counts    `json:"counts"`
	Residue    snapshot.Residue   `json:"residue"`
	Snapshot   *snapshot.Snapshot `json:"snapshot,omitempty"`
}

// redactedToken replaces refresh tokens in snapshot output.
const redactedToken = "[redacted]"

// redacted returns a copy of snap whose credentials carry no token values.
func redacted(snap *snapshot.Snapshot) *snapshot.Snapshot {
	out := *snap
	out.Credentials = make([]store.Credential, len(snap.Credentials))
	for i, c := range snap.Credentials {
		c.Token = redactedToken
		out.Credentials[i] = c
	}
	return &out
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show current reservation state without changing it",
		Long: `Capture the current assignments, owned lockers and credentials and print
their counts, plus any synthetic rows left behind by an earlier run. With
--full every row is included; refresh tokens are redacted.

Example:
  lockerbench snapshot
  lockerbench snapshot --full --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				h := e.harness(rootOpts)
				snap, err := h.Snapshot(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to capture snapshot", err)
				}
				residue, err := h.Residue(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to count synthetic rows", err)
				}

				view := snapshotView{CapturedAt: snap.CapturedAt, Counts: snap.Counts(), Residue: residue}
				if opts.Full {
					view.Snapshot = redacted(snap)
				}

				var b strings.Builder
				fmt.Fprintf(&b, "snapshot at %s\n", snap.CapturedAt.UTC().Format(time.RFC3339))
				fmt.Fprintf(&b, "  assignments:     %d\n", view.Counts.Assignments)
				fmt.Fprintf(&b, "  owned resources: %d\n", view.Counts.OwnedResources)
				fmt.Fprintf(&b, "  credentials:     %d\n", view.Counts.Credentials)
				fmt.Fprintf(&b, "synthetic residue: %d actors, %d resources\n", residue.Actors, residue.Resources)
				if opts.Full {
					for _, r := range snap.OwnedResources {
						fmt.Fprintf(&b, "  resource %d owned by %s\n", r.ID, *r.Owner)
					}
				}
				return formatter(cmd, rootOpts).Success("", view, b.String())
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "include every captured row")

	return cmd
}

// AdminOptions holds flags for the destructive admin commands.
type AdminOptions struct {
	*RootOptions
	Yes bool
	All bool
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear all reservation state and synthetic rows",
		Long: `Delete every assignment, clear every locker owner, and remove synthetic
credentials, students and lockers in one transaction. Real students' holds
are cleared too, so --yes is required.

Example:
  lockerbench reset --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.Yes {
				return NewExitError(ExitCommandError, "reset clears real reservations; pass --yes to confirm")
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				if err := e.harness(rootOpts).Reset(ctx); err != nil {
					return WrapExitError(ExitCommandError, "reset failed", err)
				}
				return formatter(cmd, rootOpts).Success("", map[string]string{"reset": "clean"}, "state reset to clean\n")
			})
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm clearing real reservations")

	return cmd
}

// NewForceCleanCommand creates the force-clean command.
func NewForceCleanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AdminOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "force-clean",
		Short: "Remove synthetic rows left by a crashed run",
		Long: `Delete synthetic credentials, students and lockers statement by statement,
continuing past failures. With --all, every assignment, owner and credential
is cleared as well; that also requires --yes.

Example:
  lockerbench force-clean
  lockerbench force-clean --all --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := snapshot.ScopeSynthetic
			if opts.All {
				if !opts.Yes {
					return NewExitError(ExitCommandError, "force-clean --all clears real reservations; pass --yes to confirm")
				}
				scope = snapshot.ScopeAll
			}
			return withEnv(cmd, rootOpts, func(ctx context.Context, e *env) error {
				h := e.harness(rootOpts)
				if err := h.ForceClean(ctx, scope); err != nil {
					return WrapExitError(ExitFailure, "force clean incomplete", err)
				}
				residue, err := h.Residue(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to count synthetic rows", err)
				}
				text := fmt.Sprintf("force clean (%s) complete: %d synthetic actors, %d synthetic resources remain\n",
					scope, residue.Actors, residue.Resources)
				return formatter(cmd, rootOpts).Success("", map[string]any{"scope": scope.String(), "residue": residue}, text)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "also clear every assignment, owner and credential")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm clearing real reservations")

	return cmd
}

// withEnv loads config, opens the env and runs fn. Errors from fn are
// reported in the JSON envelope when that format is selected.
func withEnv(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, e *env) error) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose).With("component", "cli")
	out := formatter(cmd, opts)

	cfg, err := loadConfig(opts, nil)
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

	if err := fn(ctx, e); err != nil {
		out.Error("", err, nil)
		return err
	}
	return nil
}

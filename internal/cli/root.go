package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/lockerbench/internal/harness"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // YAML config path; empty uses defaults plus environment

	// RunIDs overrides the run id generator (for testing). If nil, run ids
	// are UUIDv7.
	RunIDs harness.RunIDGenerator

	// Seed makes run randomness reproducible (for testing).
	Seed *uint64
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the lockerbench CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lockerbench",
		Short: "Correctness and load harness for the locker reservation API",
		Long: `lockerbench drives a locker reservation service with many concurrent
synthetic students, checks that no locker is ever won twice, and returns the
service's database to exactly the state it found.

Every run captures a snapshot first and restores it afterwards, even when the
run fails or is interrupted.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewRaceCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewForceCleanCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lockerbench/internal/harness"
	"github.com/roach88/lockerbench/internal/lockerapi"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Smoke-test the service with one real student",
		Long: `Call health, log in as the first seed actor, list lockers, then hold and
immediately release one unowned locker. A held locker moves on to the next
candidate. The state store is not opened.

Example:
  lockerbench check --config bench.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, rootOpts)
		},
	}
}

func runCheck(cmd *cobra.Command, opts *RootOptions) error {
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose).With("component", "cli")
	out := formatter(cmd, opts)

	cfg, err := loadConfig(opts, nil)
	if err != nil {
		out.Error("", err, nil)
		return err
	}

	ctx, stop := signalContext(cmd, logger)
	defer stop()

	api := lockerapi.New(cfg.BaseURL, lockerapi.Options{
		MaxConnections: cfg.HTTP.MaxConnections,
		RequestTimeout: cfg.Timeouts.Request,
	})
	defer api.Close()

	rep, err := harness.New(cfg, nil, api, harness.WithLogger(logger)).Check(ctx)
	if err != nil {
		exitErr := WrapExitError(ExitCommandError, "check failed", err)
		out.Error("", exitErr, nil)
		return exitErr
	}

	var b strings.Builder
	fmt.Fprintf(&b, "check %s\n", cfg.BaseURL)
	for _, s := range rep.Steps {
		mark := "ok"
		if !s.OK {
			mark = "FAIL"
		}
		target := ""
		if s.ResourceID != 0 {
			target = fmt.Sprintf("#%d", s.ResourceID)
		}
		fmt.Fprintf(&b, "  %-8s %-6s %3d  %-10s %s", s.Name, target, s.StatusCode, s.Latency, mark)
		if s.Detail != "" {
			fmt.Fprintf(&b, "  (%s)", s.Detail)
		}
		b.WriteString("\n")
	}
	if rep.OK {
		b.WriteString("result: PASS\n")
	} else {
		b.WriteString("result: FAIL\n")
	}
	if err := out.Success("", rep, b.String()); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if !rep.OK {
		return NewExitError(ExitFailure, "service check failed")
	}
	return nil
}

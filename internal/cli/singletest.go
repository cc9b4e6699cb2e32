package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/clapcheck/clapcheck/internal/harness"
	"github.com/clapcheck/clapcheck/internal/workspace"
)

// NewSingleTestCommand creates the hidden child-process entrypoint. The
// isolation harness re-executes the validator binary with this command,
// writes one invocation to its stdin, and reads one result from its stdout.
func NewSingleTestCommand(opts *RootOptions) *cobra.Command {
	var scratchDir string

	cmd := &cobra.Command{
		Use:    harness.SingleTestCommand,
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			child := harness.NewChild(os.Stdin, os.Stdout)
			if scratchDir != "" {
				manager, err := workspace.NewManager(scratchDir)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid scratch directory", err)
				}
				child.Scratch = manager
			}
			if err := child.Run(); err != nil {
				return WrapExitError(ExitCommandError, "single test run", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scratchDir, "scratch-dir", "", "base directory for per-test scratch space")
	return cmd
}

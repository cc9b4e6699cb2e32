package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clapcheck/clapcheck/internal/config"
	"github.com/clapcheck/clapcheck/internal/events"
	"github.com/clapcheck/clapcheck/internal/harness"
	"github.com/clapcheck/clapcheck/internal/log"
	"github.com/clapcheck/clapcheck/internal/report"
	"github.com/clapcheck/clapcheck/internal/scheduler"
	"github.com/clapcheck/clapcheck/internal/tui"
	"github.com/clapcheck/clapcheck/internal/workspace"
)

// staleScratchAge is how old a leftover scratch directory must be before
// the pre-run sweep removes it. Directories younger than this may belong
// to a validator running in parallel.
const staleScratchAge = 24 * time.Hour

// NewValidateCommand creates the validate command.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	var (
		jsonOut    bool
		onlyFailed bool
		inProcess  bool
		noParallel bool
		progress   bool
		testFilter string
		timeout    time.Duration
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "validate <library.clap> [more libraries or directories...]",
		Short: "Run the conformance test suite against plugin libraries",
		Long: "validate scans the given files and directories for plugin libraries,\n" +
			"plans one invocation per (library, plugin, test) combination, and executes\n" +
			"them on a worker pool. Exit status is 0 only when every test resolved\n" +
			"pass, skip, or warning.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := opts.Config.Validate
			if cmd.Flags().Changed("test-filter") {
				v.TestFilter = testFilter
			}
			if cmd.Flags().Changed("timeout") {
				v.Timeout = timeout
			}
			if cmd.Flags().Changed("workers") {
				v.Workers = workers
			}
			if inProcess {
				v.InProcess = true
			}
			// In-process runs share one address space, so a pool would let
			// native code race against itself.
			if noParallel || v.InProcess {
				v.Workers = 1
			}
			if v.Timeout <= 0 {
				return NewExitError(ExitCommandError, "timeout must be positive")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.WithComponent("cli")
			sweepScratch(v.ScratchDir, logger)

			plan := scheduler.NewPlanner().Plan(scheduler.Options{
				Paths:     args,
				Filter:    v.TestFilter,
				Timeout:   v.Timeout,
				InProcess: v.InProcess,
			})
			if plan.Total() == 0 {
				return NewExitError(ExitCommandError, "nothing to validate: no plugin libraries found or no tests matched the filter")
			}

			runner, err := buildRunner(v)
			if err != nil {
				return WrapExitError(ExitCommandError, "setting up the test runner", err)
			}

			hub := events.NewHub(512)
			sched := scheduler.New(runner, hub, v.Workers, logger)

			runCtx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()

			var run *report.Run
			interrupted := false
			if progress {
				prog := tui.NewProgram(hub, cancelRun)
				done := make(chan struct{})
				go func() {
					run = sched.Execute(runCtx, plan)
					close(done)
				}()
				final, err := prog.Run()
				if err != nil {
					logger.Warn("progress view failed, run continues", "error", err)
				} else if m, ok := final.(tui.Model); ok {
					interrupted = m.Interrupted()
				}
				<-done
			} else {
				run = sched.Execute(runCtx, plan)
			}

			if jsonOut {
				view := run
				if onlyFailed {
					view = run.FilterFailed()
				}
				out, err := report.JSON(view)
				if err != nil {
					return WrapExitError(ExitCommandError, "rendering report", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			} else {
				fmt.Fprint(cmd.OutOrStdout(), report.Text(run, report.DefaultTheme(), report.RenderOptions{OnlyFailed: onlyFailed}))
			}

			if interrupted || ctx.Err() != nil {
				return NewExitError(ExitFailure, "run canceled before completion")
			}
			tally := run.Tally()
			if failed := tally.TotalFailed(); failed > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d of %d tests failed", failed, tally.Total()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")
	cmd.Flags().BoolVar(&onlyFailed, "only-failed", false, "show only failed, crashed, timed out, and warning results")
	cmd.Flags().BoolVar(&inProcess, "in-process", false, "run tests inside this process instead of isolated children (a crash kills the run)")
	cmd.Flags().BoolVar(&noParallel, "no-parallel", false, "run tests one at a time in plan order")
	cmd.Flags().BoolVar(&progress, "progress", false, "show a live progress view while the run executes")
	cmd.Flags().StringVar(&testFilter, "test-filter", "", "run only tests whose ID contains this substring")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "per-test deadline")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent tests (0 = one per CPU)")

	return cmd
}

// buildRunner picks the execution strategy. Subprocess isolation is the
// default; in-process execution trades safety for debuggability.
func buildRunner(v config.ValidateConfig) (scheduler.Runner, error) {
	if v.InProcess {
		p := harness.NewInProcess()
		if v.ScratchDir != "" {
			scratch, err := workspace.NewManager(v.ScratchDir)
			if err != nil {
				return nil, fmt.Errorf("scratch directory: %w", err)
			}
			p.Scratch = scratch
		}
		return p, nil
	}

	sub := harness.NewSubprocess()
	if v.Grace > 0 {
		sub.Grace = v.Grace
	}
	if v.ScratchDir != "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving own executable: %w", err)
		}
		sub.Argv = []string{exe, harness.SingleTestCommand, "--scratch-dir", v.ScratchDir}
	}
	return sub, nil
}

// sweepScratch removes scratch directories stranded by crashed children of
// earlier runs. Failure only costs disk space, so it logs and moves on.
func sweepScratch(baseDir string, logger *slog.Logger) {
	manager := workspace.Default()
	if baseDir != "" {
		var err error
		manager, err = workspace.NewManager(baseDir)
		if err != nil {
			logger.Warn("scratch sweep skipped", "error", err)
			return
		}
	}

	rep, err := manager.Sweep(staleScratchAge)
	if err != nil {
		logger.Warn("scratch sweep failed", "error", err)
		return
	}
	if rep.DeletedDirs > 0 {
		logger.Info("swept stale scratch directories", "deleted", rep.DeletedDirs)
	}
}

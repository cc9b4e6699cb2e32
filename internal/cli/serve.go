package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clapcheck/clapcheck/internal/api"
	"github.com/clapcheck/clapcheck/internal/events"
	"github.com/clapcheck/clapcheck/internal/log"
	"github.com/clapcheck/clapcheck/internal/report"
	"github.com/clapcheck/clapcheck/internal/scheduler"
)

// pipelineValidator is the production api.Validator: plan with native
// loading, execute on a fresh scheduler per request, publish progress to
// the shared hub. Whether tests run isolated or in-process is a server
// startup decision, not a per-request one.
type pipelineValidator struct {
	runner    scheduler.Runner
	hub       *events.Hub
	inProcess bool
}

func (p *pipelineValidator) Validate(ctx context.Context, opts scheduler.Options, workers int) *report.Run {
	opts.InProcess = p.inProcess
	if p.inProcess {
		workers = 1
	}
	plan := scheduler.NewPlanner().Plan(opts)
	return scheduler.New(p.runner, p.hub, workers, nil).Execute(ctx, plan)
}

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve validation over an HTTP API",
		Long: "serve exposes the validator over HTTP: run validations, list the test\n" +
			"catalog and scanned plugins, and stream run progress as server-sent\n" +
			"events. The listen address and bearer tokens come from the config file\n" +
			"unless overridden.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config

			addr := cfg.API.Listen
			if cmd.Flags().Changed("listen") {
				addr = listen
			}

			runner, err := buildRunner(cfg.Validate)
			if err != nil {
				return WrapExitError(ExitCommandError, "setting up the test runner", err)
			}
			logger := log.WithComponent("cli")
			sweepScratch(cfg.Validate.ScratchDir, logger)

			hub := events.NewHub(1024)
			server := api.New(api.Config{
				Listen:         addr,
				Tokens:         cfg.API.Auth.BearerTokens(),
				DefaultTimeout: cfg.Validate.Timeout,
			}, &pipelineValidator{runner: runner, hub: hub, inProcess: cfg.Validate.InProcess}, hub, log.WithComponent("api"))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return WrapExitError(ExitCommandError, "api server", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides the config file)")
	return cmd
}

// Package cli wires the clapcheck command tree: validation runs, catalog
// and plugin listings, the HTTP API server, and the hidden child-process
// entrypoint the isolation harness re-executes.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/clapcheck/clapcheck/internal/config"
	"github.com/clapcheck/clapcheck/internal/log"
)

// RootOptions holds global flags and the resolved configuration shared by
// all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string

	// Config is resolved by the root PersistentPreRunE before any
	// subcommand runs.
	Config *config.Config
}

// NewRootCommand creates the root command for the clapcheck CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "clapcheck",
		Short: "Conformance validator for CLAP plugin libraries",
		Long: "clapcheck loads CLAP plugin libraries through their native entrypoint and\n" +
			"runs a catalog of conformance tests against every plugin inside, each test\n" +
			"in its own disposable child process so a crashing plugin cannot take the\n" +
			"validator down with it.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Defaults()
			if opts.ConfigPath != "" {
				loaded, err := config.Load(opts.ConfigPath)
				if err != nil {
					return WrapExitError(ExitCommandError, "loading config", err)
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.LogLevel
			}
			log.Setup(cfg.LogLevel)
			opts.Config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSingleTestCommand(opts))

	return cmd
}

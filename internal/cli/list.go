package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/clapcheck/clapcheck/internal/catalog"
	"github.com/clapcheck/clapcheck/internal/scheduler"
)

// NewListCommand creates the list command group.
func NewListCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List test cases or discovered plugins",
	}
	cmd.AddCommand(newListTestsCommand(opts))
	cmd.AddCommand(newListPluginsCommand(opts))
	return cmd
}

// testInfo is the JSON shape of one catalog entry.
type testInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

func newListTestsCommand(opts *RootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List every registered conformance test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cases := catalog.All()

			if jsonOut {
				infos := make([]testInfo, 0, len(cases))
				for _, c := range cases {
					infos = append(infos, testInfo{
						ID:          c.ID,
						Kind:        string(c.Kind),
						Category:    string(c.Category),
						Description: c.Description,
					})
				}
				return printJSON(cmd.OutOrStdout(), infos)
			}

			printCaseGroup(cmd.OutOrStdout(), "Library tests:", catalog.KindLibrary, cases)
			printCaseGroup(cmd.OutOrStdout(), "Plugin tests:", catalog.KindPlugin, cases)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the listing as JSON")
	return cmd
}

func printCaseGroup(w io.Writer, heading string, kind catalog.Kind, cases []catalog.Case) {
	var kept []catalog.Case
	for _, c := range cases {
		if c.Kind == kind {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })

	fmt.Fprintln(w, heading)
	for _, c := range kept {
		fmt.Fprintf(w, "  %-36s %-20s %s\n", c.ID, c.Category, c.Description)
	}
	fmt.Fprintln(w)
}

func newListPluginsCommand(opts *RootOptions) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "plugins <library.clap> [more libraries or directories...]",
		Short: "Scan libraries and list the plugins they export",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index := scheduler.NewPlanner().Index(args...)

			if jsonOut {
				if err := printJSON(cmd.OutOrStdout(), index); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, entry := range index.Entries {
					fmt.Fprintf(out, "%s (clap %s)\n", entry.Path, entry.Version)
					for _, desc := range entry.Plugins {
						fmt.Fprintf(out, "  %-40s %s %s\n", desc.ID, desc.Name, desc.Version)
					}
				}
				if len(index.Failures) > 0 {
					fmt.Fprintln(out, "\nFailed to load:")
					for _, failure := range index.Failures {
						fmt.Fprintf(out, "  %s: %s\n", failure.Path, failure.Error)
					}
				}
			}

			if len(index.Entries) == 0 {
				if len(index.Failures) > 0 {
					return NewExitError(ExitFailure, fmt.Sprintf("%d libraries failed to load", len(index.Failures)))
				}
				return NewExitError(ExitCommandError, "no plugin libraries found")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the scan result as JSON")
	return cmd
}

func printJSON(w io.Writer, data any) error {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "encoding JSON", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

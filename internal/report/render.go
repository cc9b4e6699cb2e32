package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme centralizes the styling of the text report. Keeping all styles in
// one struct lets tests render with unstyled output and keeps colors in one
// place.
type Theme struct {
	Pass    lipgloss.Style
	Fail    lipgloss.Style
	Warning lipgloss.Style
	Skip    lipgloss.Style
	Crash   lipgloss.Style
	Timeout lipgloss.Style
	Dim     lipgloss.Style
}

// DefaultTheme returns the terminal color scheme.
func DefaultTheme() Theme {
	red := lipgloss.Color("1")
	green := lipgloss.Color("2")
	yellow := lipgloss.Color("3")

	return Theme{
		Pass:    lipgloss.NewStyle().Foreground(green),
		Fail:    lipgloss.NewStyle().Foreground(red),
		Warning: lipgloss.NewStyle().Foreground(yellow),
		Skip:    lipgloss.NewStyle().Foreground(yellow),
		Crash:   lipgloss.NewStyle().Foreground(red).Bold(true),
		Timeout: lipgloss.NewStyle().Foreground(red).Bold(true),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// PlainTheme returns a theme with no styling at all. Golden tests use it so
// fixtures stay free of escape sequences.
func PlainTheme() Theme {
	return Theme{
		Pass:    lipgloss.NewStyle(),
		Fail:    lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Skip:    lipgloss.NewStyle(),
		Crash:   lipgloss.NewStyle(),
		Timeout: lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
	}
}

// ForOutcome returns the style for one outcome.
func (th Theme) ForOutcome(o Outcome) lipgloss.Style {
	switch o {
	case Pass:
		return th.Pass
	case Fail:
		return th.Fail
	case Warning:
		return th.Warning
	case Skip:
		return th.Skip
	case Crash:
		return th.Crash
	case Timeout:
		return th.Timeout
	default:
		return th.Dim
	}
}

// RenderOptions tunes the text report.
type RenderOptions struct {
	// OnlyFailed hides passed and skipped results. The summary line still
	// counts everything: the tally is taken before filtering.
	OnlyFailed bool
}

// Text renders the grouped human-readable report. Library-level results are
// grouped by library path, plugin-level results by plugin ID; groups and the
// results within them are sorted so the report is independent of completion
// order.
func Text(run *Run, theme Theme, opts RenderOptions) string {
	tally := run.Tally()

	results := run.Snapshot()
	if opts.OnlyFailed {
		kept := results[:0]
		for _, res := range results {
			if res.Outcome.FailedOrWarning() {
				kept = append(kept, res)
			}
		}
		results = kept
	}

	libraryGroups := groupBy(results, func(res TestResult) (string, bool) {
		return res.Invocation.Library, res.Invocation.PluginID == ""
	})
	pluginGroups := groupBy(results, func(res TestResult) (string, bool) {
		return res.Invocation.PluginID, res.Invocation.PluginID != ""
	})

	var out strings.Builder
	if len(libraryGroups) > 0 {
		out.WriteString("Plugin library tests:\n")
		writeGroups(&out, libraryGroups, theme)
		out.WriteString("\n")
	}
	if len(pluginGroups) > 0 {
		out.WriteString("Plugin tests:\n")
		writeGroups(&out, pluginGroups, theme)
		out.WriteString("\n")
	}

	out.WriteString(summaryLine(tally))
	out.WriteString("\n")
	return out.String()
}

// JSON renders the machine-readable report.
func JSON(run *Run) (string, error) {
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

type group struct {
	key     string
	results []TestResult
}

func groupBy(results []TestResult, key func(TestResult) (string, bool)) []group {
	byKey := map[string][]TestResult{}
	for _, res := range results {
		k, ok := key(res)
		if !ok {
			continue
		}
		byKey[k] = append(byKey[k], res)
	}

	groups := make([]group, 0, len(byKey))
	for k, grouped := range byKey {
		sort.Slice(grouped, func(i, j int) bool {
			return grouped[i].Invocation.TestID < grouped[j].Invocation.TestID
		})
		groups = append(groups, group{key: k, results: grouped})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })
	return groups
}

func writeGroups(out *strings.Builder, groups []group, theme Theme) {
	for _, g := range groups {
		fmt.Fprintf(out, "\n - %s\n", g.key)
		for _, res := range g.results {
			out.WriteString("\n")
			writeResult(out, res, theme)
		}
	}
}

func writeResult(out *strings.Builder, res TestResult, theme Theme) {
	if res.Description != "" {
		fmt.Fprintf(out, "   - %s: %s\n", res.Invocation.TestID, res.Description)
	} else {
		fmt.Fprintf(out, "   - %s\n", res.Invocation.TestID)
	}

	label := theme.ForOutcome(res.Outcome).Render(res.Outcome.Label())
	if res.Message != "" {
		fmt.Fprintf(out, "     %s: %s\n", label, res.Message)
	} else {
		fmt.Fprintf(out, "     %s\n", label)
	}

	for _, key := range sortedKeys(res.Diagnostics) {
		fmt.Fprintf(out, "       %s\n", theme.Dim.Render(key+": "+res.Diagnostics[key]))
	}
}

func summaryLine(t Tally) string {
	noun := "tests"
	if t.Total() == 1 {
		noun = "test"
	}
	return fmt.Sprintf("%d %s run, %d passed, %d failed, %d skipped, %d warnings",
		t.Total(), noun, t.Passed, t.TotalFailed(), t.Skipped, t.Warnings)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

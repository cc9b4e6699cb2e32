// Package catalog holds the conformance test cases. Each case is
// registered once under a stable string ID so it can be listed, filtered,
// and re-invoked by name inside an isolated child process. Cases are pure
// functions from a plugin library (and optionally a plugin ID) to a
// verdict; everything they need from the outside world arrives through an
// Env so tests can substitute fakes for native loading.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/loader"
	"github.com/clapcheck/clapcheck/internal/report"
)

// Kind separates cases that exercise a whole library file from cases that
// exercise one plugin inside it.
type Kind string

const (
	KindLibrary Kind = "library"
	KindPlugin  Kind = "plugin"
)

// Category groups cases for reporting and filtering.
type Category string

const (
	CategoryFactory    Category = "factory-validation"
	CategoryLifecycle  Category = "lifecycle"
	CategoryState      Category = "state-persistence"
	CategoryParams     Category = "parameter-behavior"
	CategoryProcessing Category = "processing"
	// CategoryThreadSafety exists for the filter surface. Thread affinity
	// violations currently surface as failures inside the parameter and
	// processing cases rather than through a standalone case.
	CategoryThreadSafety Category = "thread-safety"
)

// Case is one registered conformance check.
type Case struct {
	ID          string
	Kind        Kind
	Category    Category
	Description string

	// Run executes the case. The library is loaded fresh inside Run;
	// pluginID is empty for library cases.
	Run func(env *Env, libraryPath, pluginID string) Verdict
}

// Env carries the injectable seams between a case and native code.
type Env struct {
	// Open loads a plugin library. Production wiring uses clap.Open.
	Open loader.OpenFunc
	// CheckBinding probes the library under immediate symbol binding.
	CheckBinding func(path string) error
	// ScratchDir is an invocation-scoped temporary directory. State cases
	// round-trip saved states through preset files under it when set. The
	// harness creates and removes it; cases never clean it up themselves.
	ScratchDir string
}

// DefaultEnv returns the production environment backed by native loading.
func DefaultEnv() *Env {
	return &Env{
		Open:         clap.Open,
		CheckBinding: loader.CheckImmediateBinding,
	}
}

// Verdict is the outcome of running one case.
type Verdict struct {
	Outcome     report.Outcome
	Message     string
	Diagnostics map[string]string
}

// Pass returns a passing verdict without details.
func Pass() Verdict {
	return Verdict{Outcome: report.Pass}
}

// Passf returns a passing verdict with details.
func Passf(format string, args ...any) Verdict {
	return Verdict{Outcome: report.Pass, Message: fmt.Sprintf(format, args...)}
}

// Fail converts an error into a failing verdict.
func Fail(err error) Verdict {
	return Verdict{Outcome: report.Fail, Message: err.Error()}
}

// Failf returns a failing verdict with details.
func Failf(format string, args ...any) Verdict {
	return Verdict{Outcome: report.Fail, Message: fmt.Sprintf(format, args...)}
}

// Skipf returns a skipped verdict with the reason the preconditions were
// not met.
func Skipf(format string, args ...any) Verdict {
	return Verdict{Outcome: report.Skip, Message: fmt.Sprintf(format, args...)}
}

// Warnf returns a warning verdict, reserved for checks whose outcome
// depends on the target system rather than on the plugin alone.
func Warnf(format string, args ...any) Verdict {
	return Verdict{Outcome: report.Warning, Message: fmt.Sprintf(format, args...)}
}

var registry = map[string]Case{}

func register(c Case) {
	if _, dup := registry[c.ID]; dup {
		panic(fmt.Sprintf("catalog: duplicate test case ID %q", c.ID))
	}
	registry[c.ID] = c
}

// All returns every registered case, library cases first, each group in
// ascending ID order.
func All() []Case {
	out := make([]Case, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindLibrary
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ByKind returns the cases of one kind in ascending ID order.
func ByKind(k Kind) []Case {
	var out []Case
	for _, c := range All() {
		if c.Kind == k {
			out = append(out, c)
		}
	}
	return out
}

// Lookup finds a case by its exact ID.
func Lookup(id string) (Case, bool) {
	c, ok := registry[id]
	return c, ok
}

// Filter returns the cases whose ID contains the pattern as a substring.
// An empty pattern selects everything.
func Filter(pattern string) []Case {
	if pattern == "" {
		return All()
	}
	var out []Case
	for _, c := range All() {
		if strings.Contains(c.ID, pattern) {
			out = append(out, c)
		}
	}
	return out
}

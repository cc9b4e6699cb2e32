// Package report holds the validator's result model: invocations, per-test
// results, run aggregation, and the text and JSON renderings consumed by the
// CLI and the HTTP API.
package report

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal classification of one invocation. Serialized in
// kebab-case under the "code" key.
type Outcome string

const (
	Pass    Outcome = "pass"
	Fail    Outcome = "fail"
	Warning Outcome = "warning"
	Skip    Outcome = "skip"
	Crash   Outcome = "crash"
	Timeout Outcome = "timeout"
)

// Valid reports whether o is one of the defined outcomes. The harness codec
// rejects child output carrying anything else.
func (o Outcome) Valid() bool {
	switch o {
	case Pass, Fail, Warning, Skip, Crash, Timeout:
		return true
	}
	return false
}

// Failed reports whether o counts against the run's exit status.
func (o Outcome) Failed() bool {
	return o == Fail || o == Crash || o == Timeout
}

// FailedOrWarning reports whether a result with this outcome is kept by the
// --only-failed filter.
func (o Outcome) FailedOrWarning() bool {
	return o.Failed() || o == Warning
}

// Label is the upper-case status word used in the text report.
func (o Outcome) Label() string {
	switch o {
	case Pass:
		return "PASSED"
	case Fail:
		return "FAILED"
	case Warning:
		return "WARNING"
	case Skip:
		return "SKIPPED"
	case Crash:
		return "CRASHED"
	case Timeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Invocation identifies one (library, plugin, test) execution. It is the
// unit of scheduling and of process isolation: the parent serializes it to
// the child's stdin, and the child answers with exactly one TestResult.
type Invocation struct {
	ID      uuid.UUID `json:"id"`
	Library string    `json:"library"`
	// PluginID is empty for library-level tests.
	PluginID  string        `json:"plugin_id,omitempty"`
	TestID    string        `json:"test_id"`
	Timeout   time.Duration `json:"timeout_ns"`
	InProcess bool          `json:"in_process,omitempty"`
}

// NewInvocation builds an invocation with a fresh ID.
func NewInvocation(library, pluginID, testID string, timeout time.Duration) Invocation {
	return Invocation{
		ID:       uuid.New(),
		Library:  library,
		PluginID: pluginID,
		TestID:   testID,
		Timeout:  timeout,
	}
}

// TestResult is the terminal outcome of one invocation. Every invocation
// resolves to exactly one TestResult, whatever happens to the child process.
type TestResult struct {
	Invocation  Invocation        `json:"invocation"`
	Description string            `json:"description,omitempty"`
	Outcome     Outcome           `json:"code"`
	Message     string            `json:"details,omitempty"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
	Duration    time.Duration     `json:"duration_ns"`
}

// Run aggregates the results of one validation. Results append in completion
// order; renderers sort for display so two runs of the same plan render
// identically regardless of worker interleaving.
type Run struct {
	ID        uuid.UUID    `json:"id"`
	StartedAt time.Time    `json:"started_at"`
	Results   []TestResult `json:"results"`

	mu sync.Mutex
}

// NewRun returns an empty run stamped with a fresh ID.
func NewRun() *Run {
	return &Run{ID: uuid.New(), StartedAt: time.Now().UTC()}
}

// Append records one result. Safe for concurrent use by scheduler workers.
func (r *Run) Append(res TestResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results = append(r.Results, res)
}

// Snapshot returns a copy of the results collected so far.
func (r *Run) Snapshot() []TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TestResult, len(r.Results))
	copy(out, r.Results)
	return out
}

// Len returns the number of results collected so far.
func (r *Run) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Results)
}

// Tally counts outcomes. It is always derived from the results, never
// stored, so it cannot drift from them.
type Tally struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Warnings int `json:"warnings"`
	Skipped  int `json:"skipped"`
	Crashed  int `json:"crashed"`
	TimedOut int `json:"timed_out"`
}

// Tally derives the outcome counts for the run.
func (r *Run) Tally() Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	var t Tally
	for _, res := range r.Results {
		switch res.Outcome {
		case Pass:
			t.Passed++
		case Fail:
			t.Failed++
		case Warning:
			t.Warnings++
		case Skip:
			t.Skipped++
		case Crash:
			t.Crashed++
		case Timeout:
			t.TimedOut++
		}
	}
	return t
}

// Total is the number of tallied results.
func (t Tally) Total() int {
	return t.Passed + t.Failed + t.Warnings + t.Skipped + t.Crashed + t.TimedOut
}

// TotalFailed folds crashes and timeouts into the failure count. The process
// exit code and the summary line's "failed" column both use this.
func (t Tally) TotalFailed() int {
	return t.Failed + t.Crashed + t.TimedOut
}

// FilterFailed returns a copy of the run keeping only results the
// --only-failed view shows. Tally the original first: filtering is a display
// concern and must not change the counts.
func (r *Run) FilterFailed() *Run {
	filtered := &Run{ID: r.ID, StartedAt: r.StartedAt}
	for _, res := range r.Snapshot() {
		if res.Outcome.FailedOrWarning() {
			filtered.Results = append(filtered.Results, res)
		}
	}
	return filtered
}

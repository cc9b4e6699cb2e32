package report

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
)

// fixedRun builds a run with deterministic IDs and a bit of everything:
// library and plugin groups, every outcome, diagnostics. Results are
// appended out of order to prove rendering sorts them.
func fixedRun() *Run {
	run := &Run{
		ID:        uuid.MustParse("6a1f5647-0f0f-4b54-9c11-4e2d3a8f29aa"),
		StartedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	inv := func(library, pluginID, testID string) Invocation {
		return Invocation{
			ID:       uuid.NewSHA1(uuid.NameSpaceOID, []byte(library+pluginID+testID)),
			Library:  library,
			PluginID: pluginID,
			TestID:   testID,
			Timeout:  time.Minute,
		}
	}

	run.Append(TestResult{
		Invocation:  inv("/plugins/gain.clap", "com.example.gain", "param-conversions"),
		Description: "Asks the plugin to convert parameter values to text and back.",
		Outcome:     Fail,
		Message:     "round-trip mismatch",
		Diagnostics: map[string]string{"param 1 ('Gain')": "expected 0.5, actual 0.25"},
		Duration:    12 * time.Millisecond,
	})
	run.Append(TestResult{
		Invocation:  inv("/plugins/gain.clap", "", "scan-time"),
		Description: "Checks whether the plugin can be scanned in under 100 milliseconds.",
		Outcome:     Warning,
		Message:     "scanning took 152ms",
		Duration:    152 * time.Millisecond,
	})
	run.Append(TestResult{
		Invocation:  inv("/plugins/gain.clap", "com.example.gain", "descriptor-consistency"),
		Description: "Checks whether the factory and instance descriptors match.",
		Outcome:     Pass,
		Duration:    3 * time.Millisecond,
	})
	run.Append(TestResult{
		Invocation:  inv("/plugins/synth.clap", "com.example.synth", "state-load-empty"),
		Description: "Checks whether the plugin rejects an empty state stream.",
		Outcome:     Skip,
		Message:     "plugin does not implement clap.state",
		Duration:    time.Millisecond,
	})
	run.Append(TestResult{
		Invocation:  inv("/plugins/synth.clap", "", "scan-rtld-now"),
		Description: "Checks whether the plugin loads with immediate symbol binding.",
		Outcome:     Pass,
		Duration:    9 * time.Millisecond,
	})
	run.Append(TestResult{
		Invocation:  inv("/plugins/synth.clap", "com.example.synth", "process-note-out-of-place-basic"),
		Description: "Sends random note events during out-of-place audio processing.",
		Outcome:     Crash,
		Message:     "signal: segmentation fault",
		Duration:    480 * time.Millisecond,
	})
	run.Append(TestResult{
		Invocation:  inv("/plugins/synth.clap", "com.example.synth", "param-fuzz-basic"),
		Description: "Performs randomized parameter fuzzing during audio processing.",
		Outcome:     Timeout,
		Message:     "exceeded 60s deadline",
		Duration:    time.Minute,
	})
	return run
}

func TestTextGolden(t *testing.T) {
	text := Text(fixedRun(), PlainTheme(), RenderOptions{})

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "full_report", []byte(text))
}

func TestTextGoldenOnlyFailed(t *testing.T) {
	text := Text(fixedRun(), PlainTheme(), RenderOptions{OnlyFailed: true})

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "only_failed_report", []byte(text))
}

func TestTextSingularSummary(t *testing.T) {
	run := NewRun()
	run.Append(TestResult{
		Invocation: NewInvocation("/p/a.clap", "", "scan-time", time.Minute),
		Outcome:    Pass,
	})

	text := Text(run, PlainTheme(), RenderOptions{})
	assert.Contains(t, text, "1 test run, 1 passed, 0 failed, 0 skipped, 0 warnings")
}

func TestTally(t *testing.T) {
	tally := fixedRun().Tally()

	assert.Equal(t, Tally{Passed: 2, Failed: 1, Warnings: 1, Skipped: 1, Crashed: 1, TimedOut: 1}, tally)
	assert.Equal(t, 7, tally.Total())
	assert.Equal(t, 3, tally.TotalFailed())
}

func TestFilterFailedKeepsTallySource(t *testing.T) {
	run := fixedRun()
	filtered := run.FilterFailed()

	assert.Len(t, filtered.Results, 4)
	for _, res := range filtered.Results {
		assert.True(t, res.Outcome.FailedOrWarning(), "unexpected outcome %q", res.Outcome)
	}
	// The original run is untouched.
	assert.Equal(t, 7, run.Len())
	assert.Equal(t, run.ID, filtered.ID)
}

func TestOutcomePredicates(t *testing.T) {
	tests := []struct {
		outcome         Outcome
		valid           bool
		failed          bool
		failedOrWarning bool
		label           string
	}{
		{Pass, true, false, false, "PASSED"},
		{Fail, true, true, true, "FAILED"},
		{Warning, true, false, true, "WARNING"},
		{Skip, true, false, false, "SKIPPED"},
		{Crash, true, true, true, "CRASHED"},
		{Timeout, true, true, true, "TIMEOUT"},
		{Outcome("banana"), false, false, false, "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.outcome.Valid())
			assert.Equal(t, tt.failed, tt.outcome.Failed())
			assert.Equal(t, tt.failedOrWarning, tt.outcome.FailedOrWarning())
			assert.Equal(t, tt.label, tt.outcome.Label())
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	out, err := JSON(fixedRun())
	assert.NoError(t, err)

	var decoded Run
	assert.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "6a1f5647-0f0f-4b54-9c11-4e2d3a8f29aa", decoded.ID.String())
	assert.Len(t, decoded.Results, 7)
	assert.Equal(t, Fail, decoded.Results[0].Outcome)
	assert.Equal(t, "param-conversions", decoded.Results[0].Invocation.TestID)
}

func TestDefaultThemeStyling(t *testing.T) {
	theme := DefaultTheme()
	assert.True(t, theme.Crash.GetBold())
	assert.True(t, theme.Timeout.GetBold())
	assert.False(t, theme.Pass.GetBold())
}

package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/clap/claptest"
	"github.com/clapcheck/clapcheck/internal/events"
	"github.com/clapcheck/clapcheck/internal/log"
	"github.com/clapcheck/clapcheck/internal/report"
	"github.com/clapcheck/clapcheck/internal/scheduler/mocks"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// TestLogBuffer is a bytes.Buffer that captures log output.
type TestLogBuffer struct {
	bytes.Buffer
}

// NewTestSlogger creates a *slog.Logger that writes to a TestLogBuffer.
func NewTestSlogger() (*slog.Logger, *TestLogBuffer) {
	var buf TestLogBuffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

// writeLibraryFiles creates placeholder .clap files so the planner's scan
// has something to stat and digest, and returns an opener that dispatches
// to the right fake library by path.
func writeLibraryFiles(t *testing.T, libs map[string]*claptest.Library) (string, func(string) (clap.Library, error)) {
	t.Helper()
	dir := t.TempDir()

	byPath := map[string]*claptest.Library{}
	for name, lib := range libs {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
		byPath[path] = lib
	}

	open := func(path string) (clap.Library, error) {
		lib, ok := byPath[path]
		if !ok {
			return nil, fmt.Errorf("no fake library for %q", path)
		}
		return lib.Opener()(path)
	}
	return dir, open
}

func TestPlanCrossProduct(t *testing.T) {
	dir, open := writeLibraryFiles(t, map[string]*claptest.Library{
		"a.clap": claptest.NewLibrary("",
			claptest.NewEffectPlugin("com.example.one", "One"),
			claptest.NewEffectPlugin("com.example.two", "Two")),
		"b.clap": claptest.NewLibrary("",
			claptest.NewInstrumentPlugin("com.example.three", "Three")),
	})

	planner := &Planner{Open: open}
	plan := planner.Plan(Options{Paths: []string{dir}, Timeout: 30 * time.Second})

	require.Empty(t, plan.LoadFailures)

	// 5 library cases per library, 12 plugin cases per plugin.
	assert.Len(t, plan.Invocations, 2*5+3*12)
	assert.Equal(t, 2*5+3*12, plan.Total())

	for _, inv := range plan.Invocations {
		assert.NotEqual(t, inv.ID.String(), "00000000-0000-0000-0000-000000000000")
		assert.Equal(t, 30*time.Second, inv.Timeout)
		assert.False(t, inv.InProcess)
	}
}

func TestPlanFilter(t *testing.T) {
	dir, open := writeLibraryFiles(t, map[string]*claptest.Library{
		"a.clap": claptest.NewLibrary("", claptest.NewEffectPlugin("com.example.one", "One")),
	})

	planner := &Planner{Open: open}
	plan := planner.Plan(Options{Paths: []string{dir}, Filter: "state", Timeout: time.Minute})

	// The four state cases are the only IDs containing "state".
	require.Len(t, plan.Invocations, 4)
	for _, inv := range plan.Invocations {
		assert.Contains(t, inv.TestID, "state")
		assert.Equal(t, "com.example.one", inv.PluginID)
	}
}

func TestPlanInProcessMark(t *testing.T) {
	dir, open := writeLibraryFiles(t, map[string]*claptest.Library{
		"a.clap": claptest.NewLibrary("", claptest.NewEffectPlugin("com.example.one", "One")),
	})

	planner := &Planner{Open: open}
	plan := planner.Plan(Options{Paths: []string{dir}, Timeout: time.Minute, InProcess: true})

	for _, inv := range plan.Invocations {
		assert.True(t, inv.InProcess)
	}
}

func TestPlanLoadFailure(t *testing.T) {
	lib := claptest.NewLibrary("", claptest.NewEffectPlugin("com.example.one", "One"))
	dir, open := writeLibraryFiles(t, map[string]*claptest.Library{
		"good.clap": lib,
	})
	// An on-disk library the opener refuses to load.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.clap"), []byte("broken"), 0o644))

	planner := &Planner{Open: open}
	plan := planner.Plan(Options{Paths: []string{dir}, Timeout: time.Minute})

	require.Len(t, plan.LoadFailures, 1)
	failure := plan.LoadFailures[0]
	assert.Equal(t, report.Fail, failure.Outcome)
	assert.Equal(t, LoadFailureTestID, failure.Invocation.TestID)
	assert.Contains(t, failure.Invocation.Library, "broken.clap")
	assert.Contains(t, failure.Message, "no fake library")

	// The broken library contributes nothing else; the good one plans fully.
	assert.Len(t, plan.Invocations, 5+12)
	for _, inv := range plan.Invocations {
		assert.NotContains(t, inv.Library, "broken.clap")
	}
}

func planOf(n int) *Plan {
	plan := &Plan{}
	for i := 0; i < n; i++ {
		inv := report.NewInvocation("/plugins/gain.clap", "com.example.gain", fmt.Sprintf("case-%02d", i), time.Minute)
		plan.Invocations = append(plan.Invocations, inv)
	}
	return plan
}

func TestExecuteCollectsAllResults(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRunner := mocks.NewMockRunner(ctrl)
	mockRunner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv report.Invocation) report.TestResult {
			return report.TestResult{Invocation: inv, Outcome: report.Pass}
		}).Times(6)

	plan := planOf(6)
	plan.LoadFailures = append(plan.LoadFailures, report.TestResult{
		Invocation: report.NewInvocation("/plugins/broken.clap", "", LoadFailureTestID, time.Minute),
		Outcome:    report.Fail,
		Message:    "dlopen failed",
	})

	slogger, logBuf := NewTestSlogger()
	hub := events.NewHub(64)
	s := New(mockRunner, hub, 3, slogger)

	run := s.Execute(context.Background(), plan)

	assert.Equal(t, 7, run.Len())
	tally := run.Tally()
	assert.Equal(t, 6, tally.Passed)
	assert.Equal(t, 1, tally.Failed)
	assert.Contains(t, logBuf.String(), "run finished")
	assert.Contains(t, logBuf.String(), "library failed to load")

	var started, finished, loadFailed, runStarted, runFinished int
	for _, ev := range hub.SnapshotSince(0) {
		switch ev.Topic {
		case events.TopicInvocationStarted:
			started++
		case events.TopicInvocationFinished:
			finished++
		case events.TopicLibraryLoadFailed:
			loadFailed++
		case events.TopicRunStarted:
			runStarted++
		case events.TopicRunFinished:
			runFinished++
		}
	}
	assert.Equal(t, 6, started)
	assert.Equal(t, 7, finished, "load failures count toward progress")
	assert.Equal(t, 1, loadFailed)
	assert.Equal(t, 1, runStarted)
	assert.Equal(t, 1, runFinished)
}

func TestExecuteSequentialPreservesPlanOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var order []string
	mockRunner := mocks.NewMockRunner(ctrl)
	mockRunner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, inv report.Invocation) report.TestResult {
			order = append(order, inv.TestID)
			return report.TestResult{Invocation: inv, Outcome: report.Pass}
		}).Times(4)

	plan := planOf(4)
	slogger, _ := NewTestSlogger()
	s := New(mockRunner, nil, 1, slogger)

	run := s.Execute(context.Background(), plan)

	require.Equal(t, 4, run.Len())
	assert.Equal(t, []string{"case-00", "case-01", "case-02", "case-03"}, order)

	results := run.Snapshot()
	for i, res := range results {
		assert.Equal(t, fmt.Sprintf("case-%02d", i), res.Invocation.TestID)
	}
}

func TestExecuteCancellationStopsDispatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	mockRunner := mocks.NewMockRunner(ctrl)
	mockRunner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, inv report.Invocation) report.TestResult {
			close(started)
			<-ctx.Done()
			return report.TestResult{Invocation: inv, Outcome: report.Skip, Message: "the run was canceled before the test finished"}
		}).Times(1)

	go func() {
		<-started
		cancel()
	}()

	plan := planOf(3)
	slogger, logBuf := NewTestSlogger()
	s := New(mockRunner, nil, 1, slogger)

	run := s.Execute(ctx, plan)

	// One invocation was in flight when the context died; the other two
	// were never dispatched.
	assert.Equal(t, 1, run.Len())
	assert.Equal(t, report.Skip, run.Snapshot()[0].Outcome)
	assert.Contains(t, logBuf.String(), "run canceled")
}

func TestExecuteEmptyPlan(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRunner := mocks.NewMockRunner(ctrl)
	slogger, _ := NewTestSlogger()
	hub := events.NewHub(16)
	s := New(mockRunner, hub, 4, slogger)

	run := s.Execute(context.Background(), &Plan{})

	assert.Zero(t, run.Len())
	topics := hub.SnapshotSince(0)
	require.Len(t, topics, 2)
	assert.Equal(t, events.TopicRunStarted, topics[0].Topic)
	assert.Equal(t, events.TopicRunFinished, topics[1].Topic)
}

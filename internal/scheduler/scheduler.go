// Package scheduler plans a validation run as the cross product of
// discovered plugins and registered test cases, then executes the plan on
// a bounded worker pool. Planning and execution are separate steps so the
// CLI can show the plan size before anything runs and the API can reject
// oversized requests early.
package scheduler

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/clapcheck/clapcheck/internal/catalog"
	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/events"
	"github.com/clapcheck/clapcheck/internal/loader"
	"github.com/clapcheck/clapcheck/internal/log"
	"github.com/clapcheck/clapcheck/internal/report"
)

// LoadFailureTestID is the pseudo test ID carried by the one Fail result
// synthesized for a library that could not be scanned at plan time. It is
// deliberately not a catalog ID: no case ran.
const LoadFailureTestID = "library-load"

// Options shape one validation run.
type Options struct {
	// Paths are the library files or directories to validate.
	Paths []string
	// Filter keeps only test cases whose ID contains this substring.
	Filter string
	// Timeout is the per-invocation deadline.
	Timeout time.Duration
	// InProcess marks every invocation for in-process execution.
	InProcess bool
}

// Plan is the expansion of one run: every invocation to execute, plus a
// synthesized failure per library that could not be enumerated. Invocation
// order is deterministic for a given filesystem state: libraries in scan
// order, cases in catalog order, plugins in factory order.
type Plan struct {
	Invocations  []report.Invocation
	LoadFailures []report.TestResult
}

// Total counts the results the plan will produce.
func (p *Plan) Total() int {
	return len(p.Invocations) + len(p.LoadFailures)
}

// Planner expands Options into a Plan. The opener seam exists for tests;
// production planning dlopens each library once to enumerate its plugins.
type Planner struct {
	Open loader.OpenFunc
}

// NewPlanner returns a planner backed by native loading.
func NewPlanner() *Planner {
	return &Planner{Open: clap.Open}
}

// Index scans paths for plugin libraries without planning any tests. The
// list-plugins surfaces use it directly.
func (p *Planner) Index(paths ...string) *loader.Index {
	return loader.BuildIndex(p.Open, paths...)
}

// Plan scans opts.Paths and crosses what it finds with the filtered
// catalog: library cases once per library, plugin cases once per plugin.
// A library that cannot be scanned contributes a single Fail result and
// nothing else.
func (p *Planner) Plan(opts Options) *Plan {
	var libraryCases, pluginCases []catalog.Case
	for _, c := range catalog.Filter(opts.Filter) {
		switch c.Kind {
		case catalog.KindLibrary:
			libraryCases = append(libraryCases, c)
		case catalog.KindPlugin:
			pluginCases = append(pluginCases, c)
		}
	}

	index := p.Index(opts.Paths...)
	plan := &Plan{}

	for _, failure := range index.Failures {
		inv := report.NewInvocation(failure.Path, "", LoadFailureTestID, opts.Timeout)
		inv.InProcess = opts.InProcess
		plan.LoadFailures = append(plan.LoadFailures, report.TestResult{
			Invocation:  inv,
			Description: "Loads the plugin library and enumerates its plugins.",
			Outcome:     report.Fail,
			Message:     failure.Error,
		})
	}

	for _, entry := range index.Entries {
		for _, c := range libraryCases {
			inv := report.NewInvocation(entry.Path, "", c.ID, opts.Timeout)
			inv.InProcess = opts.InProcess
			plan.Invocations = append(plan.Invocations, inv)
		}
		for _, desc := range entry.Plugins {
			for _, c := range pluginCases {
				inv := report.NewInvocation(entry.Path, desc.ID, c.ID, opts.Timeout)
				inv.InProcess = opts.InProcess
				plan.Invocations = append(plan.Invocations, inv)
			}
		}
	}

	return plan
}

// Scheduler executes plans on a bounded worker pool.
type Scheduler struct {
	runner  Runner
	hub     *events.Hub
	workers int
	logger  *slog.Logger
}

// New creates a scheduler. workers <= 0 means one worker per CPU; 1 runs
// the plan sequentially in plan order. A nil hub gets a private one so
// publishing never needs a nil check.
func New(runner Runner, hub *events.Hub, workers int, logger *slog.Logger) *Scheduler {
	if hub == nil {
		hub = events.NewHub(256)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = log.Get()
	}
	return &Scheduler{
		runner:  runner,
		hub:     hub,
		workers: workers,
		logger:  logger.With("component", "scheduler"),
	}
}

// Execute runs every invocation in the plan and returns the aggregated
// run. Results append in completion order. Cancellation stops dispatching
// new invocations and waits for in-flight ones to resolve, so the returned
// run is always internally consistent, just possibly short.
func (s *Scheduler) Execute(ctx context.Context, plan *Plan) *report.Run {
	run := report.NewRun()
	total := plan.Total()

	s.logger.Info("starting run", "run_id", run.ID, "invocations", len(plan.Invocations), "load_failures", len(plan.LoadFailures), "workers", s.workers)
	s.hub.Publish(events.TopicRunStarted, events.RunStarted{
		RunID: run.ID.String(),
		Total: total,
	})

	var completed int
	var progressMu sync.Mutex
	record := func(res report.TestResult) {
		run.Append(res)

		progressMu.Lock()
		completed++
		done := completed
		progressMu.Unlock()

		s.hub.Publish(events.TopicInvocationFinished, events.InvocationFinished{
			InvocationID: res.Invocation.ID.String(),
			Library:      res.Invocation.Library,
			PluginID:     res.Invocation.PluginID,
			TestID:       res.Invocation.TestID,
			Outcome:      string(res.Outcome),
			Message:      res.Message,
			DurationMS:   res.Duration.Milliseconds(),
			Completed:    done,
			Total:        total,
		})
	}

	for _, res := range plan.LoadFailures {
		s.logger.Warn("library failed to load", "library", res.Invocation.Library, "error", res.Message)
		s.hub.Publish(events.TopicLibraryLoadFailed, events.LibraryLoadFailed{
			Library: res.Invocation.Library,
			Error:   res.Message,
		})
		record(res)
	}

	workers := s.workers
	if workers > len(plan.Invocations) {
		workers = len(plan.Invocations)
	}

	invocations := make(chan report.Invocation)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inv := range invocations {
				s.hub.Publish(events.TopicInvocationStarted, events.InvocationStarted{
					InvocationID: inv.ID.String(),
					Library:      inv.Library,
					PluginID:     inv.PluginID,
					TestID:       inv.TestID,
				})

				res := s.runner.Run(ctx, inv)
				s.logger.Debug("test finished", "test", inv.TestID, "library", inv.Library, "plugin_id", inv.PluginID, "code", res.Outcome)
				record(res)
			}
		}()
	}

dispatch:
	for _, inv := range plan.Invocations {
		select {
		case invocations <- inv:
		case <-ctx.Done():
			s.logger.Warn("run canceled, waiting for in-flight tests")
			break dispatch
		}
	}
	close(invocations)
	wg.Wait()

	tally := run.Tally()
	s.logger.Info("run finished", "run_id", run.ID, "total", tally.Total(), "failed", tally.TotalFailed())
	s.hub.Publish(events.TopicRunFinished, events.RunFinished{
		RunID:    run.ID.String(),
		Total:    tally.Total(),
		Passed:   tally.Passed,
		Failed:   tally.Failed,
		Warnings: tally.Warnings,
		Skipped:  tally.Skipped,
		Crashed:  tally.Crashed,
		TimedOut: tally.TimedOut,
	})

	return run
}

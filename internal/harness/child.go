package harness

import (
	"fmt"
	"io"
	"time"

	"github.com/clapcheck/clapcheck/internal/catalog"
	"github.com/clapcheck/clapcheck/internal/log"
	"github.com/clapcheck/clapcheck/internal/report"
	"github.com/clapcheck/clapcheck/internal/workspace"
)

// Execute runs one invocation's test case in the current process and
// returns its result. The child entrypoint and the in-process runner both
// funnel through here, so a case sees the same environment either way.
func Execute(env *catalog.Env, scratch *workspace.Manager, inv report.Invocation) report.TestResult {
	res := report.TestResult{Invocation: inv}

	c, ok := catalog.Lookup(inv.TestID)
	if !ok {
		res.Outcome = report.Fail
		res.Message = fmt.Sprintf("unknown test case %q", inv.TestID)
		return res
	}
	res.Description = c.Description

	if c.Kind == catalog.KindPlugin && inv.PluginID == "" {
		res.Outcome = report.Fail
		res.Message = fmt.Sprintf("test case %q exercises a plugin but the invocation names none", inv.TestID)
		return res
	}

	caseEnv := *env
	if scratch != nil {
		s, err := scratch.Create(inv.ID.String())
		if err != nil {
			res.Outcome = report.Fail
			res.Message = fmt.Sprintf("could not create a scratch directory: %v", err)
			return res
		}
		defer func() {
			if err := scratch.Remove(s); err != nil {
				log.Warn("failed to remove scratch directory", "error", err)
			}
		}()
		caseEnv.ScratchDir = s.Dir
	}

	start := time.Now()
	verdict := runCase(c, &caseEnv, inv.Library, inv.PluginID)
	res.Duration = time.Since(start)

	res.Outcome = verdict.Outcome
	res.Message = verdict.Message
	res.Diagnostics = verdict.Diagnostics
	return res
}

// runCase invokes the case behind a recover so a Go-level panic inside a
// test becomes a failure instead of taking an in-process run down. Native
// crashes cannot be caught here; those kill the child and the parent
// records them.
func runCase(c catalog.Case, env *catalog.Env, library, pluginID string) (verdict catalog.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = catalog.Failf("panic while running the test: %v", r)
		}
	}()
	return c.Run(env, library, pluginID)
}

// Child implements the hidden single-test subcommand: read one Invocation
// from stdin, run it, write one TestResult to stdout.
type Child struct {
	Env     *catalog.Env
	Scratch *workspace.Manager
	Stdin   io.Reader
	Stdout  io.Writer
}

// NewChild returns a child wired to the production environment and the
// process's standard streams.
func NewChild(stdin io.Reader, stdout io.Writer) *Child {
	return &Child{
		Env:     catalog.DefaultEnv(),
		Scratch: workspace.Default(),
		Stdin:   stdin,
		Stdout:  stdout,
	}
}

// Run executes the child protocol once. A non-nil error means the protocol
// itself failed and no result was written; the parent reports that as a
// crash.
func (c *Child) Run() error {
	inv, err := DecodeInvocation(c.Stdin)
	if err != nil {
		return err
	}

	logger := log.WithInvocation(inv.ID.String())
	logger.Debug("running test", "test", inv.TestID, "library", inv.Library, "plugin_id", inv.PluginID)

	res := Execute(c.Env, c.Scratch, inv)

	logger.Debug("test finished", "code", res.Outcome, "duration", res.Duration)
	return EncodeResult(c.Stdout, res)
}

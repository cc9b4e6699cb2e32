package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/clapcheck/clapcheck/internal/catalog"
	"github.com/clapcheck/clapcheck/internal/log"
	"github.com/clapcheck/clapcheck/internal/report"
	"github.com/clapcheck/clapcheck/internal/workspace"
)

const (
	// SingleTestCommand is the hidden subcommand the parent re-executes
	// itself with. The child reads one Invocation from stdin and answers
	// with one TestResult on stdout.
	SingleTestCommand = "single-test"

	// DefaultGrace is how long a child gets between SIGTERM and SIGKILL.
	DefaultGrace = 5 * time.Second

	// fallbackTimeout guards against invocations planned without a
	// deadline. The scheduler always sets one; this is belt and braces.
	fallbackTimeout = 60 * time.Second

	// maxStderrBytes bounds the stderr tail kept for crash diagnostics.
	maxStderrBytes = 16 * 1024
)

// Subprocess runs each invocation in a separate child process so native
// plugin code cannot take the validator down.
type Subprocess struct {
	// Argv overrides the child command line; tests point it at scripts.
	// Empty means re-exec the current executable with SingleTestCommand.
	Argv []string

	// Grace is the SIGTERM-to-SIGKILL window. Zero means DefaultGrace.
	Grace time.Duration

	logger *slog.Logger
}

// NewSubprocess returns the production runner: re-exec self, default grace.
func NewSubprocess() *Subprocess {
	return &Subprocess{logger: log.WithComponent("harness")}
}

func (s *Subprocess) argv() ([]string, error) {
	if len(s.Argv) > 0 {
		return s.Argv, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve current executable: %w", err)
	}
	return []string{exe, SingleTestCommand}, nil
}

// Run executes one invocation in a child process. It always returns a
// result: child misbehavior of any shape folds into a Crash or Timeout
// outcome rather than an error.
func (s *Subprocess) Run(ctx context.Context, inv report.Invocation) report.TestResult {
	logger := s.log().With(
		slog.String("invocation_id", inv.ID.String()),
		slog.String("test", inv.TestID),
		slog.String("library", inv.Library),
	)

	if err := ctx.Err(); err != nil {
		return canceledResult(inv, 0)
	}

	argv, err := s.argv()
	if err != nil {
		return crashResult(inv, 0, "", nil, err)
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = fallbackTimeout
	}
	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	// Termination is managed by hand below, so no CommandContext here.
	cmd := exec.Command(argv[0], argv[1:]...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return crashResult(inv, 0, "", nil, fmt.Errorf("create stdin pipe: %w", err))
	}

	// stdout keeps its head: the result is written once, and a plugin that
	// sprays stdout afterwards must not be able to push it out. stderr
	// keeps its tail: crash messages print last.
	stdout := newHeadBuffer(MaxResultBytes + 1)
	stderr := newTailBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logger.Debug("spawning child", "argv", argv, "timeout", timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return crashResult(inv, 0, "", nil, fmt.Errorf("start child: %w", err))
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		writeErr <- EncodeInvocation(stdin, inv)
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		logger.Warn("run canceled, stopping child")
		s.terminate(cmd, waitErr, logger)
		return canceledResult(inv, time.Since(start))

	case <-timeoutTimer.C:
		logger.Warn("child timed out, sending SIGTERM")
		s.terminate(cmd, waitErr, logger)
		return report.TestResult{
			Invocation:  inv,
			Outcome:     report.Timeout,
			Message:     fmt.Sprintf("the test did not finish within %s", timeout),
			Diagnostics: childDiagnostics(stderr.String(), nil),
			Duration:    time.Since(start),
		}

	case err := <-waitErr:
		elapsed := time.Since(start)

		if werr := <-writeErr; werr != nil {
			return crashResult(inv, elapsed, stderr.String(), nil, fmt.Errorf("write invocation to child: %w", werr))
		}

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				// ExitError renders as "exit status N" or "signal: ...",
				// which is exactly the story worth telling.
				return crashResult(inv, elapsed, stderr.String(), nil, fmt.Errorf("child exited abnormally: %v", exitErr))
			}
			return crashResult(inv, elapsed, stderr.String(), nil, fmt.Errorf("wait for child: %w", err))
		}

		res, raw, err := DecodeResult(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			logger.Error("failed to decode child result", "error", err, "stdout_bytes", len(raw))
			return crashResult(inv, elapsed, stderr.String(), raw, err)
		}
		if res.Invocation.ID != inv.ID {
			return crashResult(inv, elapsed, stderr.String(), raw,
				fmt.Errorf("child answered for invocation %s, want %s", res.Invocation.ID, inv.ID))
		}

		if tail := stderr.String(); tail != "" {
			logger.Debug("child stderr", "stderr", tail)
		}

		// The parent's invocation is canonical; the child only echoes it.
		res.Invocation = inv
		return res
	}
}

// terminate force-stops the child: SIGTERM, a grace period to let the
// native library unwind, then SIGKILL. It always reaps the process.
func (s *Subprocess) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := s.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()

	select {
	case <-waitErr:
		logger.Debug("child exited after SIGTERM")
	case <-graceTimer.C:
		logger.Warn("child ignored SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

func (s *Subprocess) log() *slog.Logger {
	if s.logger == nil {
		s.logger = log.WithComponent("harness")
	}
	return s.logger
}

// InProcess runs invocations inside the calling process. A crashing plugin
// takes the whole validator down with it; that is the trade the
// --in-process flag makes for debuggability under a native debugger.
type InProcess struct {
	Env     *catalog.Env
	Scratch *workspace.Manager
}

// NewInProcess returns an in-process runner wired to native loading.
func NewInProcess() *InProcess {
	return &InProcess{Env: catalog.DefaultEnv(), Scratch: workspace.Default()}
}

// Run executes one invocation directly.
func (p *InProcess) Run(ctx context.Context, inv report.Invocation) report.TestResult {
	if err := ctx.Err(); err != nil {
		return canceledResult(inv, 0)
	}
	inv.InProcess = true
	return Execute(p.Env, p.Scratch, inv)
}

func crashResult(inv report.Invocation, elapsed time.Duration, stderrTail string, stdoutRaw []byte, err error) report.TestResult {
	return report.TestResult{
		Invocation:  inv,
		Outcome:     report.Crash,
		Message:     err.Error(),
		Diagnostics: childDiagnostics(stderrTail, stdoutRaw),
		Duration:    elapsed,
	}
}

func canceledResult(inv report.Invocation, elapsed time.Duration) report.TestResult {
	return report.TestResult{
		Invocation: inv,
		Outcome:    report.Skip,
		Message:    "the run was canceled before the test finished",
		Duration:   elapsed,
	}
}

// childDiagnostics packages what the child left behind. The stdout prefix
// is included only when decoding failed, and only enough of it to see what
// the child printed instead of a result.
func childDiagnostics(stderrTail string, stdoutRaw []byte) map[string]string {
	d := map[string]string{}
	if stderrTail != "" {
		d["stderr"] = stderrTail
	}
	if len(stdoutRaw) > 0 {
		const prefix = 1024
		d["stdout"] = string(stdoutRaw[:min(len(stdoutRaw), prefix)])
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// headBuffer keeps the first cap bytes written and discards the rest.
type headBuffer struct {
	cap int
	buf bytes.Buffer
}

func newHeadBuffer(cap int) *headBuffer {
	return &headBuffer{cap: cap}
}

func (b *headBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if room := b.cap - b.buf.Len(); room > 0 {
		if len(p) > room {
			p = p[:room]
		}
		b.buf.Write(p)
	}
	return n, nil
}

func (b *headBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// tailBuffer keeps the last cap bytes written.
type tailBuffer struct {
	cap int
	buf []byte
}

func newTailBuffer(cap int) *tailBuffer {
	return &tailBuffer{cap: cap}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) >= b.cap {
		b.buf = append(b.buf[:0], p[len(p)-b.cap:]...)
		return n, nil
	}
	if overflow := len(b.buf) + len(p) - b.cap; overflow > 0 {
		b.buf = b.buf[overflow:]
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	return string(b.buf)
}

// Package host implements the validator's side of the plugin/host contract:
// the callback table handed to plugins and the state- and thread-checked
// wrapper around one plugin instance.
package host

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/clapcheck/clapcheck/internal/log"
)

// ErrThreadAffinityViolation matches any ThreadAffinityViolationError.
var ErrThreadAffinityViolation = errors.New("thread affinity violation")

// ThreadAffinityViolationError reports a plugin entry point invoked from
// the wrong execution context.
type ThreadAffinityViolationError struct {
	Op      string
	Context string
}

func (e *ThreadAffinityViolationError) Error() string {
	return fmt.Sprintf("%s called from the %s context", e.Op, e.Context)
}

func (e *ThreadAffinityViolationError) Is(target error) bool {
	return target == ErrThreadAffinityViolation
}

// ErrUnsupported is wrapped by extension accessors when the plugin does not
// implement the extension. Test cases resolve it to a skip.
var ErrUnsupported = errors.New("extension not implemented by plugin")

// Host is the callback table one plugin instance talks back to. It records
// what the plugin asked for so tests can assert on it afterwards, and it
// answers the clap.thread-check extension from the wrapper's explicit
// context marker. A Host must not outlive its instance wrapper.
type Host struct {
	logger *slog.Logger

	// inAudio marks execution inside Instance.OnAudioThread. The main
	// context is blocked for that whole window, so a single flag is enough
	// to answer thread-check queries from either side.
	inAudio atomic.Bool

	mu               sync.Mutex
	restartRequests  int
	processRequests  int
	callbackRequests int
	violations       []string
}

// NewHost returns a fresh host context.
func NewHost() *Host {
	return &Host{logger: log.WithComponent("host")}
}

// RequestRestart records a clap_host.request_restart call.
func (h *Host) RequestRestart() {
	h.mu.Lock()
	h.restartRequests++
	h.mu.Unlock()
	h.logger.Debug("plugin requested restart")
}

// RequestProcess records a clap_host.request_process call.
func (h *Host) RequestProcess() {
	h.mu.Lock()
	h.processRequests++
	h.mu.Unlock()
	h.logger.Debug("plugin requested processing")
}

// RequestCallback records a clap_host.request_callback call. The wrapper
// delivers the matching on_main_thread calls through PumpCallbacks.
func (h *Host) RequestCallback() {
	h.mu.Lock()
	h.callbackRequests++
	h.mu.Unlock()
	h.logger.Debug("plugin requested a main-thread callback")
}

// IsMainThread answers the thread-check extension.
func (h *Host) IsMainThread() bool { return !h.inAudio.Load() }

// IsAudioThread answers the thread-check extension.
func (h *Host) IsAudioThread() bool { return h.inAudio.Load() }

// RestartRequested reports whether the plugin asked for a restart.
func (h *Host) RestartRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restartRequests > 0
}

// ProcessRequested reports whether the plugin asked to start processing.
func (h *Host) ProcessRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.processRequests > 0
}

// consumeCallbackRequests returns the number of pending callback requests
// and resets the counter.
func (h *Host) consumeCallbackRequests() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.callbackRequests
	h.callbackRequests = 0
	return n
}

func (h *Host) recordViolation(msg string) {
	h.mu.Lock()
	h.violations = append(h.violations, msg)
	h.mu.Unlock()
	h.logger.Warn("thread affinity violation", "violation", msg)
}

// Violations returns every thread affinity violation observed so far.
// Surfaced after a test finishes rather than aborting it mid-flight.
func (h *Host) Violations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.violations))
	copy(out, h.violations)
	return out
}

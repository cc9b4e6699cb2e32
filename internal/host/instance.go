package host

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/clapcheck/clapcheck/internal/clap"
	"github.com/clapcheck/clapcheck/internal/lifecycle"
)

// Instance wraps one plugin handle behind lifecycle and thread-affinity
// checks. Every operation first asks the state machine whether it is legal
// and then whether the current execution context matches the entry point's
// documented thread, so a violation is caught before it reaches native code.
type Instance struct {
	handle  clap.Handle
	host    *Host
	machine *lifecycle.Machine
}

// Wrap pairs a created handle with the host it was created against. The
// handle is expected to come straight from the factory: the machine starts
// in Uninitialized.
func Wrap(handle clap.Handle, h *Host) *Instance {
	return &Instance{handle: handle, host: h, machine: lifecycle.NewMachine()}
}

// Host returns the host context the plugin talks back to.
func (i *Instance) Host() *Host { return i.host }

// LifecycleState returns the machine's current state.
func (i *Instance) LifecycleState() lifecycle.State { return i.machine.State() }

func (i *Instance) requireMain(op string) error {
	if i.host.inAudio.Load() {
		err := &ThreadAffinityViolationError{Op: op, Context: "audio"}
		i.host.recordViolation(err.Error())
		return err
	}
	return nil
}

func (i *Instance) requireAudio(op string) error {
	if !i.host.inAudio.Load() {
		err := &ThreadAffinityViolationError{Op: op, Context: "main"}
		i.host.recordViolation(err.Error())
		return err
	}
	return nil
}

// requireAlive rejects extension traffic on an instance that is not
// initialized or that has already been torn down.
func (i *Instance) requireAlive(op string) error {
	switch s := i.machine.State(); s {
	case lifecycle.Created, lifecycle.Activated, lifecycle.Processing:
		return nil
	default:
		return fmt.Errorf("%s: instance is %s", op, s)
	}
}

func (i *Instance) fatal(op string) error {
	i.machine.Apply(lifecycle.ActionFatalError)
	return fmt.Errorf("%s returned false", op)
}

// Descriptor reads the descriptor stored on the plugin object.
func (i *Instance) Descriptor() (*clap.Descriptor, error) {
	if err := i.requireMain("clap_plugin.descriptor"); err != nil {
		return nil, err
	}
	if i.machine.State().Terminal() {
		return nil, errors.New("clap_plugin.descriptor: instance is gone")
	}
	return i.handle.Descriptor()
}

// Init initializes the instance (Uninitialized -> Created).
func (i *Instance) Init() error {
	if err := i.requireMain("clap_plugin.init"); err != nil {
		return err
	}
	if _, err := i.machine.Apply(lifecycle.ActionCreate); err != nil {
		return err
	}
	if !i.handle.Init() {
		return i.fatal("clap_plugin.init")
	}
	return nil
}

// Activate activates the instance (Created -> Activated).
func (i *Instance) Activate(sampleRate float64, minFrames, maxFrames uint32) error {
	if err := i.requireMain("clap_plugin.activate"); err != nil {
		return err
	}
	if _, err := i.machine.Apply(lifecycle.ActionActivate); err != nil {
		return err
	}
	if !i.handle.Activate(sampleRate, minFrames, maxFrames) {
		return i.fatal("clap_plugin.activate")
	}
	return nil
}

// Deactivate returns the instance to Created.
func (i *Instance) Deactivate() error {
	if err := i.requireMain("clap_plugin.deactivate"); err != nil {
		return err
	}
	if _, err := i.machine.Apply(lifecycle.ActionDeactivate); err != nil {
		return err
	}
	i.handle.Deactivate()
	return nil
}

// StartProcessing moves to Processing. Audio context only.
func (i *Instance) StartProcessing() error {
	if err := i.requireAudio("clap_plugin.start_processing"); err != nil {
		return err
	}
	if _, err := i.machine.Apply(lifecycle.ActionStartProcessing); err != nil {
		return err
	}
	if !i.handle.StartProcessing() {
		return i.fatal("clap_plugin.start_processing")
	}
	return nil
}

// StopProcessing returns to Activated. Audio context only.
func (i *Instance) StopProcessing() error {
	if err := i.requireAudio("clap_plugin.stop_processing"); err != nil {
		return err
	}
	if _, err := i.machine.Apply(lifecycle.ActionStopProcessing); err != nil {
		return err
	}
	i.handle.StopProcessing()
	return nil
}

// Process runs one processing cycle. Audio context, Processing state only.
// The returned status is handed through untouched: interpreting a
// CLAP_PROCESS_ERROR is the test case's call, not a lifecycle event.
func (i *Instance) Process(p *clap.Process) (clap.ProcessStatus, error) {
	if err := i.requireAudio("clap_plugin.process"); err != nil {
		return clap.ProcessError, err
	}
	if s := i.machine.State(); s != lifecycle.Processing {
		return clap.ProcessError, fmt.Errorf("clap_plugin.process: instance is %s, not processing", s)
	}
	return i.handle.Process(p)
}

// Destroy destroys the instance (Created -> Destroyed).
func (i *Instance) Destroy() error {
	if err := i.requireMain("clap_plugin.destroy"); err != nil {
		return err
	}
	if _, err := i.machine.Apply(lifecycle.ActionDestroy); err != nil {
		return err
	}
	i.handle.Destroy()
	return nil
}

// OnAudioThread runs fn on a dedicated OS-locked goroutine and flips the
// host's thread-check answers for the duration. The calling context blocks
// until fn returns, so main and audio execution never overlap.
func (i *Instance) OnAudioThread(fn func() error) error {
	if i.host.inAudio.Load() {
		err := &ThreadAffinityViolationError{Op: "OnAudioThread", Context: "audio"}
		i.host.recordViolation(err.Error())
		return err
	}

	i.host.inAudio.Store(true)
	defer i.host.inAudio.Store(false)

	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- fn()
	}()
	return <-done
}

// PumpCallbacks delivers clap_plugin.on_main_thread once per pending
// request_callback, the way a host event loop would.
func (i *Instance) PumpCallbacks() error {
	if err := i.requireMain("clap_plugin.on_main_thread"); err != nil {
		return err
	}
	if err := i.requireAlive("clap_plugin.on_main_thread"); err != nil {
		return err
	}
	for n := i.host.consumeCallbackRequests(); n > 0; n-- {
		i.handle.OnMainThread()
	}
	return nil
}

// Teardown releases the instance as far as its current state allows. After
// a fatal error nothing further is called: the plugin's internal state is
// unknown and the process is about to exit anyway.
func (i *Instance) Teardown() {
	for {
		switch i.machine.State() {
		case lifecycle.Processing:
			if err := i.OnAudioThread(i.StopProcessing); err != nil {
				i.machine.Force(lifecycle.Deactivated)
				return
			}
		case lifecycle.Activated:
			if err := i.Deactivate(); err != nil {
				i.machine.Force(lifecycle.Deactivated)
				return
			}
		case lifecycle.Created:
			_ = i.Destroy()
			return
		case lifecycle.Uninitialized:
			// Never initialized; destroying is still the owner's duty.
			i.handle.Destroy()
			i.machine.Force(lifecycle.Destroyed)
			return
		default:
			return
		}
	}
}

// Package lifecycle models the states a plugin instance moves through and
// the legal transitions between them. The instance wrapper consults the
// machine before every native call, so an illegal sequence is rejected
// before it can reach plugin code.
package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle position of one plugin instance.
type State int

const (
	Uninitialized State = iota
	Created
	Activated
	Processing
	Deactivated
	Destroyed
	ErrorState
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Created:
		return "created"
	case Activated:
		return "activated"
	case Processing:
		return "processing"
	case Deactivated:
		return "deactivated"
	case Destroyed:
		return "destroyed"
	case ErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further actions are accepted from s.
func (s State) Terminal() bool {
	return s == Destroyed || s == ErrorState
}

// Action is one lifecycle-changing operation.
type Action int

const (
	ActionCreate Action = iota
	ActionActivate
	ActionStartProcessing
	ActionStopProcessing
	ActionDeactivate
	ActionDestroy
	ActionFatalError
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionActivate:
		return "activate"
	case ActionStartProcessing:
		return "start_processing"
	case ActionStopProcessing:
		return "stop_processing"
	case ActionDeactivate:
		return "deactivate"
	case ActionDestroy:
		return "destroy"
	case ActionFatalError:
		return "fatal_error"
	default:
		return "unknown"
	}
}

// transitions is the legal (state, action) -> state table. ActionFatalError
// is handled separately: it is legal from every non-terminal state.
var transitions = map[State]map[Action]State{
	Uninitialized: {
		ActionCreate: Created,
	},
	Created: {
		ActionActivate: Activated,
		ActionDestroy:  Destroyed,
	},
	Activated: {
		ActionStartProcessing: Processing,
		ActionDeactivate:      Created,
	},
	Processing: {
		ActionStopProcessing: Activated,
	},
	Deactivated: {},
	Destroyed:   {},
	ErrorState:  {},
}

// ErrIllegalTransition matches any IllegalTransitionError via errors.Is.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// IllegalTransitionError reports a rejected (state, action) combination.
type IllegalTransitionError struct {
	From   State
	Action Action
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal lifecycle transition: %s is not legal in state %s", e.Action, e.From)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Next resolves one transition without any machine state.
func Next(from State, action Action) (State, error) {
	if action == ActionFatalError {
		if from.Terminal() {
			return from, &IllegalTransitionError{From: from, Action: action}
		}
		return ErrorState, nil
	}
	next, ok := transitions[from][action]
	if !ok {
		return from, &IllegalTransitionError{From: from, Action: action}
	}
	return next, nil
}

// Machine tracks the current state of one instance. Safe for concurrent
// use: the wrapper's main context and audio context both consult it.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in Uninitialized.
func NewMachine() *Machine {
	return &Machine{state: Uninitialized}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Apply performs one action, or rejects it with an IllegalTransitionError
// while leaving the state unchanged.
func (m *Machine) Apply(action Action) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := Next(m.state, action)
	if err != nil {
		return m.state, err
	}
	m.state = next
	return next, nil
}

// Can reports whether the action would be accepted right now.
func (m *Machine) Can(action Action) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := Next(m.state, action)
	return err == nil
}

// Force moves the machine to a state without consulting the table. Used
// when an instance is abandoned mid-teardown and the observed native state
// no longer corresponds to a legal transition sequence.
func (m *Machine) Force(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = s
}

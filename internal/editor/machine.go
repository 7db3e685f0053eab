// Package editor tracks unsaved changes of an add/edit dialog.
package editor

import (
	"errors"
	"fmt"
)

// State of an editor session.
type State string

const (
	StateClean             State = "clean"
	StateDirty             State = "dirty"
	StateConfirmingDiscard State = "confirming_discard"
	StateClosed            State = "closed"
)

// Event drives transitions.
type Event string

const (
	EventEdit           Event = "edit"
	EventRequestClose   Event = "request_close"
	EventConfirmDiscard Event = "confirm_discard"
	EventCancelDiscard  Event = "cancel_discard"
	EventSaved          Event = "saved"
)

// ErrInvalidTransition is returned for events not allowed in the current state.
var ErrInvalidTransition = errors.New("editor: invalid transition")

var transitions = map[State]map[Event]State{
	StateClean: {
		EventEdit:         StateDirty,
		EventRequestClose: StateClosed,
		EventSaved:        StateClosed,
	},
	StateDirty: {
		EventEdit:         StateDirty,
		EventRequestClose: StateConfirmingDiscard,
		EventSaved:        StateClosed,
	},
	StateConfirmingDiscard: {
		// Editing again dismisses the prompt.
		EventEdit:           StateDirty,
		EventConfirmDiscard: StateClosed,
		EventCancelDiscard:  StateDirty,
		EventSaved:          StateClosed,
	},
}

// Machine is not safe for concurrent use; its owner serialises access.
type Machine struct {
	state State
}

// New returns a clean editor.
func New() *Machine {
	return &Machine{state: StateClean}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Fire applies ev and returns the resulting state.
func (m *Machine) Fire(ev Event) (State, error) {
	next, ok := transitions[m.state][ev]
	if !ok {
		return m.state, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev, m.state)
	}
	m.state = next
	return next, nil
}

// Dirty reports whether there are unsaved changes.
func (m *Machine) Dirty() bool {
	return m.state == StateDirty || m.state == StateConfirmingDiscard
}

// Closed reports whether the session has ended.
func (m *Machine) Closed() bool {
	return m.state == StateClosed
}

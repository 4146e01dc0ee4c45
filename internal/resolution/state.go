package resolution

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a scan is moved to a state that
// cannot follow its current one.
var ErrInvalidTransition = errors.New("invalid scan state transition")

// State is a step in the lifecycle of a single scan request.
type State string

const (
	StateSubmitted         State = "submitted"
	StateRateChecked       State = "rate_checked"
	StateIdentifying       State = "identifying"
	StateNoMatch           State = "no_match"
	StateSinglePriced      State = "single_priced"
	StateMultiCandidate    State = "multi_candidate"
	StateAwaitingSelection State = "awaiting_selection"
	StateSelected          State = "selected"
	StateResolved          State = "resolved"
)

var transitions = map[State][]State{
	StateSubmitted:         {StateRateChecked},
	StateRateChecked:       {StateIdentifying},
	StateIdentifying:       {StateNoMatch, StateSinglePriced, StateMultiCandidate},
	StateSinglePriced:      {StateResolved},
	StateMultiCandidate:    {StateAwaitingSelection},
	StateAwaitingSelection: {StateSelected},
	StateSelected:          {StateResolved},
}

// Terminal reports whether no state can follow s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Machine tracks the state of one scan. It is request scoped and not safe
// for concurrent use.
type Machine struct {
	state   State
	history []State
}

// NewMachine returns a machine in StateSubmitted.
func NewMachine() *Machine {
	return &Machine{state: StateSubmitted, history: []State{StateSubmitted}}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// History returns every state the machine has been in, oldest first.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

// Advance moves the machine to next.
func (m *Machine) Advance(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.history = append(m.history, next)
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
}

// CanCommit reports whether the scan reached a state where the card may be
// persisted to a collection.
func (m *Machine) CanCommit() bool {
	return m.state == StateResolved
}

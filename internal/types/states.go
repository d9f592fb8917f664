package types

import "fmt"

// State is a project's lifecycle state.
type State string

const (
	StateDraft           State = "draft"
	StateForwardPlanning State = "forward_planning"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateRejected        State = "rejected"
	StateInProgress      State = "in_progress"
	StateCompleted       State = "completed"
	StateCancelled       State = "cancelled"
)

// IsValid returns true if the state is one of the defined lifecycle states.
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateForwardPlanning, StatePendingApproval, StateApproved,
		StateRejected, StateInProgress, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the state has no outgoing transitions.
func (s State) IsTerminal() bool {
	return len(Transitions[s]) == 0 && s.IsValid()
}

// Transitions is the complete transition table of the project state machine.
// A state absent from the target list is not reachable from the source, no
// exceptions.
var Transitions = map[State][]State{
	StateDraft:           {StateForwardPlanning, StatePendingApproval},
	StateForwardPlanning: {StatePendingApproval},
	StatePendingApproval: {StateApproved, StateRejected},
	StateApproved:        {StateInProgress, StateCancelled},
	StateInProgress:      {StateCompleted},
	StateCompleted:       {},
	StateRejected:        {},
	StateCancelled:       {},
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to State) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an InvalidTransitionError unless from → to is in
// the transition table.
func ValidateTransition(from, to State) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// EditableStates are the states in which the applicant may still modify
// project attributes.
var EditableStates = []State{StateDraft, StateForwardPlanning, StatePendingApproval}

// IsEditable reports whether applicant-driven attribute edits are allowed.
func (s State) IsEditable() bool {
	for _, e := range EditableStates {
		if s == e {
			return true
		}
	}
	return false
}

// ActiveConflictStates are the states considered by the conflict detector
// when searching for spatial candidates.
var ActiveConflictStates = []State{StateApproved, StateInProgress, StatePendingApproval}

// InvalidTransitionError reports a transition not present in the state
// machine table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

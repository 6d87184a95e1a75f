// Package booking implements the slot-filling core of the conversation:
// the stage state machine, the provenance-tracked scratchpad, the
// confirmation controller, and the immutable service request builder.
package booking

// Stage is one discrete phase of the booking conversation.
type Stage string

const (
	StageGreeting       Stage = "greeting"
	StageDataCollection Stage = "data_collection"
	StageConfirmation   Stage = "confirmation"
	StageBooking        Stage = "booking"
	StageCompletion     Stage = "completion"
	StageCancelled      Stage = "cancelled"
)

// validTransitions defines the legal stage transitions.
// Each key is a source stage, and the value is the set of valid targets.
// confirmation -> data_collection is the edit loop; completion and
// cancelled are terminal.
var validTransitions = map[Stage]map[Stage]bool{
	StageGreeting:       {StageDataCollection: true},
	StageDataCollection: {StageConfirmation: true},
	StageConfirmation:   {StageDataCollection: true, StageBooking: true, StageCancelled: true},
	StageBooking:        {StageCompletion: true},
}

// StateMachine enforces the legal stage sequence for one conversation.
// Single-writer: the calling layer serializes turns per conversation.
type StateMachine struct {
	current Stage
	history []Stage
}

// NewStateMachine creates a machine at the greeting stage with a
// one-element history.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StageGreeting,
		history: []Stage{StageGreeting},
	}
}

// Current returns the current stage.
func (m *StateMachine) Current() Stage { return m.current }

// CanTransition reports whether moving to target is legal from the
// current stage.
func (m *StateMachine) CanTransition(target Stage) bool {
	targets, ok := validTransitions[m.current]
	if !ok {
		return false
	}
	return targets[target]
}

// Transition moves to target if legal, appending it to the history.
// An illegal transition is a no-op and returns false.
func (m *StateMachine) Transition(target Stage) bool {
	if !m.CanTransition(target) {
		return false
	}
	m.current = target
	m.history = append(m.history, target)
	return true
}

// Reset truncates the machine back to its initial greeting state.
func (m *StateMachine) Reset() {
	m.current = StageGreeting
	m.history = []Stage{StageGreeting}
}

// History returns the ordered sequence of stages visited, including the
// initial greeting entry.
func (m *StateMachine) History() []Stage {
	out := make([]Stage, len(m.history))
	copy(out, m.history)
	return out
}

// IsComplete reports whether the conversation reached completion.
func (m *StateMachine) IsComplete() bool { return m.current == StageCompletion }

// IsCancelled reports whether the conversation was cancelled.
func (m *StateMachine) IsCancelled() bool { return m.current == StageCancelled }

// IsTerminal reports whether no further transitions are possible.
func (m *StateMachine) IsTerminal() bool { return m.IsComplete() || m.IsCancelled() }

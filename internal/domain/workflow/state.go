package workflow

// State represents a pay application status in the review lifecycle
type State string

const (
	StateDraft            State = "DRAFT"
	StateSubmitted        State = "SUBMITTED"
	StateUnderReview      State = "UNDER_REVIEW"
	StateChangesRequested State = "CHANGES_REQUESTED"
	StateFullyReviewed    State = "FULLY_REVIEWED"
	StateFinalized        State = "FINALIZED"
)

var validStates = map[State]bool{
	StateDraft:            true,
	StateSubmitted:        true,
	StateUnderReview:      true,
	StateChangesRequested: true,
	StateFullyReviewed:    true,
	StateFinalized:        true,
}

var terminalStates = map[State]bool{
	StateFinalized: true,
}

// contractor edits are only accepted in these states
var writableStates = map[State]bool{
	StateDraft:            true,
	StateChangesRequested: true,
}

// IsTerminal returns true if no transition leaves the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsWritable returns true if the contractor may still change the application
func (s State) IsWritable() bool {
	return writableStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}

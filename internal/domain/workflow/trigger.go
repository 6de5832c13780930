package workflow

// Trigger represents an action that can cause a state transition
type Trigger string

const (
	TriggerSubmit         Trigger = "SUBMIT"
	TriggerStartReview    Trigger = "START_REVIEW"
	TriggerApprove        Trigger = "APPROVE"
	TriggerRequestChanges Trigger = "REQUEST_CHANGES"
	TriggerFinalize       Trigger = "FINALIZE"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

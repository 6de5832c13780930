package workflow

import (
	domainwf "github.com/garyjia/payapp-engine/internal/domain/workflow"
)

// Guards are the conditions checked while firing pay application triggers.
// A nil guard always passes.
type Guards struct {
	// ExpensesResolved vetoes a submission while expenses are pending
	ExpensesResolved domainwf.GuardFunc

	// ChainComplete passes once every reviewer in the chain has approved
	ChainComplete domainwf.GuardFunc
}

// BuildPayApplicationStateMachine creates the review lifecycle:
//
//	DRAFT ──SUBMIT──> SUBMITTED ──START_REVIEW──> UNDER_REVIEW
//	UNDER_REVIEW ──APPROVE──> UNDER_REVIEW | FULLY_REVIEWED
//	UNDER_REVIEW ──REQUEST_CHANGES──> CHANGES_REQUESTED ──SUBMIT──> SUBMITTED
//	FULLY_REVIEWED ──FINALIZE──> FINALIZED
func BuildPayApplicationStateMachine(initial domainwf.State, guards Guards) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateDraft).
		PermitIf(domainwf.TriggerSubmit, domainwf.StateSubmitted, guards.ExpensesResolved)

	builder.Configure(domainwf.StateChangesRequested).
		PermitIf(domainwf.TriggerSubmit, domainwf.StateSubmitted, guards.ExpensesResolved)

	builder.Configure(domainwf.StateSubmitted).
		Permit(domainwf.TriggerStartReview, domainwf.StateUnderReview)

	// the first approve transition whose guard passes wins
	builder.Configure(domainwf.StateUnderReview).
		PermitIf(domainwf.TriggerApprove, domainwf.StateFullyReviewed, guards.ChainComplete).
		Permit(domainwf.TriggerApprove, domainwf.StateUnderReview).
		Permit(domainwf.TriggerRequestChanges, domainwf.StateChangesRequested)

	builder.Configure(domainwf.StateFullyReviewed).
		Permit(domainwf.TriggerFinalize, domainwf.StateFinalized)

	return builder.Build(initial)
}

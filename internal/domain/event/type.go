package event

// Type identifies the type of domain event
type Type string

const (
	TypeApplicationCreated   Type = "pay_application.created"
	TypeApplicationSubmitted Type = "pay_application.submitted"
	TypeReviewerApproved     Type = "pay_application.reviewer_approved"
	TypeChangesRequested     Type = "pay_application.changes_requested"
	TypeFullyReviewed        Type = "pay_application.fully_reviewed"
	TypeApplicationFinalized Type = "pay_application.finalized"
	TypeExpenseAdded         Type = "expense.added"
	TypeExpenseApproved      Type = "expense.approved"
	TypeExpenseRejected      Type = "expense.rejected"
	TypeLineItemRolledOver   Type = "line_item.rolled_forward"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeApplicationCreated,
		TypeApplicationSubmitted,
		TypeReviewerApproved,
		TypeChangesRequested,
		TypeFullyReviewed,
		TypeApplicationFinalized,
		TypeExpenseAdded,
		TypeExpenseApproved,
		TypeExpenseRejected,
		TypeLineItemRolledOver:
		return true
	default:
		return false
	}
}

package entity

import "time"

// TransitionRecord is the audit trail of a pay application's status changes
type TransitionRecord struct {
	ID               int64     `json:"id"`
	PayApplicationID int64     `json:"pay_application_id"`
	ActorID          string    `json:"actor_id"`
	PreviousStatus   string    `json:"previous_status"`
	NewStatus        string    `json:"new_status"`
	Trigger          string    `json:"trigger"`
	ReviewerIndex    int       `json:"reviewer_index"`
	Note             string    `json:"note,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

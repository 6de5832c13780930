package workflow

import "context"

// Transition describes a state change produced by firing a trigger
type Transition struct {
	From    State
	To      State
	Trigger Trigger
}

// StateMachine tracks the current state of one pay application and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger has a configured transition from the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the target of the first transition whose guard passes
	Fire(ctx context.Context, trigger Trigger) (Transition, error)

	// PermittedTriggers returns all triggers configured for the current state
	PermittedTriggers() []Trigger
}

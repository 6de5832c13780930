// Package apperr defines the typed errors returned by the billing engine.
//
// Every error carries a Kind that tells the caller how to react: fix the
// input (Validation, InvariantViolation), re-fetch and re-decide (State),
// show a permission message (Forbidden) or retry against fresh state
// (Conflict).
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups error codes by the recovery strategy they imply
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindInvariantViolation Kind = "INVARIANT_VIOLATION"
	KindState              Kind = "STATE"
	KindForbidden          Kind = "FORBIDDEN"
	KindConflict           Kind = "CONFLICT"
	KindNotFound           Kind = "NOT_FOUND"
)

// Code identifies a specific failure
type Code string

const (
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeOverSchedule        Code = "OVER_SCHEDULE"
	CodeNotCurrentReviewer  Code = "NOT_CURRENT_REVIEWER"
	CodeAlreadyApproved     Code = "ALREADY_APPROVED"
	CodeUnresolvedExpenses  Code = "UNRESOLVED_EXPENSES"
	CodeNotFinalized        Code = "NOT_FINALIZED"
	CodeInvalidTransition   Code = "INVALID_TRANSITION"
	CodeApplicationLocked   Code = "APPLICATION_LOCKED"
	CodeApplicationInFlight Code = "APPLICATION_IN_FLIGHT"
	CodeForbidden           Code = "FORBIDDEN"
	CodeConflict            Code = "CONFLICT"
	CodeNotFound            Code = "NOT_FOUND"
)

// Error is the concrete error type surfaced to API callers
type Error struct {
	Kind    Kind           `json:"kind"`
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on Code so that errors.Is(err, apperr.ErrOverSchedule) holds for
// any OverSchedule error regardless of its message or details.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// With returns a copy of the error carrying an additional detail
func (e *Error) With(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message, Details: details}
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidInput        = &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: "invalid input"}
	ErrInvalidAmount       = &Error{Kind: KindValidation, Code: CodeInvalidAmount, Message: "amount must be positive"}
	ErrOverSchedule        = &Error{Kind: KindInvariantViolation, Code: CodeOverSchedule, Message: "billing would exceed scheduled value"}
	ErrNotCurrentReviewer  = &Error{Kind: KindState, Code: CodeNotCurrentReviewer, Message: "caller is not the current reviewer"}
	ErrAlreadyApproved     = &Error{Kind: KindState, Code: CodeAlreadyApproved, Message: "expense is already approved"}
	ErrUnresolvedExpenses  = &Error{Kind: KindState, Code: CodeUnresolvedExpenses, Message: "pending expenses must be approved or removed"}
	ErrNotFinalized        = &Error{Kind: KindState, Code: CodeNotFinalized, Message: "pay application is not finalized"}
	ErrInvalidTransition   = &Error{Kind: KindState, Code: CodeInvalidTransition, Message: "transition not allowed from current status"}
	ErrApplicationLocked   = &Error{Kind: KindState, Code: CodeApplicationLocked, Message: "project has a pay application under review"}
	ErrApplicationInFlight = &Error{Kind: KindState, Code: CodeApplicationInFlight, Message: "project already has an open pay application"}
	ErrForbidden           = &Error{Kind: KindForbidden, Code: CodeForbidden, Message: "actor is not permitted to perform this action"}
	ErrConflict            = &Error{Kind: KindConflict, Code: CodeConflict, Message: "concurrent modification detected"}
	ErrNotFound            = &Error{Kind: KindNotFound, Code: CodeNotFound, Message: "resource not found"}
)

// Validation builds a validation error with a custom message
func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidAmount reports a non-positive amount
func InvalidAmount(amount string) *Error {
	return ErrInvalidAmount.With("amount", amount)
}

// OverSchedule reports that a line item would bill past its scheduled value
func OverSchedule(lineItemID int64, scheduled, attempted string) *Error {
	e := ErrOverSchedule.With("line_item_id", lineItemID)
	e = e.With("scheduled_value", scheduled)
	return e.With("attempted_total", attempted)
}

// NotCurrentReviewer reports an out-of-order review action
func NotCurrentReviewer(appID int64, caller, expected string) *Error {
	e := ErrNotCurrentReviewer.With("pay_application_id", appID)
	e = e.With("caller", caller)
	return e.With("expected", expected)
}

// AlreadyApproved reports an attempt to change an approved expense
func AlreadyApproved(expenseID int64) *Error {
	return ErrAlreadyApproved.With("expense_id", expenseID)
}

// UnresolvedExpenses reports pending expenses blocking a submission
func UnresolvedExpenses(pending []int64) *Error {
	return ErrUnresolvedExpenses.With("pending_expense_ids", pending)
}

// NotFinalized reports an export attempt before finalization
func NotFinalized(appID int64, status string) *Error {
	return ErrNotFinalized.With("pay_application_id", appID).With("status", status)
}

// InvalidTransition reports a trigger fired from a state that does not allow it
func InvalidTransition(appID int64, status, trigger string) *Error {
	e := ErrInvalidTransition.With("pay_application_id", appID)
	e = e.With("status", status)
	return e.With("trigger", trigger)
}

// Forbidden reports an authorization failure
func Forbidden(actorID, action string) *Error {
	return ErrForbidden.With("actor_id", actorID).With("action", action)
}

// Conflict reports a failed compare-and-swap
func Conflict(resource string, id int64) *Error {
	return ErrConflict.With("resource", resource).With("id", id)
}

// NotFound reports a missing resource
func NotFound(resource string, id int64) *Error {
	return ErrNotFound.With("resource", resource).With("id", id)
}

// KindOf returns the Kind of err, or "" when err is not an *Error
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

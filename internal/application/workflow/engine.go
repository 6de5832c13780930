package workflow

import (
	"context"

	"github.com/garyjia/payapp-engine/internal/domain/entity"
)

// ReviewWorkflow drives pay applications through sequential review
type ReviewWorkflow interface {
	// CreateApplication opens a DRAFT application for a project with an ordered reviewer chain
	CreateApplication(ctx context.Context, projectID int64, reviewerChain []string) (*entity.PayApplication, error)

	// SetReviewerChain replaces the chain of a DRAFT application that has never been submitted
	SetReviewerChain(ctx context.Context, appID int64, reviewerChain []string) (*entity.PayApplication, error)

	// Submit freezes the schedule of values and hands the application to the first reviewer
	Submit(ctx context.Context, appID int64) (*entity.PayApplication, error)

	// Approve records the current reviewer's approval and advances the chain
	Approve(ctx context.Context, appID int64, reviewerID string) (*entity.PayApplication, error)

	// RequestChanges returns the application to the contractor and resets the chain
	RequestChanges(ctx context.Context, appID int64, reviewerID, note string) (*entity.PayApplication, error)

	// Finalize closes a fully reviewed application and rolls its line items forward
	Finalize(ctx context.Context, appID int64, directorID string) (*entity.PayApplication, error)

	// Get returns one application
	Get(ctx context.Context, appID int64) (*entity.PayApplication, error)

	// List returns a project's applications in application-number order
	List(ctx context.Context, projectID int64) ([]*entity.PayApplication, error)

	// History returns the application's transition records oldest first
	History(ctx context.Context, appID int64) ([]*entity.TransitionRecord, error)

	// PermittedTriggers returns the triggers the application's status accepts
	PermittedTriggers(ctx context.Context, appID int64) ([]string, error)
}

// LedgerRoller closes a line item's billing period for a finalized application
type LedgerRoller interface {
	RollForward(ctx context.Context, lineItemID, applicationID int64) (*entity.LineItem, error)
}

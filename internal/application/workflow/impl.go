package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/payapp-engine/internal/application/dispatcher"
	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/application/service"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	domainwf "github.com/garyjia/payapp-engine/internal/domain/workflow"
	"github.com/garyjia/payapp-engine/pkg/utils"
	"github.com/google/uuid"
)

// errChainIncomplete keeps an approval in UNDER_REVIEW while reviewers remain
var errChainIncomplete = errors.New("reviewers remain in chain")

// engineImpl is the concrete implementation of ReviewWorkflow. State machines
// are rebuilt from the persisted status for every operation.
type engineImpl struct {
	store      port.Store
	ledger     LedgerRoller
	auth       *service.Authorizer
	dispatcher dispatcher.Dispatcher
	logger     service.Logger
	now        func() time.Time
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher committed events are published to
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger service.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides the time source used for timestamps
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a new review workflow engine
func NewEngine(store port.Store, ledger LedgerRoller, auth *service.Authorizer, opts ...EngineOption) ReviewWorkflow {
	e := &engineImpl{
		store:  store,
		ledger: ledger,
		auth:   auth,
		logger: nopLogger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateApplication opens the project's next pay application in DRAFT
func (e *engineImpl) CreateApplication(ctx context.Context, projectID int64, reviewerChain []string) (*entity.PayApplication, error) {
	var app *entity.PayApplication
	var actorID string

	err := e.store.WithTransaction(ctx, func(txCtx context.Context) error {
		project, err := e.store.LoadProject(txCtx, projectID)
		if err != nil {
			return err
		}
		actor, err := e.auth.RequireContractor(txCtx, project, "create_pay_application")
		if err != nil {
			return err
		}
		actorID = actor.ID

		chain, err := e.validateChain(txCtx, project, reviewerChain)
		if err != nil {
			return err
		}
		open, err := e.store.OpenPayApplication(txCtx, projectID)
		if err != nil {
			return fmt.Errorf("find open pay application: %w", err)
		}
		if open != nil {
			return apperr.ErrApplicationInFlight.
				With("project_id", projectID).
				With("pay_application_id", open.ID)
		}
		existing, err := e.store.ListPayApplications(txCtx, projectID)
		if err != nil {
			return fmt.Errorf("list pay applications: %w", err)
		}

		now := e.now()
		app = &entity.PayApplication{
			ProjectID:         projectID,
			ContractorID:      project.ContractorID,
			ApplicationNumber: len(existing) + 1,
			ReviewerChain:     chain,
			Status:            entity.StatusDraft,
			Version:           1,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		return e.store.CreatePayApplication(txCtx, app)
	})
	if err != nil {
		e.logger.Error("Failed to create pay application", "error", err, "project_id", projectID)
		return nil, err
	}

	e.logger.Info("Pay application created",
		"pay_application_id", app.ID,
		"project_id", projectID,
		"application_number", app.ApplicationNumber,
		"reviewers", len(app.ReviewerChain),
	)
	e.publish(ctx, event.NewEvent(event.TypeApplicationCreated, projectID, app.ID, actorID, map[string]interface{}{
		"application_number": app.ApplicationNumber,
	}))
	return app, nil
}

// SetReviewerChain replaces the chain before the first submission
func (e *engineImpl) SetReviewerChain(ctx context.Context, appID int64, reviewerChain []string) (*entity.PayApplication, error) {
	var app *entity.PayApplication
	err := e.store.WithTransaction(ctx, func(txCtx context.Context) error {
		var project *entity.Project
		var err error
		app, project, err = e.load(txCtx, appID)
		if err != nil {
			return err
		}
		if _, err := e.auth.RequireContractor(txCtx, project, "set_reviewer_chain"); err != nil {
			return err
		}
		if app.Status != entity.StatusDraft || app.Revision > 0 {
			return apperr.InvalidTransition(app.ID, app.Status, "SET_REVIEWER_CHAIN").
				With("revision", app.Revision)
		}
		chain, err := e.validateChain(txCtx, project, reviewerChain)
		if err != nil {
			return err
		}
		app.ReviewerChain = chain
		app.UpdatedAt = e.now()
		return e.store.SavePayApplication(txCtx, app)
	})
	if err != nil {
		e.logger.Error("Failed to set reviewer chain", "error", err, "pay_application_id", appID)
		return nil, err
	}
	e.logger.Info("Reviewer chain updated", "pay_application_id", appID, "reviewers", len(app.ReviewerChain))
	return app, nil
}

// Submit freezes the schedule of values into a new snapshot revision and
// moves the application through SUBMITTED to UNDER_REVIEW
func (e *engineImpl) Submit(ctx context.Context, appID int64) (*entity.PayApplication, error) {
	var app *entity.PayApplication
	var actorID string

	err := e.store.WithTransaction(ctx, func(txCtx context.Context) error {
		var project *entity.Project
		var err error
		app, project, err = e.load(txCtx, appID)
		if err != nil {
			return err
		}
		actor, err := e.auth.RequireContractor(txCtx, project, "submit")
		if err != nil {
			return err
		}
		actorID = actor.ID
		if len(app.ReviewerChain) == 0 {
			return apperr.Validation("pay application %d has no reviewers", app.ID)
		}

		sm := e.machineFor(app)
		if err := e.fire(txCtx, app, sm, domainwf.TriggerSubmit, actorID, ""); err != nil {
			return err
		}

		now := e.now()
		snapshot := make([]entity.SnapshotLine, 0, len(project.LineItems))
		for _, li := range project.LineItems {
			snapshot = append(snapshot, li.Snapshot())
		}
		app.Revision++
		app.Snapshot = snapshot
		app.CurrentReviewerIndex = 0
		app.SubmittedAt = &now

		if err := e.fire(txCtx, app, sm, domainwf.TriggerStartReview, actorID, ""); err != nil {
			return err
		}
		app.UpdatedAt = now
		return e.store.SavePayApplication(txCtx, app)
	})
	if err != nil {
		e.logger.Error("Failed to submit pay application", "error", err, "pay_application_id", appID)
		return nil, err
	}

	e.logger.Info("Pay application submitted",
		"pay_application_id", app.ID,
		"revision", app.Revision,
		"next_reviewer", app.CurrentReviewer(),
	)
	e.publish(ctx, event.NewEvent(event.TypeApplicationSubmitted, app.ProjectID, app.ID, actorID, map[string]interface{}{
		"revision":      app.Revision,
		"next_reviewer": app.CurrentReviewer(),
	}))
	return app, nil
}

// Approve records reviewerID's approval. The chain index advances before the
// trigger fires so the completing approval lands in FULLY_REVIEWED.
func (e *engineImpl) Approve(ctx context.Context, appID int64, reviewerID string) (*entity.PayApplication, error) {
	var app *entity.PayApplication

	err := e.store.WithTransaction(ctx, func(txCtx context.Context) error {
		var project *entity.Project
		var err error
		app, project, err = e.load(txCtx, appID)
		if err != nil {
			return err
		}
		if err := e.requireReviewer(txCtx, project, reviewerID, "approve"); err != nil {
			return err
		}

		sm := e.machineFor(app)
		if !sm.CanFire(domainwf.TriggerApprove) {
			return apperr.InvalidTransition(app.ID, app.Status, domainwf.TriggerApprove.String())
		}
		if expected := app.CurrentReviewer(); expected != reviewerID {
			return apperr.NotCurrentReviewer(app.ID, reviewerID, expected)
		}

		now := e.now()
		app.Decisions = append(app.Decisions, entity.ReviewDecision{
			ReviewerID: reviewerID,
			Decision:   entity.DecisionApproved,
			Revision:   app.Revision,
			DecidedAt:  now,
		})
		app.CurrentReviewerIndex++

		if err := e.fire(txCtx, app, sm, domainwf.TriggerApprove, reviewerID, ""); err != nil {
			return err
		}
		app.UpdatedAt = now
		return e.store.SavePayApplication(txCtx, app)
	})
	if err != nil {
		e.logger.Error("Failed to approve pay application", "error", err,
			"pay_application_id", appID, "reviewer_id", reviewerID)
		return nil, err
	}

	e.logger.Info("Reviewer approved",
		"pay_application_id", app.ID,
		"reviewer_id", reviewerID,
		"status", app.Status,
		"next_reviewer", app.CurrentReviewer(),
	)
	e.publish(ctx, event.NewEvent(event.TypeReviewerApproved, app.ProjectID, app.ID, reviewerID, map[string]interface{}{
		"revision":      app.Revision,
		"next_reviewer": app.CurrentReviewer(),
	}))
	if app.Status == entity.StatusFullyReviewed {
		e.publish(ctx, event.NewEvent(event.TypeFullyReviewed, app.ProjectID, app.ID, reviewerID, map[string]interface{}{
			"revision": app.Revision,
		}))
	}
	return app, nil
}

// RequestChanges sends the application back to the contractor. The next
// submission restarts review at the first reviewer.
func (e *engineImpl) RequestChanges(ctx context.Context, appID int64, reviewerID, note string) (*entity.PayApplication, error) {
	var app *entity.PayApplication
	note = utils.SanitizeString(note)

	err := e.store.WithTransaction(ctx, func(txCtx context.Context) error {
		var project *entity.Project
		var err error
		app, project, err = e.load(txCtx, appID)
		if err != nil {
			return err
		}
		if err := e.requireReviewer(txCtx, project, reviewerID, "request_changes"); err != nil {
			return err
		}

		sm := e.machineFor(app)
		if !sm.CanFire(domainwf.TriggerRequestChanges) {
			return apperr.InvalidTransition(app.ID, app.Status, domainwf.TriggerRequestChanges.String())
		}
		if expected := app.CurrentReviewer(); expected != reviewerID {
			return apperr.NotCurrentReviewer(app.ID, reviewerID, expected)
		}

		now := e.now()
		app.Decisions = append(app.Decisions, entity.ReviewDecision{
			ReviewerID: reviewerID,
			Decision:   entity.DecisionChangesRequested,
			Note:       note,
			Revision:   app.Revision,
			DecidedAt:  now,
		})
		if err := e.fire(txCtx, app, sm, domainwf.TriggerRequestChanges, reviewerID, note); err != nil {
			return err
		}
		app.CurrentReviewerIndex = 0
		app.UpdatedAt = now
		return e.store.SavePayApplication(txCtx, app)
	})
	if err != nil {
		e.logger.Error("Failed to request changes", "error", err,
			"pay_application_id", appID, "reviewer_id", reviewerID)
		return nil, err
	}

	e.logger.Info("Changes requested", "pay_application_id", app.ID, "reviewer_id", reviewerID)
	e.publish(ctx, event.NewEvent(event.TypeChangesRequested, app.ProjectID, app.ID, reviewerID, map[string]interface{}{
		"revision":      app.Revision,
		"note":          note,
		"contractor_id": app.ContractorID,
	}))
	return app, nil
}

// Finalize closes the application and rolls each snapshotted line item
// forward in the same transaction
func (e *engineImpl) Finalize(ctx context.Context, appID int64, directorID string) (*entity.PayApplication, error) {
	var app *entity.PayApplication
	var rolled []*entity.LineItem

	err := e.store.WithTransaction(ctx, func(txCtx context.Context) error {
		var project *entity.Project
		var err error
		app, project, err = e.load(txCtx, appID)
		if err != nil {
			return err
		}
		actor, err := e.auth.Require(txCtx, project.OrganizationID, "finalize", entity.RoleDirector)
		if err != nil {
			return err
		}
		if actor.ID != directorID {
			return apperr.Forbidden(actor.ID, "finalize").With("director_id", directorID)
		}

		sm := e.machineFor(app)
		if !sm.CanFire(domainwf.TriggerFinalize) {
			return apperr.InvalidTransition(app.ID, app.Status, domainwf.TriggerFinalize.String())
		}

		rolled = rolled[:0]
		for _, line := range app.Snapshot {
			li, err := e.ledger.RollForward(txCtx, line.LineItemID, app.ID)
			if err != nil {
				return fmt.Errorf("roll forward line item %d: %w", line.LineItemID, err)
			}
			rolled = append(rolled, li)
		}

		now := e.now()
		app.FinalizedAt = &now
		app.FinalizedBy = directorID
		if err := e.fire(txCtx, app, sm, domainwf.TriggerFinalize, directorID, ""); err != nil {
			return err
		}
		app.UpdatedAt = now
		return e.store.SavePayApplication(txCtx, app)
	})
	if err != nil {
		e.logger.Error("Failed to finalize pay application", "error", err,
			"pay_application_id", appID, "director_id", directorID)
		return nil, err
	}

	e.logger.Info("Pay application finalized",
		"pay_application_id", app.ID,
		"director_id", directorID,
		"line_items", len(rolled),
	)
	correlationID := uuid.NewString()
	e.publish(ctx, event.NewEventWithCorrelation(event.TypeApplicationFinalized, app.ProjectID, app.ID, directorID,
		map[string]interface{}{
			"revision":      app.Revision,
			"contractor_id": app.ContractorID,
		}, correlationID))
	for _, li := range rolled {
		e.publish(ctx, event.NewEventWithCorrelation(event.TypeLineItemRolledOver, app.ProjectID, li.ID, directorID,
			map[string]interface{}{
				"pay_application_id":        app.ID,
				"from_previous_application": li.FromPreviousApplication.String(),
				"billing_period":            li.BillingPeriod,
			}, correlationID))
	}
	return app, nil
}

// Get returns an application visible to the caller's organization
func (e *engineImpl) Get(ctx context.Context, appID int64) (*entity.PayApplication, error) {
	app, project, err := e.load(ctx, appID)
	if err != nil {
		return nil, err
	}
	if _, err := e.auth.Require(ctx, project.OrganizationID, "view_pay_application"); err != nil {
		return nil, err
	}
	return app, nil
}

// List returns a project's applications
func (e *engineImpl) List(ctx context.Context, projectID int64) ([]*entity.PayApplication, error) {
	project, err := e.store.LoadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := e.auth.Require(ctx, project.OrganizationID, "list_pay_applications"); err != nil {
		return nil, err
	}
	return e.store.ListPayApplications(ctx, projectID)
}

// History returns the audit trail of an application
func (e *engineImpl) History(ctx context.Context, appID int64) ([]*entity.TransitionRecord, error) {
	if _, err := e.Get(ctx, appID); err != nil {
		return nil, err
	}
	return e.store.ListTransitions(ctx, appID)
}

// PermittedTriggers lists the triggers configured for the application's status
func (e *engineImpl) PermittedTriggers(ctx context.Context, appID int64) ([]string, error) {
	app, err := e.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	triggers := e.machineFor(app).PermittedTriggers()
	out := make([]string, len(triggers))
	for i, t := range triggers {
		out[i] = t.String()
	}
	return out, nil
}

func (e *engineImpl) load(ctx context.Context, appID int64) (*entity.PayApplication, *entity.Project, error) {
	app, err := e.store.LoadPayApplication(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	project, err := e.store.LoadProject(ctx, app.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	return app, project, nil
}

// machineFor rebuilds the state machine at the application's persisted status
func (e *engineImpl) machineFor(app *entity.PayApplication) domainwf.StateMachine {
	return BuildPayApplicationStateMachine(domainwf.State(app.Status), Guards{
		ExpensesResolved: func(ctx context.Context) error {
			pending, err := e.store.ListPendingExpenses(ctx, app.ProjectID)
			if err != nil {
				return fmt.Errorf("list pending expenses: %w", err)
			}
			if len(pending) == 0 {
				return nil
			}
			ids := make([]int64, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}
			return apperr.UnresolvedExpenses(ids)
		},
		ChainComplete: func(ctx context.Context) error {
			if app.ChainComplete() {
				return nil
			}
			return errChainIncomplete
		},
	})
}

// fire applies trigger to app and appends the transition record
func (e *engineImpl) fire(ctx context.Context, app *entity.PayApplication, sm domainwf.StateMachine, trigger domainwf.Trigger, actorID, note string) error {
	from := sm.State()
	tr, err := sm.Fire(ctx, trigger)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		if errors.Is(err, domainwf.ErrInvalidTransition) || errors.Is(err, domainwf.ErrGuardFailed) {
			return apperr.InvalidTransition(app.ID, from.String(), trigger.String())
		}
		return err
	}

	app.Status = tr.To.String()
	return e.store.AppendTransition(ctx, &entity.TransitionRecord{
		PayApplicationID: app.ID,
		ActorID:          actorID,
		PreviousStatus:   tr.From.String(),
		NewStatus:        tr.To.String(),
		Trigger:          tr.Trigger.String(),
		ReviewerIndex:    app.CurrentReviewerIndex,
		Note:             note,
		Timestamp:        e.now(),
	})
}

// requireReviewer checks the caller is a reviewer acting as reviewerID
func (e *engineImpl) requireReviewer(ctx context.Context, project *entity.Project, reviewerID, action string) error {
	actor, err := e.auth.Require(ctx, project.OrganizationID, action, entity.RoleReviewer)
	if err != nil {
		return err
	}
	if actor.ID != reviewerID {
		return apperr.Forbidden(actor.ID, action).With("reviewer_id", reviewerID)
	}
	return nil
}

// validateChain normalizes a reviewer chain. Entries must be distinct
// organization members holding the reviewer role, since only reviewers can
// approve or request changes.
func (e *engineImpl) validateChain(ctx context.Context, project *entity.Project, chain []string) ([]string, error) {
	if len(chain) == 0 {
		return nil, apperr.Validation("reviewer chain must not be empty")
	}
	out := make([]string, 0, len(chain))
	seen := make(map[string]bool, len(chain))
	for _, id := range chain {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, apperr.Validation("reviewer chain contains a blank reviewer")
		}
		if seen[id] {
			return nil, apperr.Validation("reviewer %q appears more than once", id)
		}
		if id == project.ContractorID {
			return nil, apperr.Validation("contractor %q cannot review their own application", id)
		}
		if err := e.auth.RequireMemberRole(ctx, id, project.OrganizationID, entity.RoleReviewer, "reviewer"); err != nil {
			return nil, err
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func (e *engineImpl) publish(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, evt)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

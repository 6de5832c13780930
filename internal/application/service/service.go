package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Publisher hands committed events to subscribers
type Publisher interface {
	DispatchAsync(ctx context.Context, evt *event.Event)
}

// Authorizer checks role and organization membership before a mutation
type Authorizer struct {
	identity port.IdentityProvider
}

// NewAuthorizer creates an Authorizer backed by the identity provider
func NewAuthorizer(identity port.IdentityProvider) *Authorizer {
	return &Authorizer{identity: identity}
}

// Require resolves the caller and checks it holds one of roles within the organization.
// An empty roles list admits any role.
func (a *Authorizer) Require(ctx context.Context, organizationID, action string, roles ...string) (*port.Actor, error) {
	actor, err := a.identity.CurrentUser(ctx)
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperr.Forbidden("", action).With("reason", err.Error())
	}
	if actor == nil || actor.ID == "" {
		return nil, apperr.Forbidden("", action)
	}

	if len(roles) > 0 && !hasRole(actor.Role, roles) {
		return nil, apperr.Forbidden(actor.ID, action).With("role", actor.Role)
	}

	member, err := a.identity.IsMember(ctx, actor.ID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return nil, apperr.Forbidden(actor.ID, action).With("organization_id", organizationID)
	}
	return actor, nil
}

// RequireContractor admits only the contractor the project is billed by
func (a *Authorizer) RequireContractor(ctx context.Context, project *entity.Project, action string) (*port.Actor, error) {
	actor, err := a.Require(ctx, project.OrganizationID, action, entity.RoleContractor)
	if err != nil {
		return nil, err
	}
	if actor.ID != project.ContractorID {
		return nil, apperr.Forbidden(actor.ID, action).With("project_id", project.ID)
	}
	return actor, nil
}

// IsMember reports whether userID belongs to the organization
func (a *Authorizer) IsMember(ctx context.Context, userID, organizationID string) (bool, error) {
	return a.identity.IsMember(ctx, userID, organizationID)
}

// RequireMemberRole checks that userID is a member of the organization holding
// role. Failures are validation errors naming what the user was assigned as.
func (a *Authorizer) RequireMemberRole(ctx context.Context, userID, organizationID, role, assignedAs string) error {
	got, err := a.identity.MemberRole(ctx, userID, organizationID)
	if err != nil {
		return fmt.Errorf("check %s membership: %w", assignedAs, err)
	}
	if got == "" {
		return apperr.Validation("%s %q is not a member of organization %q", assignedAs, userID, organizationID)
	}
	if got != role {
		return apperr.Validation("%s %q has role %s, want %s", assignedAs, userID, got, role).
			With("role", got)
	}
	return nil
}

// CurrentUser returns the resolved caller
func (a *Authorizer) CurrentUser(ctx context.Context) (*port.Actor, error) {
	return a.identity.CurrentUser(ctx)
}

func hasRole(role string, allowed []string) bool {
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

// ensureLedgerWritable refuses ledger writes while the project's open
// application is out for review
func ensureLedgerWritable(ctx context.Context, apps port.PayApplicationStore, projectID int64) error {
	open, err := apps.OpenPayApplication(ctx, projectID)
	if err != nil {
		return fmt.Errorf("find open pay application: %w", err)
	}
	if open != nil && open.LocksLedger() {
		return apperr.ErrApplicationLocked.
			With("project_id", projectID).
			With("pay_application_id", open.ID).
			With("status", open.Status)
	}
	return nil
}

func publish(ctx context.Context, publisher Publisher, events []*event.Event) {
	if publisher == nil {
		return
	}
	for _, evt := range events {
		publisher.DispatchAsync(ctx, evt)
	}
}

package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// LedgerService owns the schedule of values and its roll-up arithmetic
type LedgerService interface {
	CreateProject(ctx context.Context, input CreateProjectInput) (*entity.Project, error)
	GetProject(ctx context.Context, projectID int64) (*entity.Project, error)
	ListProjects(ctx context.Context) ([]*entity.Project, error)
	LineItems(ctx context.Context, projectID int64) ([]*entity.LineItem, error)
	ProjectSummary(ctx context.Context, projectID int64) (*entity.ProjectSummary, error)
	SetMaterialsStored(ctx context.Context, lineItemID int64, amount decimal.Decimal) (*entity.LineItem, error)

	// Recompute and RollForward join the caller's transaction and perform no
	// authorization of their own.
	Recompute(ctx context.Context, lineItemID int64) (*entity.LineItem, error)
	RollForward(ctx context.Context, lineItemID, applicationID int64) (*entity.LineItem, error)
}

// CreateProjectInput fixes a project's schedule of values
type CreateProjectInput struct {
	OrganizationID   string
	Name             string
	ContractorID     string
	RetainagePercent decimal.Decimal
	LineItems        []LineItemInput
}

// LineItemInput is one scheduled line. RetainagePercent overrides the project rate when set.
type LineItemInput struct {
	ItemNumber       string
	Description      string
	ScheduledValue   decimal.Decimal
	RetainagePercent *decimal.Decimal
}

type ledgerServiceImpl struct {
	store  port.Store
	auth   *Authorizer
	logger Logger
}

// NewLedgerService creates a new LedgerService
func NewLedgerService(store port.Store, auth *Authorizer, logger Logger) LedgerService {
	return &ledgerServiceImpl{store: store, auth: auth, logger: logger}
}

// CreateProject validates and stores a new project with its line items
func (s *ledgerServiceImpl) CreateProject(ctx context.Context, input CreateProjectInput) (*entity.Project, error) {
	if err := validateProjectInput(input); err != nil {
		return nil, err
	}

	actor, err := s.auth.Require(ctx, input.OrganizationID, "create_project", entity.RoleDirector)
	if err != nil {
		return nil, err
	}

	if err := s.auth.RequireMemberRole(ctx, input.ContractorID, input.OrganizationID, entity.RoleContractor, "contractor"); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	project := &entity.Project{
		OrganizationID:   input.OrganizationID,
		Name:             strings.TrimSpace(input.Name),
		ContractorID:     input.ContractorID,
		RetainagePercent: input.RetainagePercent,
		CreatedAt:        now,
	}
	for _, in := range input.LineItems {
		retainage := input.RetainagePercent
		if in.RetainagePercent != nil {
			retainage = *in.RetainagePercent
		}
		project.LineItems = append(project.LineItems, &entity.LineItem{
			ItemNumber:       strings.TrimSpace(in.ItemNumber),
			Description:      utils.SanitizeString(in.Description),
			ScheduledValue:   in.ScheduledValue,
			RetainagePercent: retainage,
			BillingPeriod:    1,
			PeriodStart:      now,
			Version:          1,
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}

	err = s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.store.CreateProject(txCtx, project)
	})
	if err != nil {
		s.logger.Error("Failed to create project", "error", err, "name", project.Name)
		return nil, fmt.Errorf("create project: %w", err)
	}

	project.SortLineItems()
	s.logger.Info("Project created",
		"project_id", project.ID,
		"organization_id", project.OrganizationID,
		"line_items", len(project.LineItems),
		"actor_id", actor.ID,
	)
	return project, nil
}

func validateProjectInput(input CreateProjectInput) error {
	if strings.TrimSpace(input.OrganizationID) == "" {
		return apperr.Validation("organization id is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return apperr.Validation("project name is required")
	}
	if strings.TrimSpace(input.ContractorID) == "" {
		return apperr.Validation("contractor id is required")
	}
	if err := utils.ValidatePercent(input.RetainagePercent); err != nil {
		return apperr.Validation("%s", err.Error())
	}
	if len(input.LineItems) == 0 {
		return apperr.Validation("schedule of values needs at least one line item")
	}

	seen := make(map[string]bool, len(input.LineItems))
	for _, li := range input.LineItems {
		number := strings.TrimSpace(li.ItemNumber)
		if number == "" {
			return apperr.Validation("item number is required")
		}
		if seen[number] {
			return apperr.Validation("duplicate item number %q", number)
		}
		seen[number] = true

		if !li.ScheduledValue.IsPositive() {
			return apperr.InvalidAmount(li.ScheduledValue.String()).With("item_number", number)
		}
		if li.RetainagePercent != nil {
			if err := utils.ValidatePercent(*li.RetainagePercent); err != nil {
				return apperr.Validation("item %s: %s", number, err.Error())
			}
		}
	}
	return nil
}

// GetProject returns a project with its line items
func (s *ledgerServiceImpl) GetProject(ctx context.Context, projectID int64) (*entity.Project, error) {
	project, err := s.store.LoadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.auth.Require(ctx, project.OrganizationID, "view_project"); err != nil {
		return nil, err
	}
	return project, nil
}

// ListProjects returns the projects of the caller's organization
func (s *ledgerServiceImpl) ListProjects(ctx context.Context) ([]*entity.Project, error) {
	actor, err := s.auth.CurrentUser(ctx)
	if err != nil || actor == nil {
		return nil, apperr.Forbidden("", "list_projects")
	}
	if _, err := s.auth.Require(ctx, actor.OrganizationID, "list_projects"); err != nil {
		return nil, err
	}
	return s.store.ListProjects(ctx, actor.OrganizationID)
}

// LineItems returns a project's schedule of values in item-number order
func (s *ledgerServiceImpl) LineItems(ctx context.Context, projectID int64) ([]*entity.LineItem, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return project.LineItems, nil
}

// ProjectSummary returns the dashboard roll-up of every line item
func (s *ledgerServiceImpl) ProjectSummary(ctx context.Context, projectID int64) (*entity.ProjectSummary, error) {
	project, err := s.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return project.Summarize(), nil
}

// SetMaterialsStored records the value of materials presently stored for a line item
func (s *ledgerServiceImpl) SetMaterialsStored(ctx context.Context, lineItemID int64, amount decimal.Decimal) (*entity.LineItem, error) {
	if amount.IsNegative() {
		return nil, apperr.Validation("materials stored cannot be negative: %s", amount.String())
	}

	var updated *entity.LineItem
	err := s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		li, err := s.store.LoadLineItem(txCtx, lineItemID)
		if err != nil {
			return err
		}
		project, err := s.store.LoadProject(txCtx, li.ProjectID)
		if err != nil {
			return err
		}
		if _, err := s.auth.RequireContractor(txCtx, project, "set_materials_stored"); err != nil {
			return err
		}
		if err := ensureLedgerWritable(txCtx, s.store, project.ID); err != nil {
			return err
		}

		if !li.Fits(li.ThisPeriod, amount) {
			return apperr.OverSchedule(li.ID, li.ScheduledValue.String(),
				li.FromPreviousApplication.Add(li.ThisPeriod).Add(amount).String())
		}
		li.MaterialsStored = amount
		if err := s.store.SaveLineItem(txCtx, li); err != nil {
			return err
		}
		updated = li
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to set materials stored", "error", err, "line_item_id", lineItemID)
		return nil, err
	}

	s.logger.Info("Materials stored updated", "line_item_id", lineItemID, "amount", amount.String())
	return updated, nil
}

// Recompute rebuilds ThisPeriod from the approved entries of the open billing period
func (s *ledgerServiceImpl) Recompute(ctx context.Context, lineItemID int64) (*entity.LineItem, error) {
	var updated *entity.LineItem
	err := s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		li, err := s.store.LoadLineItem(txCtx, lineItemID)
		if err != nil {
			return err
		}
		expenses, err := s.store.ListExpenses(txCtx, lineItemID)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}

		thisPeriod := entity.SumApprovedInPeriod(expenses, li.BillingPeriod)
		if thisPeriod.IsNegative() {
			return apperr.Validation("reversals exceed the amount billed this period on line item %d", li.ID).
				With("this_period", thisPeriod.String())
		}
		if !li.Fits(thisPeriod, li.MaterialsStored) {
			return apperr.OverSchedule(li.ID, li.ScheduledValue.String(),
				li.FromPreviousApplication.Add(thisPeriod).Add(li.MaterialsStored).String())
		}

		if thisPeriod.Equal(li.ThisPeriod) {
			updated = li
			return nil
		}
		li.ThisPeriod = thisPeriod
		if err := s.store.SaveLineItem(txCtx, li); err != nil {
			return err
		}
		updated = li
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RollForward closes the billing period for a finalized application. Repeated
// calls for the same application leave the line item unchanged.
func (s *ledgerServiceImpl) RollForward(ctx context.Context, lineItemID, applicationID int64) (*entity.LineItem, error) {
	var updated *entity.LineItem
	err := s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		li, err := s.store.LoadLineItem(txCtx, lineItemID)
		if err != nil {
			return err
		}
		if li.LastRolledApplicationID == applicationID {
			updated = li
			return nil
		}

		li.FromPreviousApplication = li.FromPreviousApplication.Add(li.ThisPeriod)
		li.ThisPeriod = decimal.Zero
		li.CertifiedMaterials = li.MaterialsStored
		li.BillingPeriod++
		li.PeriodStart = time.Now().UTC()
		li.LastRolledApplicationID = applicationID

		if err := s.store.SaveLineItem(txCtx, li); err != nil {
			return err
		}
		updated = li
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to roll line item forward", "error", err,
			"line_item_id", lineItemID, "pay_application_id", applicationID)
		return nil, err
	}
	return updated, nil
}

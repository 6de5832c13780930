package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"github.com/garyjia/payapp-engine/pkg/utils"
	"github.com/shopspring/decimal"
)

// ExpenseService manages the expense ledger feeding each line item's ThisPeriod
type ExpenseService interface {
	AddExpense(ctx context.Context, input AddExpenseInput) (*entity.Expense, error)
	ApproveExpense(ctx context.Context, expenseID int64) (*entity.Expense, error)
	RejectExpense(ctx context.Context, expenseID int64) error
	ReverseExpense(ctx context.Context, expenseID int64, amount decimal.Decimal, note string) (*entity.Expense, error)
	ListExpenses(ctx context.Context, lineItemID int64) ([]*entity.Expense, error)
}

// AddExpenseInput describes a contractor cost entry. An empty Category files it as OTHER.
type AddExpenseInput struct {
	LineItemID int64
	Amount     decimal.Decimal
	Category   string
	IncurredOn time.Time
	HasReceipt bool
	Note       string
}

type expenseServiceImpl struct {
	store     port.Store
	ledger    LedgerService
	auth      *Authorizer
	publisher Publisher
	logger    Logger
}

// NewExpenseService creates a new ExpenseService
func NewExpenseService(store port.Store, ledger LedgerService, auth *Authorizer, publisher Publisher, logger Logger) ExpenseService {
	return &expenseServiceImpl{
		store:     store,
		ledger:    ledger,
		auth:      auth,
		publisher: publisher,
		logger:    logger,
	}
}

// AddExpense files a pending expense. The schedule of values is not touched
// until the expense is approved.
func (s *expenseServiceImpl) AddExpense(ctx context.Context, input AddExpenseInput) (*entity.Expense, error) {
	if !input.Amount.IsPositive() {
		return nil, apperr.InvalidAmount(input.Amount.String())
	}
	if !input.Amount.Equal(input.Amount.Round(2)) {
		return nil, apperr.Validation("amount %s has more than two decimal places", input.Amount.String())
	}
	category := strings.ToUpper(strings.TrimSpace(input.Category))
	if category == "" {
		category = entity.CategoryOther
	}
	if !entity.IsValidCategory(category) {
		return nil, apperr.Validation("unknown expense category %q", input.Category)
	}
	if input.IncurredOn.IsZero() {
		return nil, apperr.Validation("incurred date is required")
	}

	var created *entity.Expense
	var project *entity.Project
	err := s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		li, err := s.store.LoadLineItem(txCtx, input.LineItemID)
		if err != nil {
			return err
		}
		project, err = s.store.LoadProject(txCtx, li.ProjectID)
		if err != nil {
			return err
		}
		actor, err := s.auth.RequireContractor(txCtx, project, "add_expense")
		if err != nil {
			return err
		}
		if err := ensureLedgerWritable(txCtx, s.store, project.ID); err != nil {
			return err
		}
		if dateOf(input.IncurredOn).Before(dateOf(li.PeriodStart)) && li.BillingPeriod > 1 {
			return apperr.Validation("expense dated %s falls in a closed billing period",
				input.IncurredOn.Format("2006-01-02"))
		}

		now := time.Now().UTC()
		created = &entity.Expense{
			LineItemID:    li.ID,
			Amount:        input.Amount,
			Category:      category,
			IncurredOn:    input.IncurredOn.UTC(),
			BillingPeriod: li.BillingPeriod,
			HasReceipt:    input.HasReceipt,
			Note:          utils.SanitizeString(input.Note),
			CreatedBy:     actor.ID,
			Version:       1,
			CreatedAt:     now,
		}
		return s.store.CreateExpense(txCtx, created)
	})
	if err != nil {
		s.logger.Error("Failed to add expense", "error", err, "line_item_id", input.LineItemID)
		return nil, err
	}

	s.logger.Info("Expense added",
		"expense_id", created.ID,
		"line_item_id", created.LineItemID,
		"amount", created.Amount.String(),
		"category", created.Category,
	)
	publish(ctx, s.publisher, []*event.Event{
		event.NewEvent(event.TypeExpenseAdded, project.ID, created.ID, created.CreatedBy, map[string]interface{}{
			"line_item_id": created.LineItemID,
			"amount":       created.Amount.String(),
		}),
	})
	return created, nil
}

// ApproveExpense flags the expense approved and recomputes its line item in
// the same transaction. An over-schedule result leaves both unchanged.
func (s *expenseServiceImpl) ApproveExpense(ctx context.Context, expenseID int64) (*entity.Expense, error) {
	var approved *entity.Expense
	var project *entity.Project
	var actorID string

	err := s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		e, err := s.store.LoadExpense(txCtx, expenseID)
		if err != nil {
			return err
		}
		li, err := s.store.LoadLineItem(txCtx, e.LineItemID)
		if err != nil {
			return err
		}
		project, err = s.store.LoadProject(txCtx, li.ProjectID)
		if err != nil {
			return err
		}
		actor, err := s.auth.Require(txCtx, project.OrganizationID, "approve_expense", entity.RoleReviewer)
		if err != nil {
			return err
		}
		actorID = actor.ID
		if e.Approved {
			return apperr.AlreadyApproved(e.ID)
		}
		if err := ensureLedgerWritable(txCtx, s.store, project.ID); err != nil {
			return err
		}

		now := time.Now().UTC()
		e.Approved = true
		e.ApprovedBy = actor.ID
		e.ApprovedAt = &now
		e.BillingPeriod = li.BillingPeriod
		if err := s.store.SaveExpense(txCtx, e); err != nil {
			return err
		}
		if _, err := s.ledger.Recompute(txCtx, li.ID); err != nil {
			return err
		}
		approved = e
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to approve expense", "error", err, "expense_id", expenseID)
		return nil, err
	}

	s.logger.Info("Expense approved", "expense_id", approved.ID, "line_item_id", approved.LineItemID, "reviewer_id", actorID)
	publish(ctx, s.publisher, []*event.Event{
		event.NewEvent(event.TypeExpenseApproved, project.ID, approved.ID, actorID, map[string]interface{}{
			"line_item_id": approved.LineItemID,
			"amount":       approved.SignedAmount().String(),
		}),
	})
	return approved, nil
}

// RejectExpense removes a pending expense. Reviewers reject; the project's
// contractor may withdraw their own entry.
func (s *expenseServiceImpl) RejectExpense(ctx context.Context, expenseID int64) error {
	var project *entity.Project
	var actorID string
	var lineItemID int64

	err := s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		e, err := s.store.LoadExpense(txCtx, expenseID)
		if err != nil {
			return err
		}
		li, err := s.store.LoadLineItem(txCtx, e.LineItemID)
		if err != nil {
			return err
		}
		project, err = s.store.LoadProject(txCtx, li.ProjectID)
		if err != nil {
			return err
		}
		actor, err := s.auth.Require(txCtx, project.OrganizationID, "reject_expense", entity.RoleReviewer, entity.RoleContractor)
		if err != nil {
			return err
		}
		if actor.Role == entity.RoleContractor && actor.ID != project.ContractorID {
			return apperr.Forbidden(actor.ID, "reject_expense").With("project_id", project.ID)
		}
		actorID = actor.ID
		lineItemID = li.ID

		if e.Approved {
			return apperr.AlreadyApproved(e.ID)
		}
		if err := ensureLedgerWritable(txCtx, s.store, project.ID); err != nil {
			return err
		}
		return s.store.DeleteExpense(txCtx, e.ID, e.Version)
	})
	if err != nil {
		s.logger.Error("Failed to reject expense", "error", err, "expense_id", expenseID)
		return err
	}

	s.logger.Info("Expense removed", "expense_id", expenseID, "actor_id", actorID)
	publish(ctx, s.publisher, []*event.Event{
		event.NewEvent(event.TypeExpenseRejected, project.ID, expenseID, actorID, map[string]interface{}{
			"line_item_id": lineItemID,
		}),
	})
	return nil
}

// ReverseExpense files a pending reversal entry against an approved expense
func (s *expenseServiceImpl) ReverseExpense(ctx context.Context, expenseID int64, amount decimal.Decimal, note string) (*entity.Expense, error) {
	if !amount.IsPositive() {
		return nil, apperr.InvalidAmount(amount.String())
	}

	var reversal *entity.Expense
	var project *entity.Project
	err := s.store.WithTransaction(ctx, func(txCtx context.Context) error {
		original, err := s.store.LoadExpense(txCtx, expenseID)
		if err != nil {
			return err
		}
		li, err := s.store.LoadLineItem(txCtx, original.LineItemID)
		if err != nil {
			return err
		}
		project, err = s.store.LoadProject(txCtx, li.ProjectID)
		if err != nil {
			return err
		}
		actor, err := s.auth.RequireContractor(txCtx, project, "reverse_expense")
		if err != nil {
			return err
		}
		if original.IsReversal() {
			return apperr.Validation("expense %d is itself a reversal", original.ID)
		}
		if !original.Approved {
			return apperr.Validation("only approved expenses can be reversed; remove pending expense %d instead", original.ID)
		}
		if err := ensureLedgerWritable(txCtx, s.store, project.ID); err != nil {
			return err
		}

		entries, err := s.store.ListExpenses(txCtx, li.ID)
		if err != nil {
			return fmt.Errorf("list expenses: %w", err)
		}
		reversed := decimal.Zero
		pending := decimal.Zero
		for _, e := range entries {
			if e.ReversesExpenseID != nil && *e.ReversesExpenseID == original.ID {
				reversed = reversed.Add(e.Amount)
			}
			if e.IsReversal() && !e.Approved {
				pending = pending.Add(e.Amount)
			}
		}
		if reversed.Add(amount).GreaterThan(original.Amount) {
			return apperr.Validation("reversals of expense %d would exceed its amount %s", original.ID, original.Amount.String()).
				With("already_reversed", reversed.String())
		}
		// Reversals net against the open period, so they can never take
		// ThisPeriod below zero once approved.
		if pending.Add(amount).GreaterThan(li.ThisPeriod) {
			return apperr.Validation("reversal of %s exceeds the %s approved in open billing period %d",
				amount.String(), li.ThisPeriod.Sub(pending).String(), li.BillingPeriod).
				With("open_period_net", li.ThisPeriod.String()).
				With("pending_reversals", pending.String())
		}

		originalID := original.ID
		now := time.Now().UTC()
		reversal = &entity.Expense{
			LineItemID:        li.ID,
			Amount:            amount,
			Category:          entity.CategoryReversal,
			IncurredOn:        now,
			BillingPeriod:     li.BillingPeriod,
			HasReceipt:        original.HasReceipt,
			ReversesExpenseID: &originalID,
			Note:              utils.SanitizeString(note),
			CreatedBy:         actor.ID,
			Version:           1,
			CreatedAt:         now,
		}
		return s.store.CreateExpense(txCtx, reversal)
	})
	if err != nil {
		s.logger.Error("Failed to reverse expense", "error", err, "expense_id", expenseID)
		return nil, err
	}

	s.logger.Info("Reversal filed", "expense_id", reversal.ID, "reverses", expenseID, "amount", amount.String())
	publish(ctx, s.publisher, []*event.Event{
		event.NewEvent(event.TypeExpenseAdded, project.ID, reversal.ID, reversal.CreatedBy, map[string]interface{}{
			"line_item_id": reversal.LineItemID,
			"amount":       reversal.SignedAmount().String(),
			"reverses":     expenseID,
		}),
	})
	return reversal, nil
}

// ListExpenses returns a line item's ledger entries
func (s *expenseServiceImpl) ListExpenses(ctx context.Context, lineItemID int64) ([]*entity.Expense, error) {
	li, err := s.store.LoadLineItem(ctx, lineItemID)
	if err != nil {
		return nil, err
	}
	project, err := s.store.LoadProject(ctx, li.ProjectID)
	if err != nil {
		return nil, err
	}
	if _, err := s.auth.Require(ctx, project.OrganizationID, "list_expenses"); err != nil {
		return nil, err
	}
	return s.store.ListExpenses(ctx, lineItemID)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const expenseColumns = `
	id, line_item_id, amount, category, incurred_on, billing_period,
	approved, has_receipt, reverses_expense_id, note, created_by,
	approved_by, approved_at, version, created_at
`

// ExpenseRepository implements port.ExpenseStore
type ExpenseRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sqlite.DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{db: db, logger: logger}
}

// CreateExpense inserts a new ledger entry
func (r *ExpenseRepository) CreateExpense(ctx context.Context, e *entity.Expense) error {
	var reverses sql.NullInt64
	if e.ReversesExpenseID != nil {
		reverses = sql.NullInt64{Int64: *e.ReversesExpenseID, Valid: true}
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO expenses (
			line_item_id, amount, category, incurred_on, billing_period,
			approved, has_receipt, reverses_expense_id, note, created_by,
			approved_by, approved_at, version, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.LineItemID,
		e.Amount,
		e.Category,
		e.IncurredOn,
		e.BillingPeriod,
		e.Approved,
		e.HasReceipt,
		reverses,
		e.Note,
		e.CreatedBy,
		e.ApprovedBy,
		nullTime(e.ApprovedAt),
		e.Version,
		e.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.Error(err), zap.Int64("line_item_id", e.LineItemID))
		return fmt.Errorf("failed to create expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// LoadExpense retrieves an expense by ID
func (r *ExpenseRepository) LoadExpense(ctx context.Context, id int64) (*entity.Expense, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	e, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("expense", id)
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return e, nil
}

// SaveExpense records the approval of an expense if its version is unchanged
func (r *ExpenseRepository) SaveExpense(ctx context.Context, e *entity.Expense) error {
	exec := r.db.Executor(ctx)
	result, err := exec.ExecContext(ctx, `
		UPDATE expenses SET
			approved = ?,
			billing_period = ?,
			approved_by = ?,
			approved_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`,
		e.Approved,
		e.BillingPeriod,
		e.ApprovedBy,
		nullTime(e.ApprovedAt),
		e.ID,
		e.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.Error(err), zap.Int64("id", e.ID))
		return fmt.Errorf("failed to update expense: %w", err)
	}
	if err := checkSwap(ctx, exec, result, "expenses", "expense", e.ID); err != nil {
		return err
	}
	e.Version++
	return nil
}

// DeleteExpense removes a pending expense; approved rows are never deleted
func (r *ExpenseRepository) DeleteExpense(ctx context.Context, id int64, version int64) error {
	exec := r.db.Executor(ctx)
	result, err := exec.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = ? AND version = ? AND approved = 0", id, version)
	if err != nil {
		r.logger.Error("Failed to delete expense", zap.Error(err), zap.Int64("id", id))
		return fmt.Errorf("failed to delete expense: %w", err)
	}
	return checkSwap(ctx, exec, result, "expenses", "expense", id)
}

// ListExpenses returns every entry of a line item in creation order
func (r *ExpenseRepository) ListExpenses(ctx context.Context, lineItemID int64) ([]*entity.Expense, error) {
	return r.query(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE line_item_id = ? ORDER BY id", lineItemID)
}

// ListPendingExpenses returns the unapproved entries across a project's line items
func (r *ExpenseRepository) ListPendingExpenses(ctx context.Context, projectID int64) ([]*entity.Expense, error) {
	return r.query(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE approved = 0
		  AND line_item_id IN (SELECT id FROM line_items WHERE project_id = ?)
		ORDER BY id
	`, projectID)
}

func (r *ExpenseRepository) query(ctx context.Context, query string, args ...interface{}) ([]*entity.Expense, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*entity.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expenses: %w", err)
	}
	return expenses, nil
}

func scanExpense(s scanner) (*entity.Expense, error) {
	var e entity.Expense
	var reverses sql.NullInt64
	var approvedAt sql.NullTime

	err := s.Scan(
		&e.ID,
		&e.LineItemID,
		&e.Amount,
		&e.Category,
		&e.IncurredOn,
		&e.BillingPeriod,
		&e.Approved,
		&e.HasReceipt,
		&reverses,
		&e.Note,
		&e.CreatedBy,
		&e.ApprovedBy,
		&approvedAt,
		&e.Version,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reverses.Valid {
		id := reverses.Int64
		e.ReversesExpenseID = &id
	}
	e.ApprovedAt = timePtr(approvedAt)
	return &e, nil
}

var _ port.ExpenseStore = (*ExpenseRepository)(nil)

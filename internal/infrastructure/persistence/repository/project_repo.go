package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const lineItemColumns = `
	id, project_id, item_number, description, scheduled_value,
	from_previous_application, this_period, materials_stored, certified_materials,
	retainage_percent, billing_period, period_start, last_rolled_application_id,
	version, created_at, updated_at
`

// ProjectRepository implements port.ProjectStore
type ProjectRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *sqlite.DB, logger *zap.Logger) *ProjectRepository {
	return &ProjectRepository{db: db, logger: logger}
}

// CreateProject inserts a project together with its schedule of values
func (r *ProjectRepository) CreateProject(ctx context.Context, project *entity.Project) error {
	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := r.db.Executor(txCtx)

		result, err := exec.ExecContext(txCtx, `
			INSERT INTO projects (organization_id, name, contractor_id, retainage_percent, created_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			project.OrganizationID,
			project.Name,
			project.ContractorID,
			project.RetainagePercent,
			project.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to create project", zap.Error(err))
			return fmt.Errorf("failed to create project: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		project.ID = id

		for _, li := range project.LineItems {
			li.ProjectID = id
			if err := r.insertLineItem(txCtx, exec, li); err != nil {
				if isUniqueViolation(err) {
					return apperr.Validation("duplicate item number %q", li.ItemNumber)
				}
				return err
			}
		}
		return nil
	})
}

func (r *ProjectRepository) insertLineItem(ctx context.Context, exec sqlite.Executor, li *entity.LineItem) error {
	result, err := exec.ExecContext(ctx, `
		INSERT INTO line_items (
			project_id, item_number, description, scheduled_value,
			from_previous_application, this_period, materials_stored, certified_materials,
			retainage_percent, billing_period, period_start, last_rolled_application_id,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		li.ProjectID,
		li.ItemNumber,
		li.Description,
		li.ScheduledValue,
		li.FromPreviousApplication,
		li.ThisPeriod,
		li.MaterialsStored,
		li.CertifiedMaterials,
		li.RetainagePercent,
		li.BillingPeriod,
		li.PeriodStart,
		li.LastRolledApplicationID,
		li.Version,
		li.CreatedAt,
		li.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create line item", zap.Error(err), zap.String("item_number", li.ItemNumber))
		return fmt.Errorf("failed to create line item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	li.ID = id
	return nil
}

// LoadProject retrieves a project with its line items in item-number order
func (r *ProjectRepository) LoadProject(ctx context.Context, id int64) (*entity.Project, error) {
	exec := r.db.Executor(ctx)

	var p entity.Project
	err := exec.QueryRowContext(ctx, `
		SELECT id, organization_id, name, contractor_id, retainage_percent, created_at
		FROM projects
		WHERE id = ?
	`, id).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.ContractorID, &p.RetainagePercent, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		r.logger.Error("Failed to get project", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	rows, err := exec.QueryContext(ctx, "SELECT "+lineItemColumns+" FROM line_items WHERE project_id = ? ORDER BY id", id)
	if err != nil {
		r.logger.Error("Failed to query line items", zap.Error(err), zap.Int64("project_id", id))
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		p.LineItems = append(p.LineItems, li)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating line items: %w", err)
	}

	p.SortLineItems()
	return &p, nil
}

// ListProjects returns the projects of an organization; all projects when organizationID is empty
func (r *ProjectRepository) ListProjects(ctx context.Context, organizationID string) ([]*entity.Project, error) {
	query := "SELECT id FROM projects"
	var args []interface{}
	if organizationID != "" {
		query += " WHERE organization_id = ?"
		args = append(args, organizationID)
	}
	query += " ORDER BY id"

	ids, err := queryIDs(ctx, r.db.Executor(ctx), query, args...)
	if err != nil {
		r.logger.Error("Failed to list projects", zap.Error(err))
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}

	projects := make([]*entity.Project, 0, len(ids))
	for _, id := range ids {
		p, err := r.LoadProject(ctx, id)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// LoadLineItem retrieves a single line item
func (r *ProjectRepository) LoadLineItem(ctx context.Context, id int64) (*entity.LineItem, error) {
	row := r.db.Executor(ctx).QueryRowContext(ctx, "SELECT "+lineItemColumns+" FROM line_items WHERE id = ?", id)
	li, err := scanLineItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("line_item", id)
	}
	if err != nil {
		r.logger.Error("Failed to get line item", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get line item: %w", err)
	}
	return li, nil
}

// SaveLineItem writes the mutable figures of a line item if its version is unchanged
func (r *ProjectRepository) SaveLineItem(ctx context.Context, li *entity.LineItem) error {
	exec := r.db.Executor(ctx)
	now := time.Now().UTC()

	result, err := exec.ExecContext(ctx, `
		UPDATE line_items SET
			from_previous_application = ?,
			this_period = ?,
			materials_stored = ?,
			certified_materials = ?,
			billing_period = ?,
			period_start = ?,
			last_rolled_application_id = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		li.FromPreviousApplication,
		li.ThisPeriod,
		li.MaterialsStored,
		li.CertifiedMaterials,
		li.BillingPeriod,
		li.PeriodStart,
		li.LastRolledApplicationID,
		now,
		li.ID,
		li.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update line item", zap.Error(err), zap.Int64("id", li.ID))
		return fmt.Errorf("failed to update line item: %w", err)
	}
	if err := checkSwap(ctx, exec, result, "line_items", "line_item", li.ID); err != nil {
		return err
	}

	li.Version++
	li.UpdatedAt = now
	return nil
}

func scanLineItem(s scanner) (*entity.LineItem, error) {
	var li entity.LineItem
	err := s.Scan(
		&li.ID,
		&li.ProjectID,
		&li.ItemNumber,
		&li.Description,
		&li.ScheduledValue,
		&li.FromPreviousApplication,
		&li.ThisPeriod,
		&li.MaterialsStored,
		&li.CertifiedMaterials,
		&li.RetainagePercent,
		&li.BillingPeriod,
		&li.PeriodStart,
		&li.LastRolledApplicationID,
		&li.Version,
		&li.CreatedAt,
		&li.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &li, nil
}

func queryIDs(ctx context.Context, exec sqlite.Executor, query string, args ...interface{}) ([]int64, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ port.ProjectStore = (*ProjectRepository)(nil)

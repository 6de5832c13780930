package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

const payApplicationColumns = `
	id, project_id, contractor_id, application_number, reviewer_chain,
	current_reviewer_index, status, revision, submitted_at, finalized_at,
	finalized_by, version, created_at, updated_at
`

// PayApplicationRepository implements port.PayApplicationStore
type PayApplicationRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewPayApplicationRepository creates a new pay application repository
func NewPayApplicationRepository(db *sqlite.DB, logger *zap.Logger) *PayApplicationRepository {
	return &PayApplicationRepository{db: db, logger: logger}
}

// CreatePayApplication inserts a new application. The partial unique index on
// open applications turns a second open application into APPLICATION_IN_FLIGHT.
func (r *PayApplicationRepository) CreatePayApplication(ctx context.Context, app *entity.PayApplication) error {
	chain, err := json.Marshal(app.ReviewerChain)
	if err != nil {
		return fmt.Errorf("failed to encode reviewer chain: %w", err)
	}

	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO pay_applications (
			project_id, contractor_id, application_number, reviewer_chain,
			current_reviewer_index, status, revision, submitted_at, finalized_at,
			finalized_by, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		app.ProjectID,
		app.ContractorID,
		app.ApplicationNumber,
		string(chain),
		app.CurrentReviewerIndex,
		app.Status,
		app.Revision,
		nullTime(app.SubmittedAt),
		nullTime(app.FinalizedAt),
		app.FinalizedBy,
		app.Version,
		app.CreatedAt,
		app.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.ErrApplicationInFlight.With("project_id", app.ProjectID)
		}
		r.logger.Error("Failed to create pay application", zap.Error(err), zap.Int64("project_id", app.ProjectID))
		return fmt.Errorf("failed to create pay application: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	app.ID = id
	return nil
}

// LoadPayApplication retrieves an application with the snapshot of its
// current revision and every recorded decision
func (r *PayApplicationRepository) LoadPayApplication(ctx context.Context, id int64) (*entity.PayApplication, error) {
	exec := r.db.Executor(ctx)

	row := exec.QueryRowContext(ctx, "SELECT "+payApplicationColumns+" FROM pay_applications WHERE id = ?", id)
	app, err := scanPayApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("pay_application", id)
	}
	if err != nil {
		r.logger.Error("Failed to get pay application", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get pay application: %w", err)
	}

	if app.Snapshot, err = r.loadSnapshot(ctx, exec, app.ID, app.Revision); err != nil {
		return nil, err
	}
	if app.Decisions, err = r.loadDecisions(ctx, exec, app.ID); err != nil {
		return nil, err
	}
	return app, nil
}

// SavePayApplication writes status and reviewer progress if the version is
// unchanged, then stores any new snapshot revision and decisions
func (r *PayApplicationRepository) SavePayApplication(ctx context.Context, app *entity.PayApplication) error {
	chain, err := json.Marshal(app.ReviewerChain)
	if err != nil {
		return fmt.Errorf("failed to encode reviewer chain: %w", err)
	}

	return r.db.WithTransaction(ctx, func(txCtx context.Context) error {
		exec := r.db.Executor(txCtx)

		result, err := exec.ExecContext(txCtx, `
			UPDATE pay_applications SET
				reviewer_chain = ?,
				current_reviewer_index = ?,
				status = ?,
				revision = ?,
				submitted_at = ?,
				finalized_at = ?,
				finalized_by = ?,
				version = version + 1,
				updated_at = ?
			WHERE id = ? AND version = ?
		`,
			string(chain),
			app.CurrentReviewerIndex,
			app.Status,
			app.Revision,
			nullTime(app.SubmittedAt),
			nullTime(app.FinalizedAt),
			app.FinalizedBy,
			app.UpdatedAt,
			app.ID,
			app.Version,
		)
		if err != nil {
			r.logger.Error("Failed to update pay application", zap.Error(err), zap.Int64("id", app.ID))
			return fmt.Errorf("failed to update pay application: %w", err)
		}
		if err := checkSwap(txCtx, exec, result, "pay_applications", "pay_application", app.ID); err != nil {
			return err
		}

		if err := r.storeSnapshot(txCtx, exec, app); err != nil {
			return err
		}
		if err := r.appendDecisions(txCtx, exec, app); err != nil {
			return err
		}

		app.Version++
		return nil
	})
}

// ListPayApplications returns a project's applications in application-number order
func (r *PayApplicationRepository) ListPayApplications(ctx context.Context, projectID int64) ([]*entity.PayApplication, error) {
	ids, err := queryIDs(ctx, r.db.Executor(ctx),
		"SELECT id FROM pay_applications WHERE project_id = ? ORDER BY application_number", projectID)
	if err != nil {
		r.logger.Error("Failed to list pay applications", zap.Error(err), zap.Int64("project_id", projectID))
		return nil, fmt.Errorf("failed to list pay applications: %w", err)
	}
	return r.loadAll(ctx, ids)
}

// OpenPayApplication returns the project's non-finalized application, or nil
func (r *PayApplicationRepository) OpenPayApplication(ctx context.Context, projectID int64) (*entity.PayApplication, error) {
	ids, err := queryIDs(ctx, r.db.Executor(ctx),
		"SELECT id FROM pay_applications WHERE project_id = ? AND status <> ? LIMIT 1",
		projectID, entity.StatusFinalized)
	if err != nil {
		r.logger.Error("Failed to find open pay application", zap.Error(err), zap.Int64("project_id", projectID))
		return nil, fmt.Errorf("failed to find open pay application: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return r.LoadPayApplication(ctx, ids[0])
}

func (r *PayApplicationRepository) loadAll(ctx context.Context, ids []int64) ([]*entity.PayApplication, error) {
	apps := make([]*entity.PayApplication, 0, len(ids))
	for _, id := range ids {
		app, err := r.LoadPayApplication(ctx, id)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// storeSnapshot writes the snapshot of the current revision once; rows of
// earlier revisions are left untouched
func (r *PayApplicationRepository) storeSnapshot(ctx context.Context, exec sqlite.Executor, app *entity.PayApplication) error {
	if app.Revision == 0 || len(app.Snapshot) == 0 {
		return nil
	}

	var count int
	if err := exec.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM pay_application_snapshots WHERE pay_application_id = ? AND revision = ?",
		app.ID, app.Revision).Scan(&count); err != nil {
		return fmt.Errorf("failed to check snapshot: %w", err)
	}
	if count > 0 {
		return nil
	}

	for _, line := range app.Snapshot {
		_, err := exec.ExecContext(ctx, `
			INSERT INTO pay_application_snapshots (
				pay_application_id, revision, line_item_id, item_number, description,
				scheduled_value, from_previous_application, this_period, materials_stored,
				certified_materials, retainage_percent, billing_period
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			app.ID,
			app.Revision,
			line.LineItemID,
			line.ItemNumber,
			line.Description,
			line.ScheduledValue,
			line.FromPreviousApplication,
			line.ThisPeriod,
			line.MaterialsStored,
			line.CertifiedMaterials,
			line.RetainagePercent,
			line.BillingPeriod,
		)
		if err != nil {
			r.logger.Error("Failed to store snapshot line", zap.Error(err),
				zap.Int64("pay_application_id", app.ID), zap.Int64("line_item_id", line.LineItemID))
			return fmt.Errorf("failed to store snapshot: %w", err)
		}
	}
	return nil
}

func (r *PayApplicationRepository) appendDecisions(ctx context.Context, exec sqlite.Executor, app *entity.PayApplication) error {
	var stored int
	if err := exec.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM review_decisions WHERE pay_application_id = ?", app.ID).Scan(&stored); err != nil {
		return fmt.Errorf("failed to count decisions: %w", err)
	}

	for seq := stored; seq < len(app.Decisions); seq++ {
		d := app.Decisions[seq]
		_, err := exec.ExecContext(ctx, `
			INSERT INTO review_decisions (pay_application_id, seq, reviewer_id, decision, note, revision, decided_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, app.ID, seq, d.ReviewerID, d.Decision, d.Note, d.Revision, d.DecidedAt)
		if err != nil {
			r.logger.Error("Failed to append decision", zap.Error(err), zap.Int64("pay_application_id", app.ID))
			return fmt.Errorf("failed to append decision: %w", err)
		}
	}
	return nil
}

func (r *PayApplicationRepository) loadSnapshot(ctx context.Context, exec sqlite.Executor, appID int64, revision int) ([]entity.SnapshotLine, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT line_item_id, item_number, description, scheduled_value,
			from_previous_application, this_period, materials_stored,
			certified_materials, retainage_percent, billing_period
		FROM pay_application_snapshots
		WHERE pay_application_id = ? AND revision = ?
		ORDER BY rowid
	`, appID, revision)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer rows.Close()

	var lines []entity.SnapshotLine
	for rows.Next() {
		var l entity.SnapshotLine
		if err := rows.Scan(
			&l.LineItemID,
			&l.ItemNumber,
			&l.Description,
			&l.ScheduledValue,
			&l.FromPreviousApplication,
			&l.ThisPeriod,
			&l.MaterialsStored,
			&l.CertifiedMaterials,
			&l.RetainagePercent,
			&l.BillingPeriod,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *PayApplicationRepository) loadDecisions(ctx context.Context, exec sqlite.Executor, appID int64) ([]entity.ReviewDecision, error) {
	rows, err := exec.QueryContext(ctx, `
		SELECT reviewer_id, decision, note, revision, decided_at
		FROM review_decisions
		WHERE pay_application_id = ?
		ORDER BY seq
	`, appID)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []entity.ReviewDecision
	for rows.Next() {
		var d entity.ReviewDecision
		if err := rows.Scan(&d.ReviewerID, &d.Decision, &d.Note, &d.Revision, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func scanPayApplication(s scanner) (*entity.PayApplication, error) {
	var app entity.PayApplication
	var chain string
	var submittedAt, finalizedAt sql.NullTime

	err := s.Scan(
		&app.ID,
		&app.ProjectID,
		&app.ContractorID,
		&app.ApplicationNumber,
		&chain,
		&app.CurrentReviewerIndex,
		&app.Status,
		&app.Revision,
		&submittedAt,
		&finalizedAt,
		&app.FinalizedBy,
		&app.Version,
		&app.CreatedAt,
		&app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(chain), &app.ReviewerChain); err != nil {
		return nil, fmt.Errorf("failed to decode reviewer chain: %w", err)
	}
	app.SubmittedAt = timePtr(submittedAt)
	app.FinalizedAt = timePtr(finalizedAt)
	return &app, nil
}

var _ port.PayApplicationStore = (*PayApplicationRepository)(nil)

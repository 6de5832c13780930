package repository

import (
	"context"
	"fmt"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// HistoryRepository implements port.HistoryStore
type HistoryRepository struct {
	db     *sqlite.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sqlite.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// AppendTransition records one status change
func (r *HistoryRepository) AppendTransition(ctx context.Context, rec *entity.TransitionRecord) error {
	result, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO transition_history (
			pay_application_id, actor_id, previous_status, new_status,
			trigger_name, reviewer_index, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.PayApplicationID,
		rec.ActorID,
		rec.PreviousStatus,
		rec.NewStatus,
		rec.Trigger,
		rec.ReviewerIndex,
		rec.Note,
		rec.Timestamp,
	)
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Error(err),
			zap.Int64("pay_application_id", rec.PayApplicationID))
		return fmt.Errorf("failed to create history: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListTransitions returns the history of an application, oldest first
func (r *HistoryRepository) ListTransitions(ctx context.Context, appID int64) ([]*entity.TransitionRecord, error) {
	rows, err := r.db.Executor(ctx).QueryContext(ctx, `
		SELECT id, pay_application_id, actor_id, previous_status, new_status,
			trigger_name, reviewer_index, note, created_at
		FROM transition_history
		WHERE pay_application_id = ?
		ORDER BY id
	`, appID)
	if err != nil {
		r.logger.Error("Failed to query history", zap.Error(err), zap.Int64("pay_application_id", appID))
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []*entity.TransitionRecord
	for rows.Next() {
		var rec entity.TransitionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.PayApplicationID,
			&rec.ActorID,
			&rec.PreviousStatus,
			&rec.NewStatus,
			&rec.Trigger,
			&rec.ReviewerIndex,
			&rec.Note,
			&rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return records, nil
}

var _ port.HistoryStore = (*HistoryRepository)(nil)

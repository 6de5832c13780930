package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/payapp-engine/pkg/database"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, sqlite.Migrate(db, logger))
	return NewStore(sqlite.NewDB(db.DB, logger), logger)
}

func seedProject(t *testing.T, s *Store) *entity.Project {
	t.Helper()
	now := time.Now().UTC()
	p := &entity.Project{
		OrganizationID:   "org-1",
		Name:             "Riverside Clinic",
		ContractorID:     "contractor-1",
		RetainagePercent: decimal.NewFromInt(10),
		CreatedAt:        now,
		LineItems: []*entity.LineItem{
			{ItemNumber: "2", Description: "Framing", ScheduledValue: decimal.NewFromInt(50000), RetainagePercent: decimal.NewFromInt(10), BillingPeriod: 1, PeriodStart: now, Version: 1, CreatedAt: now, UpdatedAt: now},
			{ItemNumber: "1", Description: "Site work", ScheduledValue: decimal.NewFromInt(100000), RetainagePercent: decimal.NewFromInt(10), BillingPeriod: 1, PeriodStart: now, Version: 1, CreatedAt: now, UpdatedAt: now},
		},
	}
	require.NoError(t, s.CreateProject(context.Background(), p))
	return p
}

func TestProjectRepository_CreateAndLoad(t *testing.T) {
	s := newTestStore(t)
	p := seedProject(t, s)

	loaded, err := s.LoadProject(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, loaded.LineItems, 2)
	assert.Equal(t, "1", loaded.LineItems[0].ItemNumber, "line items are returned in item-number order")
	assert.True(t, loaded.LineItems[0].ScheduledValue.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, "Riverside Clinic", loaded.Name)

	projects, err := s.ListProjects(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	projects, err = s.ListProjects(context.Background(), "org-2")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestProjectRepository_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadProject(context.Background(), 99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.LoadLineItem(context.Background(), 99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestProjectRepository_SaveLineItemCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)

	first, err := s.LoadLineItem(ctx, p.LineItems[0].ID)
	require.NoError(t, err)
	stale, err := s.LoadLineItem(ctx, p.LineItems[0].ID)
	require.NoError(t, err)

	first.ThisPeriod = decimal.NewFromInt(1000)
	require.NoError(t, s.SaveLineItem(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	stale.ThisPeriod = decimal.NewFromInt(5)
	err = s.SaveLineItem(ctx, stale)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	reloaded, err := s.LoadLineItem(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.ThisPeriod.Equal(decimal.NewFromInt(1000)))
}

func TestExpenseRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	li := p.LineItems[0]
	now := time.Now().UTC()

	e := &entity.Expense{LineItemID: li.ID, Amount: decimal.RequireFromString("1250.50"), Category: entity.CategoryLabor, IncurredOn: now, BillingPeriod: 1, CreatedBy: "contractor-1", Version: 1, CreatedAt: now}
	require.NoError(t, s.CreateExpense(ctx, e))

	pending, err := s.ListPendingExpenses(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	e.Approved = true
	e.ApprovedBy = "reviewer-1"
	e.ApprovedAt = &now
	require.NoError(t, s.SaveExpense(ctx, e))

	loaded, err := s.LoadExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Approved)
	assert.Equal(t, "reviewer-1", loaded.ApprovedBy)
	require.NotNil(t, loaded.ApprovedAt)
	assert.True(t, loaded.Amount.Equal(decimal.RequireFromString("1250.50")))

	err = s.DeleteExpense(ctx, e.ID, loaded.Version)
	assert.ErrorIs(t, err, apperr.ErrConflict, "approved expenses cannot be deleted")

	reversesID := e.ID
	rev := &entity.Expense{LineItemID: li.ID, Amount: decimal.NewFromInt(50), Category: entity.CategoryReversal, IncurredOn: now, BillingPeriod: 1, ReversesExpenseID: &reversesID, CreatedBy: "contractor-1", Version: 1, CreatedAt: now}
	require.NoError(t, s.CreateExpense(ctx, rev))

	all, err := s.ListExpenses(ctx, li.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.NotNil(t, all[1].ReversesExpenseID)
	assert.Equal(t, e.ID, *all[1].ReversesExpenseID)

	require.NoError(t, s.DeleteExpense(ctx, rev.ID, rev.Version))
	_, err = s.LoadExpense(ctx, rev.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func newApp(projectID int64, number int) *entity.PayApplication {
	now := time.Now().UTC()
	return &entity.PayApplication{
		ProjectID:         projectID,
		ContractorID:      "contractor-1",
		ApplicationNumber: number,
		ReviewerChain:     []string{"reviewer-1", "reviewer-2"},
		Status:            entity.StatusDraft,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func TestPayApplicationRepository_OneOpenApplicationPerProject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)

	require.NoError(t, s.CreatePayApplication(ctx, newApp(p.ID, 1)))

	err := s.CreatePayApplication(ctx, newApp(p.ID, 2))
	assert.ErrorIs(t, err, apperr.ErrApplicationInFlight)

	open, err := s.OpenPayApplication(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, 1, open.ApplicationNumber)
	assert.Equal(t, []string{"reviewer-1", "reviewer-2"}, open.ReviewerChain)
}

func TestPayApplicationRepository_SnapshotsAreKeptPerRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	app := newApp(p.ID, 1)
	require.NoError(t, s.CreatePayApplication(ctx, app))

	li := p.LineItems[0]
	li.ThisPeriod = decimal.NewFromInt(1000)
	app.Revision = 1
	app.Status = entity.StatusUnderReview
	app.Snapshot = []entity.SnapshotLine{li.Snapshot()}
	app.Decisions = []entity.ReviewDecision{{ReviewerID: "reviewer-1", Decision: entity.DecisionChangesRequested, Revision: 1, DecidedAt: time.Now().UTC()}}
	require.NoError(t, s.SavePayApplication(ctx, app))

	li.ThisPeriod = decimal.NewFromInt(800)
	app.Revision = 2
	app.Snapshot = []entity.SnapshotLine{li.Snapshot()}
	app.Decisions = append(app.Decisions, entity.ReviewDecision{ReviewerID: "reviewer-1", Decision: entity.DecisionApproved, Revision: 2, DecidedAt: time.Now().UTC()})
	require.NoError(t, s.SavePayApplication(ctx, app))

	loaded, err := s.LoadPayApplication(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Snapshot, 1)
	assert.True(t, loaded.Snapshot[0].ThisPeriod.Equal(decimal.NewFromInt(800)))
	assert.Len(t, loaded.Decisions, 2)
	assert.Len(t, loaded.DecisionsForRevision(2), 1)

	var first string
	require.NoError(t, s.DB.QueryRowContext(ctx,
		"SELECT this_period FROM pay_application_snapshots WHERE pay_application_id = ? AND revision = 1",
		app.ID).Scan(&first))
	assert.Equal(t, "1000", first)

	_, err = s.DB.ExecContext(ctx, "UPDATE pay_application_snapshots SET this_period = '1' WHERE pay_application_id = ?", app.ID)
	assert.Error(t, err, "snapshot rows reject updates")
}

func TestPayApplicationRepository_StaleSaveConflicts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	app := newApp(p.ID, 1)
	require.NoError(t, s.CreatePayApplication(ctx, app))

	a, err := s.LoadPayApplication(ctx, app.ID)
	require.NoError(t, err)
	b, err := s.LoadPayApplication(ctx, app.ID)
	require.NoError(t, err)

	a.CurrentReviewerIndex = 1
	require.NoError(t, s.SavePayApplication(ctx, a))

	b.CurrentReviewerIndex = 1
	assert.ErrorIs(t, s.SavePayApplication(ctx, b), apperr.ErrConflict)
}

func TestHistoryRepository_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)
	app := newApp(p.ID, 1)
	require.NoError(t, s.CreatePayApplication(ctx, app))

	for _, to := range []string{entity.StatusSubmitted, entity.StatusUnderReview} {
		require.NoError(t, s.AppendTransition(ctx, &entity.TransitionRecord{
			PayApplicationID: app.ID,
			ActorID:          "contractor-1",
			PreviousStatus:   entity.StatusDraft,
			NewStatus:        to,
			Trigger:          "SUBMIT",
			Timestamp:        time.Now().UTC(),
		}))
	}

	records, err := s.ListTransitions(ctx, app.ID)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, entity.StatusSubmitted, records[0].NewStatus)
	assert.Equal(t, entity.StatusUnderReview, records[1].NewStatus)

	_, err = s.DB.ExecContext(ctx, "DELETE FROM transition_history WHERE pay_application_id = ?", app.ID)
	assert.Error(t, err)
}

func TestStore_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	p := seedProject(t, s)

	err := s.WithTransaction(ctx, func(txCtx context.Context) error {
		li, err := s.LoadLineItem(txCtx, p.LineItems[0].ID)
		if err != nil {
			return err
		}
		li.MaterialsStored = decimal.NewFromInt(10)
		if err := s.SaveLineItem(txCtx, li); err != nil {
			return err
		}
		return apperr.Validation("abort")
	})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	li, err := s.LoadLineItem(ctx, p.LineItems[0].ID)
	require.NoError(t, err)
	assert.True(t, li.MaterialsStored.IsZero())
	assert.Equal(t, int64(1), li.Version)
}

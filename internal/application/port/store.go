package port

import (
	"context"

	"github.com/garyjia/payapp-engine/internal/domain/entity"
)

// TransactionManager runs fn inside a single storage transaction. Nested calls
// join the outer transaction; any error returned by fn rolls everything back.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProjectStore persists projects and their schedule of values.
//
// Load* methods return an apperr NOT_FOUND error when the row is missing.
// Save* methods compare-and-swap on Version: the write succeeds only if the
// stored version still equals the entity's Version, after which the entity's
// Version is incremented. A lost race yields an apperr CONFLICT error.
type ProjectStore interface {
	CreateProject(ctx context.Context, project *entity.Project) error
	LoadProject(ctx context.Context, id int64) (*entity.Project, error)
	ListProjects(ctx context.Context, organizationID string) ([]*entity.Project, error)
	LoadLineItem(ctx context.Context, id int64) (*entity.LineItem, error)
	SaveLineItem(ctx context.Context, item *entity.LineItem) error
}

// ExpenseStore persists expense ledger entries
type ExpenseStore interface {
	CreateExpense(ctx context.Context, expense *entity.Expense) error
	LoadExpense(ctx context.Context, id int64) (*entity.Expense, error)
	SaveExpense(ctx context.Context, expense *entity.Expense) error
	DeleteExpense(ctx context.Context, id int64, version int64) error
	ListExpenses(ctx context.Context, lineItemID int64) ([]*entity.Expense, error)
	ListPendingExpenses(ctx context.Context, projectID int64) ([]*entity.Expense, error)
}

// PayApplicationStore persists pay applications with their snapshots and
// reviewer decisions. SavePayApplication stores the snapshot for the
// application's current Revision once and never rewrites an earlier one;
// decisions are append-only.
type PayApplicationStore interface {
	CreatePayApplication(ctx context.Context, app *entity.PayApplication) error
	LoadPayApplication(ctx context.Context, id int64) (*entity.PayApplication, error)
	SavePayApplication(ctx context.Context, app *entity.PayApplication) error
	ListPayApplications(ctx context.Context, projectID int64) ([]*entity.PayApplication, error)
	// OpenPayApplication returns the project's non-finalized application, or nil
	OpenPayApplication(ctx context.Context, projectID int64) (*entity.PayApplication, error)
}

// HistoryStore records the append-only transition log
type HistoryStore interface {
	AppendTransition(ctx context.Context, record *entity.TransitionRecord) error
	ListTransitions(ctx context.Context, payApplicationID int64) ([]*entity.TransitionRecord, error)
}

// Store is the full persistence surface used by the engine
type Store interface {
	TransactionManager
	ProjectStore
	ExpenseStore
	PayApplicationStore
	HistoryStore
}

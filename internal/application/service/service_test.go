package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"github.com/garyjia/payapp-engine/internal/infrastructure/identity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (mockLogger) Info(string, ...interface{})  {}
func (mockLogger) Error(string, ...interface{}) {}

// mockPublisher records events synchronously
type mockPublisher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockPublisher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockPublisher) types() []event.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]event.Type, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type testEnv struct {
	store     *memory.Store
	ledger    LedgerService
	expenses  ExpenseService
	publisher *mockPublisher
	project   *entity.Project
}

func as(userID string) context.Context {
	return identity.WithUserID(context.Background(), userID)
}

func testUsers(t *testing.T) *identity.Directory {
	t.Helper()
	dir, err := identity.NewDirectory([]port.Actor{
		{ID: "c1", Role: entity.RoleContractor, OrganizationID: "acme"},
		{ID: "c2", Role: entity.RoleContractor, OrganizationID: "acme"},
		{ID: "r1", Role: entity.RoleReviewer, OrganizationID: "acme"},
		{ID: "d1", Role: entity.RoleDirector, OrganizationID: "acme"},
		{ID: "d9", Role: entity.RoleDirector, OrganizationID: "elsewhere"},
	})
	require.NoError(t, err)
	return dir
}

// newTestEnv creates a project with a 25000 and a 10000 line at 10% retainage
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	auth := NewAuthorizer(testUsers(t))
	pub := &mockPublisher{}
	ledger := NewLedgerService(store, auth, mockLogger{})
	env := &testEnv{
		store:     store,
		ledger:    ledger,
		expenses:  NewExpenseService(store, ledger, auth, pub, mockLogger{}),
		publisher: pub,
	}

	var err error
	env.project, err = ledger.CreateProject(as("d1"), CreateProjectInput{
		OrganizationID:   "acme",
		Name:             "Clinic Fit-Out",
		ContractorID:     "c1",
		RetainagePercent: decimal.NewFromInt(10),
		LineItems: []LineItemInput{
			{ItemNumber: "1", Description: "Framing", ScheduledValue: decimal.NewFromInt(25000)},
			{ItemNumber: "2", Description: "Electrical", ScheduledValue: decimal.NewFromInt(10000)},
		},
	})
	require.NoError(t, err)
	return env
}

func (env *testEnv) itemID(i int) int64 {
	return env.project.LineItems[i].ID
}

func (env *testEnv) lineItem(t *testing.T, i int) *entity.LineItem {
	t.Helper()
	li, err := env.store.LoadLineItem(context.Background(), env.itemID(i))
	require.NoError(t, err)
	return li
}

func (env *testEnv) setPrior(t *testing.T, i int, amount int64) {
	t.Helper()
	li := env.lineItem(t, i)
	li.FromPreviousApplication = decimal.NewFromInt(amount)
	require.NoError(t, env.store.SaveLineItem(context.Background(), li))
}

func (env *testEnv) add(t *testing.T, i int, amount int64) *entity.Expense {
	t.Helper()
	e, err := env.expenses.AddExpense(as("c1"), AddExpenseInput{
		LineItemID: env.itemID(i),
		Amount:     decimal.NewFromInt(amount),
		Category:   "labor",
		IncurredOn: time.Now().UTC(),
		HasReceipt: true,
	})
	require.NoError(t, err)
	return e
}

func (env *testEnv) approve(t *testing.T, i int, amount int64) *entity.Expense {
	t.Helper()
	e, err := env.expenses.ApproveExpense(as("r1"), env.add(t, i, amount).ID)
	require.NoError(t, err)
	return e
}

// openApplication stores an application in the given status without the workflow
func (env *testEnv) openApplication(t *testing.T, status string) *entity.PayApplication {
	t.Helper()
	app := &entity.PayApplication{
		ProjectID:         env.project.ID,
		ContractorID:      "c1",
		ApplicationNumber: 1,
		ReviewerChain:     []string{"r1"},
		Status:            status,
		Version:           1,
	}
	require.NoError(t, env.store.CreatePayApplication(context.Background(), app))
	return app
}

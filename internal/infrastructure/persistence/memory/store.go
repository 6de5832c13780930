// Package memory provides an in-process transactional implementation of
// port.Store. Transactions take a store-wide lock and restore a copy of the
// state when the callback fails.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
)

type txKey struct{}

type memoryState struct {
	nextID    int64
	projects  map[int64]entity.Project
	lineItems map[int64]entity.LineItem
	expenses  map[int64]entity.Expense
	apps      map[int64]entity.PayApplication
	snapshots map[int64]map[int][]entity.SnapshotLine
	history   map[int64][]entity.TransitionRecord
}

func newMemoryState() *memoryState {
	return &memoryState{
		projects:  map[int64]entity.Project{},
		lineItems: map[int64]entity.LineItem{},
		expenses:  map[int64]entity.Expense{},
		apps:      map[int64]entity.PayApplication{},
		snapshots: map[int64]map[int][]entity.SnapshotLine{},
		history:   map[int64][]entity.TransitionRecord{},
	}
}

func (s *memoryState) clone() *memoryState {
	c := newMemoryState()
	c.nextID = s.nextID
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.lineItems {
		c.lineItems[k] = v
	}
	for k, v := range s.expenses {
		c.expenses[k] = cloneExpense(v)
	}
	for k, v := range s.apps {
		c.apps[k] = clonePayApplication(v)
	}
	for k, revs := range s.snapshots {
		m := make(map[int][]entity.SnapshotLine, len(revs))
		for rev, lines := range revs {
			m[rev] = append([]entity.SnapshotLine(nil), lines...)
		}
		c.snapshots[k] = m
	}
	for k, v := range s.history {
		c.history[k] = append([]entity.TransitionRecord(nil), v...)
	}
	return c
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

// Store is an in-memory port.Store
type Store struct {
	mu    sync.Mutex
	state *memoryState
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

// WithTransaction runs fn under the store lock; state is restored when fn fails
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.state.clone()
	defer func() {
		if p := recover(); p != nil {
			s.state = backup
			panic(p)
		}
		if err != nil {
			s.state = backup
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, s))
}

func (s *Store) run(ctx context.Context, fn func(st *memoryState) error) error {
	if ctx.Value(txKey{}) != s {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.state)
}

// CreateProject stores a project and its line items
func (s *Store) CreateProject(ctx context.Context, project *entity.Project) error {
	return s.run(ctx, func(st *memoryState) error {
		seen := map[string]bool{}
		for _, li := range project.LineItems {
			if seen[li.ItemNumber] {
				return apperr.Validation("duplicate item number %q", li.ItemNumber)
			}
			seen[li.ItemNumber] = true
		}

		project.ID = st.id()
		p := *project
		p.LineItems = nil
		st.projects[p.ID] = p

		for _, li := range project.LineItems {
			li.ID = st.id()
			li.ProjectID = project.ID
			st.lineItems[li.ID] = *li
		}
		return nil
	})
}

// LoadProject returns a copy of the project and its line items
func (s *Store) LoadProject(ctx context.Context, id int64) (*entity.Project, error) {
	var out *entity.Project
	err := s.run(ctx, func(st *memoryState) error {
		p, ok := st.projects[id]
		if !ok {
			return apperr.NotFound("project", id)
		}
		out = st.assemble(p)
		return nil
	})
	return out, err
}

func (st *memoryState) assemble(p entity.Project) *entity.Project {
	cp := p
	cp.LineItems = nil
	for _, li := range st.lineItems {
		if li.ProjectID == p.ID {
			item := li
			cp.LineItems = append(cp.LineItems, &item)
		}
	}
	sort.Slice(cp.LineItems, func(i, j int) bool { return cp.LineItems[i].ID < cp.LineItems[j].ID })
	cp.SortLineItems()
	return &cp
}

// ListProjects returns an organization's projects, or all when organizationID is empty
func (s *Store) ListProjects(ctx context.Context, organizationID string) ([]*entity.Project, error) {
	var out []*entity.Project
	err := s.run(ctx, func(st *memoryState) error {
		for _, p := range st.projects {
			if organizationID == "" || p.OrganizationID == organizationID {
				out = append(out, st.assemble(p))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

// LoadLineItem returns a copy of a line item
func (s *Store) LoadLineItem(ctx context.Context, id int64) (*entity.LineItem, error) {
	var out *entity.LineItem
	err := s.run(ctx, func(st *memoryState) error {
		li, ok := st.lineItems[id]
		if !ok {
			return apperr.NotFound("line_item", id)
		}
		out = &li
		return nil
	})
	return out, err
}

// SaveLineItem stores the line item if its version is current
func (s *Store) SaveLineItem(ctx context.Context, item *entity.LineItem) error {
	return s.run(ctx, func(st *memoryState) error {
		cur, ok := st.lineItems[item.ID]
		if !ok {
			return apperr.NotFound("line_item", item.ID)
		}
		if cur.Version != item.Version {
			return apperr.Conflict("line_item", item.ID)
		}
		item.Version++
		item.UpdatedAt = time.Now().UTC()
		st.lineItems[item.ID] = *item
		return nil
	})
}

// CreateExpense stores a new ledger entry
func (s *Store) CreateExpense(ctx context.Context, expense *entity.Expense) error {
	return s.run(ctx, func(st *memoryState) error {
		if _, ok := st.lineItems[expense.LineItemID]; !ok {
			return apperr.NotFound("line_item", expense.LineItemID)
		}
		expense.ID = st.id()
		st.expenses[expense.ID] = cloneExpense(*expense)
		return nil
	})
}

// LoadExpense returns a copy of an expense
func (s *Store) LoadExpense(ctx context.Context, id int64) (*entity.Expense, error) {
	var out *entity.Expense
	err := s.run(ctx, func(st *memoryState) error {
		e, ok := st.expenses[id]
		if !ok {
			return apperr.NotFound("expense", id)
		}
		c := cloneExpense(e)
		out = &c
		return nil
	})
	return out, err
}

// SaveExpense stores the expense if its version is current
func (s *Store) SaveExpense(ctx context.Context, expense *entity.Expense) error {
	return s.run(ctx, func(st *memoryState) error {
		cur, ok := st.expenses[expense.ID]
		if !ok {
			return apperr.NotFound("expense", expense.ID)
		}
		if cur.Version != expense.Version {
			return apperr.Conflict("expense", expense.ID)
		}
		expense.Version++
		st.expenses[expense.ID] = cloneExpense(*expense)
		return nil
	})
}

// DeleteExpense removes a pending expense at the given version
func (s *Store) DeleteExpense(ctx context.Context, id int64, version int64) error {
	return s.run(ctx, func(st *memoryState) error {
		cur, ok := st.expenses[id]
		if !ok {
			return apperr.NotFound("expense", id)
		}
		if cur.Version != version || cur.Approved {
			return apperr.Conflict("expense", id)
		}
		delete(st.expenses, id)
		return nil
	})
}

// ListExpenses returns a line item's entries in creation order
func (s *Store) ListExpenses(ctx context.Context, lineItemID int64) ([]*entity.Expense, error) {
	return s.filterExpenses(ctx, func(st *memoryState, e entity.Expense) bool {
		return e.LineItemID == lineItemID
	})
}

// ListPendingExpenses returns unapproved entries across a project
func (s *Store) ListPendingExpenses(ctx context.Context, projectID int64) ([]*entity.Expense, error) {
	return s.filterExpenses(ctx, func(st *memoryState, e entity.Expense) bool {
		return !e.Approved && st.lineItems[e.LineItemID].ProjectID == projectID
	})
}

func (s *Store) filterExpenses(ctx context.Context, keep func(*memoryState, entity.Expense) bool) ([]*entity.Expense, error) {
	var out []*entity.Expense
	err := s.run(ctx, func(st *memoryState) error {
		for _, e := range st.expenses {
			if keep(st, e) {
				c := cloneExpense(e)
				out = append(out, &c)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

// CreatePayApplication stores a new application; a project may hold one open application
func (s *Store) CreatePayApplication(ctx context.Context, app *entity.PayApplication) error {
	return s.run(ctx, func(st *memoryState) error {
		if _, ok := st.projects[app.ProjectID]; !ok {
			return apperr.NotFound("project", app.ProjectID)
		}
		for _, existing := range st.apps {
			if existing.ProjectID == app.ProjectID && existing.IsOpen() {
				return apperr.ErrApplicationInFlight.With("project_id", app.ProjectID)
			}
		}
		app.ID = st.id()
		st.apps[app.ID] = clonePayApplication(*app)
		st.saveSnapshot(app)
		return nil
	})
}

// LoadPayApplication returns a copy with the snapshot of the current revision
func (s *Store) LoadPayApplication(ctx context.Context, id int64) (*entity.PayApplication, error) {
	var out *entity.PayApplication
	err := s.run(ctx, func(st *memoryState) error {
		app, ok := st.apps[id]
		if !ok {
			return apperr.NotFound("pay_application", id)
		}
		out = st.load(app)
		return nil
	})
	return out, err
}

func (st *memoryState) load(app entity.PayApplication) *entity.PayApplication {
	c := clonePayApplication(app)
	c.Snapshot = append([]entity.SnapshotLine(nil), st.snapshots[app.ID][app.Revision]...)
	return &c
}

func (st *memoryState) saveSnapshot(app *entity.PayApplication) {
	if app.Revision == 0 || len(app.Snapshot) == 0 {
		return
	}
	revs, ok := st.snapshots[app.ID]
	if !ok {
		revs = map[int][]entity.SnapshotLine{}
		st.snapshots[app.ID] = revs
	}
	if _, exists := revs[app.Revision]; !exists {
		revs[app.Revision] = append([]entity.SnapshotLine(nil), app.Snapshot...)
	}
}

// SavePayApplication stores the application if its version is current
func (s *Store) SavePayApplication(ctx context.Context, app *entity.PayApplication) error {
	return s.run(ctx, func(st *memoryState) error {
		cur, ok := st.apps[app.ID]
		if !ok {
			return apperr.NotFound("pay_application", app.ID)
		}
		if cur.Version != app.Version {
			return apperr.Conflict("pay_application", app.ID)
		}
		// decisions are append-only
		decisions := append([]entity.ReviewDecision(nil), cur.Decisions...)
		if len(app.Decisions) > len(decisions) {
			decisions = append(decisions, app.Decisions[len(decisions):]...)
		}

		app.Version++
		next := clonePayApplication(*app)
		next.Decisions = decisions
		st.apps[app.ID] = next
		st.saveSnapshot(app)
		return nil
	})
}

// ListPayApplications returns a project's applications by application number
func (s *Store) ListPayApplications(ctx context.Context, projectID int64) ([]*entity.PayApplication, error) {
	var out []*entity.PayApplication
	err := s.run(ctx, func(st *memoryState) error {
		for _, app := range st.apps {
			if app.ProjectID == projectID {
				out = append(out, st.load(app))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ApplicationNumber < out[j].ApplicationNumber })
		return nil
	})
	return out, err
}

// OpenPayApplication returns the project's non-finalized application, or nil
func (s *Store) OpenPayApplication(ctx context.Context, projectID int64) (*entity.PayApplication, error) {
	var out *entity.PayApplication
	err := s.run(ctx, func(st *memoryState) error {
		for _, app := range st.apps {
			if app.ProjectID == projectID && app.IsOpen() {
				out = st.load(app)
				return nil
			}
		}
		return nil
	})
	return out, err
}

// AppendTransition records a status change
func (s *Store) AppendTransition(ctx context.Context, record *entity.TransitionRecord) error {
	return s.run(ctx, func(st *memoryState) error {
		record.ID = st.id()
		st.history[record.PayApplicationID] = append(st.history[record.PayApplicationID], *record)
		return nil
	})
}

// ListTransitions returns an application's history, oldest first
func (s *Store) ListTransitions(ctx context.Context, appID int64) ([]*entity.TransitionRecord, error) {
	var out []*entity.TransitionRecord
	err := s.run(ctx, func(st *memoryState) error {
		for _, rec := range st.history[appID] {
			r := rec
			out = append(out, &r)
		}
		return nil
	})
	return out, err
}

func cloneExpense(e entity.Expense) entity.Expense {
	if e.ReversesExpenseID != nil {
		id := *e.ReversesExpenseID
		e.ReversesExpenseID = &id
	}
	if e.ApprovedAt != nil {
		t := *e.ApprovedAt
		e.ApprovedAt = &t
	}
	return e
}

func clonePayApplication(a entity.PayApplication) entity.PayApplication {
	a.ReviewerChain = append([]string(nil), a.ReviewerChain...)
	a.Snapshot = append([]entity.SnapshotLine(nil), a.Snapshot...)
	a.Decisions = append([]entity.ReviewDecision(nil), a.Decisions...)
	if a.SubmittedAt != nil {
		t := *a.SubmittedAt
		a.SubmittedAt = &t
	}
	if a.FinalizedAt != nil {
		t := *a.FinalizedAt
		a.FinalizedAt = &t
	}
	return a
}

var _ port.Store = (*Store)(nil)

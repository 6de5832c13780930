package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/garyjia/payapp-engine/internal/application/dispatcher"
	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/domain/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockNotifier struct {
	mu         sync.Mutex
	notices    []port.Notice
	notifyFunc func(port.Notice) error
}

func (m *mockNotifier) Notify(ctx context.Context, n port.Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyFunc != nil {
		if err := m.notifyFunc(n); err != nil {
			return err
		}
	}
	m.notices = append(m.notices, n)
	return nil
}

type mockProjects struct {
	loadFunc func(ctx context.Context, id int64) (*entity.Project, error)
}

func (m *mockProjects) LoadProject(ctx context.Context, id int64) (*entity.Project, error) {
	return m.loadFunc(ctx, id)
}

type staticUsers []port.Actor

func (s staticUsers) Users() []port.Actor { return s }

func newRouter(n *mockNotifier) *Router {
	projects := &mockProjects{loadFunc: func(ctx context.Context, id int64) (*entity.Project, error) {
		return &entity.Project{ID: id, Name: "Depot", OrganizationID: "acme"}, nil
	}}
	users := staticUsers{
		{ID: "d1", Role: entity.RoleDirector, OrganizationID: "acme"},
		{ID: "d2", Role: entity.RoleDirector, OrganizationID: "acme"},
		{ID: "d9", Role: entity.RoleDirector, OrganizationID: "elsewhere"},
		{ID: "r1", Role: entity.RoleReviewer, OrganizationID: "acme"},
	}
	return NewRouter(n, projects, users, zap.NewNop())
}

func TestRouter_Notices(t *testing.T) {
	tests := []struct {
		name       string
		evt        *event.Event
		recipients []string
	}{
		{
			name: "submitted goes to first reviewer",
			evt: event.NewEvent(event.TypeApplicationSubmitted, 4, 11, "c1",
				map[string]interface{}{"revision": 1, "next_reviewer": "r1"}),
			recipients: []string{"r1"},
		},
		{
			name: "last approval notifies nobody directly",
			evt: event.NewEvent(event.TypeReviewerApproved, 4, 11, "r2",
				map[string]interface{}{"revision": 1, "next_reviewer": ""}),
		},
		{
			name: "changes requested goes to contractor",
			evt: event.NewEvent(event.TypeChangesRequested, 4, 11, "r1",
				map[string]interface{}{"revision": 2, "contractor_id": "c1", "note": "add photos"}),
			recipients: []string{"c1"},
		},
		{
			name:       "fully reviewed goes to directors of the organization",
			evt:        event.NewEvent(event.TypeFullyReviewed, 4, 11, "r2", map[string]interface{}{"revision": 1}),
			recipients: []string{"d1", "d2"},
		},
		{
			name: "finalized goes to contractor",
			evt: event.NewEvent(event.TypeApplicationFinalized, 4, 11, "d1",
				map[string]interface{}{"revision": 1, "contractor_id": "c1"}),
			recipients: []string{"c1"},
		},
		{
			name: "expense events are ignored",
			evt:  event.NewEvent(event.TypeExpenseAdded, 4, 3, "c1", nil),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notices, err := newRouter(&mockNotifier{}).Notices(context.Background(), tt.evt)
			require.NoError(t, err)

			var got []string
			for _, n := range notices {
				got = append(got, n.RecipientID)
				assert.Equal(t, tt.evt.ID, n.EventID)
				assert.NotEmpty(t, n.Subject)
			}
			assert.Equal(t, tt.recipients, got)
		})
	}
}

func TestRouter_ChangesRequestedCarriesNote(t *testing.T) {
	evt := event.NewEvent(event.TypeChangesRequested, 4, 11, "r1",
		map[string]interface{}{"revision": 2, "contractor_id": "c1", "note": "add photos"})
	notices, err := newRouter(&mockNotifier{}).Notices(context.Background(), evt)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Contains(t, notices[0].Body, "add photos")
	assert.Contains(t, notices[0].Body, "revision 2")
}

func TestRouter_HandleReportsDeliveryFailure(t *testing.T) {
	n := &mockNotifier{notifyFunc: func(notice port.Notice) error {
		if notice.RecipientID == "d1" {
			return errors.New("mailbox full")
		}
		return nil
	}}
	evt := event.NewEvent(event.TypeFullyReviewed, 4, 11, "r2", map[string]interface{}{"revision": 1})

	err := newRouter(n).Handle(context.Background(), evt)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox full")
	require.Len(t, n.notices, 1)
	assert.Equal(t, "d2", n.notices[0].RecipientID)
}

func TestRouter_RegisteredWithDispatcher(t *testing.T) {
	n := &mockNotifier{}
	d := dispatcher.NewDispatcher()
	newRouter(n).Register(d)

	d.DispatchAsync(context.Background(), event.NewEvent(event.TypeApplicationSubmitted, 4, 11, "c1",
		map[string]interface{}{"revision": 1, "next_reviewer": "r1"}))
	require.NoError(t, d.Close())

	require.Len(t, n.notices, 1)
	assert.Equal(t, "r1", n.notices[0].RecipientID)
}

func TestAuditLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := AuditLog(zap.New(core))

	evt := event.NewEvent(event.TypeExpenseApproved, 4, 3, "r1", map[string]interface{}{"amount": "10.00"})
	require.NoError(t, handler(context.Background(), evt))

	entries := logs.FilterMessage("Domain event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "expense.approved", fields["event_type"])
	assert.Equal(t, "r1", fields["actor_id"])
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	require.NoError(t, n.Notify(context.Background(), port.Notice{
		RecipientID: "r1",
		Subject:     "Pay application 11 awaits your review",
		EventID:     "evt-1",
	}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "r1", logs.All()[0].ContextMap()["recipient_id"])
}

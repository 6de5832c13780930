package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/payapp-engine/internal/application/dispatcher"
	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/application/service"
	"github.com/garyjia/payapp-engine/internal/application/workflow"
	"github.com/garyjia/payapp-engine/internal/domain/apperr"
	"github.com/garyjia/payapp-engine/internal/domain/entity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/export"
	"github.com/garyjia/payapp-engine/internal/infrastructure/identity"
	"github.com/garyjia/payapp-engine/internal/infrastructure/persistence/memory"
	"github.com/garyjia/payapp-engine/pkg/utils"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

type testAPI struct {
	t          *testing.T
	server     *Server
	dispatcher dispatcher.Dispatcher
}

func newTestAPI(t *testing.T, cfg ServerConfig) *testAPI {
	t.Helper()

	dir, err := identity.NewDirectory([]port.Actor{
		{ID: "c1", Role: entity.RoleContractor, OrganizationID: "acme"},
		{ID: "r1", Role: entity.RoleReviewer, OrganizationID: "acme"},
		{ID: "d1", Role: entity.RoleDirector, OrganizationID: "acme"},
	})
	require.NoError(t, err)

	logger := zap.NewNop()
	kv := utils.NewKVLogger(logger)
	store := memory.NewStore()
	auth := service.NewAuthorizer(dir)
	d := dispatcher.NewDispatcher()
	t.Cleanup(func() { _ = d.Close() })

	ledger := service.NewLedgerService(store, auth, kv)
	writers := map[string]port.CertificateWriter{
		"json": export.NewJSONWriter(),
		"xlsx": export.NewXLSXWriter(logger),
	}

	server := NewServer(cfg, Services{
		Ledger:     ledger,
		Expense:    service.NewExpenseService(store, ledger, auth, d, kv),
		Settlement: service.NewSettlementService(store, auth, kv),
		Workflow:   workflow.NewEngine(store, ledger, auth, workflow.WithDispatcher(d)),
		Writers: func(format string) (port.CertificateWriter, bool) {
			if format == "" {
				format = "xlsx"
			}
			w, ok := writers[format]
			return w, ok
		},
		Health: func() (bool, interface{}) { return true, map[string]string{"store": "memory"} },
	}, logger)

	return &testAPI{t: t, server: server, dispatcher: d}
}

func testConfig() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.Mode = gin.TestMode
	cfg.RateLimitEnabled = false
	return cfg
}

func (a *testAPI) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(headerUserID, userID)
	}
	rec := httptest.NewRecorder()
	a.server.Router().ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) decode(rec *httptest.ResponseRecorder, wantStatus int, into interface{}) envelope {
	a.t.Helper()
	require.Equal(a.t, wantStatus, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), &env))
	if into != nil {
		require.NoError(a.t, json.Unmarshal(env.Data, into))
	}
	return env
}

func (a *testAPI) createProject() *entity.Project {
	var project entity.Project
	a.decode(a.do(http.MethodPost, "/api/v1/projects", "d1", map[string]interface{}{
		"organization_id":   "acme",
		"name":              "Warehouse Retrofit",
		"contractor_id":     "c1",
		"retainage_percent": "10",
		"line_items": []map[string]interface{}{
			{"item_number": "1", "description": "Sitework", "scheduled_value": "25000"},
			{"item_number": "2", "description": "Roofing", "scheduled_value": "10000"},
		},
	}), http.StatusCreated, &project)
	return &project
}

func path(format string, args ...interface{}) string {
	return "/api/v1" + fmt.Sprintf(format, args...)
}

func TestAPI_FullSettlementCycle(t *testing.T) {
	api := newTestAPI(t, testConfig())
	project := api.createProject()
	require.Len(t, project.LineItems, 2)
	itemID := project.LineItems[0].ID

	var expense entity.Expense
	api.decode(api.do(http.MethodPost, path("/line-items/%d/expenses", itemID), "c1", map[string]interface{}{
		"amount":      "5000",
		"category":    "labor",
		"incurred_on": time.Now().UTC().Format(time.DateOnly),
	}), http.StatusCreated, &expense)
	assert.False(t, expense.Approved)

	api.decode(api.do(http.MethodPost, path("/expenses/%d/approve", expense.ID), "r1", nil), http.StatusOK, &expense)
	assert.True(t, expense.Approved)

	var app entity.PayApplication
	api.decode(api.do(http.MethodPost, path("/projects/%d/applications", project.ID), "c1",
		map[string]interface{}{"reviewer_chain": []string{"r1"}}), http.StatusCreated, &app)
	assert.Equal(t, entity.StatusDraft, app.Status)

	api.decode(api.do(http.MethodPost, path("/applications/%d/submit", app.ID), "c1", nil), http.StatusOK, &app)
	assert.Equal(t, entity.StatusUnderReview, app.Status)

	env := api.decode(api.do(http.MethodGet, path("/applications/%d/certificate", app.ID), "d1", nil), http.StatusConflict, nil)
	assert.Equal(t, string(apperr.CodeNotFinalized), env.Code)

	api.decode(api.do(http.MethodPost, path("/applications/%d/approve", app.ID), "r1", nil), http.StatusOK, &app)
	assert.Equal(t, entity.StatusFullyReviewed, app.Status)

	api.decode(api.do(http.MethodPost, path("/applications/%d/finalize", app.ID), "d1", nil), http.StatusOK, &app)
	assert.Equal(t, entity.StatusFinalized, app.Status)

	var cert entity.Certificate
	api.decode(api.do(http.MethodGet, path("/applications/%d/certificate", app.ID), "c1", nil), http.StatusOK, &cert)
	assert.True(t, cert.Summary.TotalCompletedAndStored.Equal(decimal.NewFromInt(5000)), cert.Summary.TotalCompletedAndStored.String())
	assert.NotEmpty(t, cert.Number)

	rec := api.do(http.MethodGet, path("/applications/%d/certificate/download?format=xlsx", app.ID), "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"G702", "G703"}, f.GetSheetList())

	rec = api.do(http.MethodGet, path("/applications/%d/certificate/download?format=json", app.ID), "c1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var history []entity.TransitionRecord
	api.decode(api.do(http.MethodGet, path("/applications/%d/history", app.ID), "c1", nil), http.StatusOK, &history)
	assert.Len(t, history, 4)

	var summary entity.ProjectSummary
	api.decode(api.do(http.MethodGet, path("/projects/%d/summary", project.ID), "c1", nil), http.StatusOK, &summary)
}

func TestAPI_ErrorMapping(t *testing.T) {
	api := newTestAPI(t, testConfig())
	project := api.createProject()
	itemID := project.LineItems[1].ID

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
		code   string
	}{
		{
			name: "missing user header", method: http.MethodGet, path: "/api/v1/projects",
			status: http.StatusUnauthorized,
		},
		{
			name: "unknown user", method: http.MethodGet, path: "/api/v1/projects", user: "ghost",
			status: http.StatusForbidden, code: string(apperr.CodeForbidden),
		},
		{
			name: "malformed id", method: http.MethodGet, path: "/api/v1/projects/abc", user: "c1",
			status: http.StatusBadRequest, code: string(apperr.CodeInvalidInput),
		},
		{
			name: "missing project", method: http.MethodGet, path: "/api/v1/projects/999", user: "c1",
			status: http.StatusNotFound, code: string(apperr.CodeNotFound),
		},
		{
			name: "negative amount", method: http.MethodPost, path: path("/line-items/%d/expenses", itemID), user: "c1",
			body:   map[string]interface{}{"amount": "-5", "incurred_on": time.Now().UTC().Format(time.DateOnly)},
			status: http.StatusBadRequest, code: string(apperr.CodeInvalidAmount),
		},
		{
			name: "bad date", method: http.MethodPost, path: path("/line-items/%d/expenses", itemID), user: "c1",
			body:   map[string]interface{}{"amount": "5", "incurred_on": "yesterday"},
			status: http.StatusBadRequest, code: string(apperr.CodeInvalidInput),
		},
		{
			name: "materials over schedule", method: http.MethodPut, path: path("/line-items/%d/materials", itemID), user: "c1",
			body:   map[string]interface{}{"amount": "10000.01"},
			status: http.StatusUnprocessableEntity, code: string(apperr.CodeOverSchedule),
		},
		{
			name: "reviewer cannot create project", method: http.MethodPost, path: "/api/v1/projects", user: "r1",
			body: map[string]interface{}{
				"organization_id": "acme", "name": "X", "contractor_id": "c1",
				"line_items": []map[string]interface{}{{"item_number": "1", "scheduled_value": "1"}},
			},
			status: http.StatusForbidden, code: string(apperr.CodeForbidden),
		},
		{
			name: "empty reviewer chain", method: http.MethodPost, path: path("/projects/%d/applications", project.ID), user: "c1",
			body:   map[string]interface{}{"reviewer_chain": []string{}},
			status: http.StatusBadRequest, code: string(apperr.CodeInvalidInput),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := api.decode(api.do(tt.method, tt.path, tt.user, tt.body), tt.status, nil)
			assert.False(t, env.Success)
			if tt.code != "" {
				assert.Equal(t, tt.code, env.Code)
			}
		})
	}
}

func TestAPI_ApproveOutOfTurn(t *testing.T) {
	api := newTestAPI(t, testConfig())
	project := api.createProject()

	var app entity.PayApplication
	api.decode(api.do(http.MethodPost, path("/projects/%d/applications", project.ID), "c1",
		map[string]interface{}{"reviewer_chain": []string{"r1"}}), http.StatusCreated, &app)

	env := api.decode(api.do(http.MethodPost, path("/applications/%d/approve", app.ID), "r1", nil), http.StatusConflict, nil)
	assert.Equal(t, string(apperr.CodeInvalidTransition), env.Code)

	api.decode(api.do(http.MethodPost, path("/applications/%d/submit", app.ID), "c1", nil), http.StatusOK, &app)
	api.decode(api.do(http.MethodPost, path("/applications/%d/request-changes", app.ID), "r1",
		map[string]string{"note": "missing lien waiver"}), http.StatusOK, &app)
	assert.Equal(t, entity.StatusChangesRequested, app.Status)

	var triggers struct {
		Triggers []string `json:"triggers"`
	}
	api.decode(api.do(http.MethodGet, path("/applications/%d/triggers", app.ID), "c1", nil), http.StatusOK, &triggers)
	assert.Equal(t, []string{"SUBMIT"}, triggers.Triggers)
}

func TestAPI_DownloadUnknownFormat(t *testing.T) {
	api := newTestAPI(t, testConfig())
	env := api.decode(api.do(http.MethodGet, "/api/v1/applications/1/certificate/download?format=pdf", "c1", nil),
		http.StatusBadRequest, nil)
	assert.Contains(t, env.Error, "pdf")
}

func TestAPI_HealthAndRequestID(t *testing.T) {
	api := newTestAPI(t, testConfig())

	rec := api.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(headerRequestID, "req-123")
	rec = httptest.NewRecorder()
	api.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(headerRequestID))
}

func TestAPI_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitEnabled = true
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 2
	api := newTestAPI(t, cfg)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/projects", "c1", nil).Code)
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/projects", "c1", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, api.do(http.MethodGet, "/api/v1/projects", "c1", nil).Code)

	// buckets are per caller
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/api/v1/projects", "d1", nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.OverSchedule(1, "10", "11"), http.StatusUnprocessableEntity},
		{apperr.NotFinalized(1, "DRAFT"), http.StatusConflict},
		{apperr.Forbidden("u", "x"), http.StatusForbidden},
		{apperr.Conflict("line_item", 1), http.StatusConflict},
		{apperr.NotFound("project", 1), http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))
}

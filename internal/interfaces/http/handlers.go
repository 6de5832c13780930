package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/payapp-engine/internal/application/service"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	services Services
	logger   *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger *zap.Logger) *Handlers {
	return &Handlers{
		services: services,
		logger:   logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// CreateProjectRequest is the body of POST /projects
type CreateProjectRequest struct {
	OrganizationID   string            `json:"organization_id" binding:"required"`
	Name             string            `json:"name" binding:"required"`
	ContractorID     string            `json:"contractor_id" binding:"required"`
	RetainagePercent decimal.Decimal   `json:"retainage_percent"`
	LineItems        []LineItemRequest `json:"line_items" binding:"required,min=1,dive"`
}

// LineItemRequest is one schedule-of-values line in CreateProjectRequest
type LineItemRequest struct {
	ItemNumber       string           `json:"item_number" binding:"required"`
	Description      string           `json:"description"`
	ScheduledValue   decimal.Decimal  `json:"scheduled_value"`
	RetainagePercent *decimal.Decimal `json:"retainage_percent,omitempty"`
}

// AmountRequest carries a single money amount
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// AddExpenseRequest is the body of POST /line-items/:id/expenses
type AddExpenseRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"`
	IncurredOn string          `json:"incurred_on"`
	HasReceipt bool            `json:"has_receipt"`
	Note       string          `json:"note"`
}

// ReverseExpenseRequest is the body of POST /expenses/:id/reverse
type ReverseExpenseRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.services.Health != nil {
		healthy, detail := h.services.Health()
		resp.Components = detail
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// ListProjects handles GET /projects
func (h *Handlers) ListProjects(c *gin.Context) {
	projects, err := h.services.Ledger.ListProjects(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, projects)
}

// CreateProject handles POST /projects
func (h *Handlers) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	input := service.CreateProjectInput{
		OrganizationID:   req.OrganizationID,
		Name:             req.Name,
		ContractorID:     req.ContractorID,
		RetainagePercent: req.RetainagePercent,
		LineItems:        make([]service.LineItemInput, 0, len(req.LineItems)),
	}
	for _, li := range req.LineItems {
		input.LineItems = append(input.LineItems, service.LineItemInput{
			ItemNumber:       li.ItemNumber,
			Description:      li.Description,
			ScheduledValue:   li.ScheduledValue,
			RetainagePercent: li.RetainagePercent,
		})
	}

	project, err := h.services.Ledger.CreateProject(c.Request.Context(), input)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, project)
}

// GetProject handles GET /projects/:id
func (h *Handlers) GetProject(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	project, err := h.services.Ledger.GetProject(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, project)
}

// ProjectSummary handles GET /projects/:id/summary
func (h *Handlers) ProjectSummary(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	summary, err := h.services.Ledger.ProjectSummary(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, summary)
}

// ListLineItems handles GET /projects/:id/line-items
func (h *Handlers) ListLineItems(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	items, err := h.services.Ledger.LineItems(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, items)
}

// SetMaterialsStored handles PUT /line-items/:id/materials
func (h *Handlers) SetMaterialsStored(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	item, err := h.services.Ledger.SetMaterialsStored(c.Request.Context(), id, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, item)
}

// ListExpenses handles GET /line-items/:id/expenses
func (h *Handlers) ListExpenses(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	expenses, err := h.services.Expense.ListExpenses(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, expenses)
}

// AddExpense handles POST /line-items/:id/expenses
func (h *Handlers) AddExpense(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req AddExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	var incurred time.Time
	if req.IncurredOn != "" {
		t, err := time.Parse(time.DateOnly, req.IncurredOn)
		if err != nil {
			badRequest(c, "incurred_on must be YYYY-MM-DD")
			return
		}
		incurred = t
	}

	expense, err := h.services.Expense.AddExpense(c.Request.Context(), service.AddExpenseInput{
		LineItemID: id,
		Amount:     req.Amount,
		Category:   req.Category,
		IncurredOn: incurred,
		HasReceipt: req.HasReceipt,
		Note:       req.Note,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, expense)
}

// ApproveExpense handles POST /expenses/:id/approve
func (h *Handlers) ApproveExpense(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	expense, err := h.services.Expense.ApproveExpense(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, expense)
}

// RejectExpense handles POST /expenses/:id/reject
func (h *Handlers) RejectExpense(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.services.Expense.RejectExpense(c.Request.Context(), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReverseExpense handles POST /expenses/:id/reverse
func (h *Handlers) ReverseExpense(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req ReverseExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	reversal, err := h.services.Expense.ReverseExpense(c.Request.Context(), id, req.Amount, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, reversal)
}

// pathID parses the :id path parameter, writing a 400 when it is not a
// positive integer.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

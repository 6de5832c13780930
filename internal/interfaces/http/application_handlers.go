package http

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReviewerChainRequest carries an ordered reviewer chain
type ReviewerChainRequest struct {
	ReviewerChain []string `json:"reviewer_chain" binding:"required,min=1"`
}

// RequestChangesRequest is the body of POST /applications/:id/request-changes
type RequestChangesRequest struct {
	Note string `json:"note"`
}

// ListApplications handles GET /projects/:id/applications
func (h *Handlers) ListApplications(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	apps, err := h.services.Workflow.List(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, apps)
}

// CreateApplication handles POST /projects/:id/applications
func (h *Handlers) CreateApplication(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req ReviewerChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	app, err := h.services.Workflow.CreateApplication(c.Request.Context(), id, req.ReviewerChain)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, app)
}

// GetApplication handles GET /applications/:id
func (h *Handlers) GetApplication(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	app, err := h.services.Workflow.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, app)
}

// SetReviewerChain handles PUT /applications/:id/reviewers
func (h *Handlers) SetReviewerChain(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req ReviewerChainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	app, err := h.services.Workflow.SetReviewerChain(c.Request.Context(), id, req.ReviewerChain)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, app)
}

// Submit handles POST /applications/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	app, err := h.services.Workflow.Submit(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, app)
}

// Approve handles POST /applications/:id/approve on behalf of the caller
func (h *Handlers) Approve(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	app, err := h.services.Workflow.Approve(c.Request.Context(), id, c.GetString(ctxUserID))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, app)
}

// RequestChanges handles POST /applications/:id/request-changes
func (h *Handlers) RequestChanges(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	var req RequestChangesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}
	app, err := h.services.Workflow.RequestChanges(c.Request.Context(), id, c.GetString(ctxUserID), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, app)
}

// Finalize handles POST /applications/:id/finalize
func (h *Handlers) Finalize(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	app, err := h.services.Workflow.Finalize(c.Request.Context(), id, c.GetString(ctxUserID))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, app)
}

// History handles GET /applications/:id/history
func (h *Handlers) History(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	records, err := h.services.Workflow.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, records)
}

// PermittedTriggers handles GET /applications/:id/triggers
func (h *Handlers) PermittedTriggers(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	triggers, err := h.services.Workflow.PermittedTriggers(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"triggers": triggers})
}

// Certificate handles GET /applications/:id/certificate
func (h *Handlers) Certificate(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	cert, err := h.services.Settlement.Export(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, cert)
}

// DownloadCertificate handles GET /applications/:id/certificate/download?format=xlsx|json
func (h *Handlers) DownloadCertificate(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}

	format := c.Query("format")
	writer, found := h.services.Writers(format)
	if !found {
		badRequest(c, fmt.Sprintf("unsupported certificate format %q", format))
		return
	}

	var buf bytes.Buffer
	cert, err := h.services.Settlement.Render(c.Request.Context(), id, writer, &buf)
	if err != nil {
		h.fail(c, err)
		return
	}

	filename := fmt.Sprintf("certificate-%d-%s%s", cert.ApplicationNumber, cert.Number, writer.Extension())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, writer.ContentType(), buf.Bytes())
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/payapp-engine/internal/domain/apperr"
)

// Response represents a standard JSON response
type Response struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInvariantViolation:
		return http.StatusUnprocessableEntity
	case apperr.KindState, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Code:    string(apperr.CodeInvalidInput),
	})
}

// fail writes err as a typed error response. Untyped errors are logged and
// reported without detail.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)

	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		h.logger.Error("Request failed",
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		c.JSON(status, Response{Success: false, Error: "internal server error"})
		return
	}

	c.JSON(status, Response{
		Success: false,
		Error:   appErr.Message,
		Code:    string(appErr.Code),
		Details: appErr.Details,
	})
}

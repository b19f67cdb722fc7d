package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/disbursement-approvals/internal/domain/errs"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries the error kind and a user-facing message
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindUnauthenticated:
		return http.StatusUnauthorized
	case errs.KindTenantMismatch, errs.KindPermissionDenied:
		return http.StatusForbidden
	case errs.KindInvalidTransition, errs.KindAlreadyFinalized, errs.KindConcurrentModification:
		return http.StatusConflict
	case errs.KindNoTemplateAvailable, errs.KindTemplateInvariantViolation:
		return http.StatusUnprocessableEntity
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// respondError writes err as a classified error body. Expected outcomes
// are logged at info level; anything else is a system failure.
func (h *Handlers) respondError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	if errs.IsExpected(err) {
		h.logger.Info("Request refused",
			"path", c.FullPath(),
			"kind", kind.String(),
			"message", errs.MessageOf(err),
		)
	} else {
		kind = errs.KindInternal
		h.logger.Error("Request failed", "path", c.FullPath(), "error", err)
	}

	c.JSON(StatusFor(kind), Response{
		Success: false,
		Error:   &ErrorBody{Kind: kind.String(), Message: errs.MessageOf(err)},
	})
}

func (h *Handlers) badRequest(c *gin.Context, message string, err error) {
	h.logger.Info("Invalid request body", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   &ErrorBody{Kind: errs.KindValidation.String(), Message: message},
	})
}

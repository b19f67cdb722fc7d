package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/disbursement-approvals/internal/application/service"
	"github.com/garyjia/disbursement-approvals/internal/domain/entity"
	"github.com/garyjia/disbursement-approvals/internal/domain/workflow"
)

// Version is reported by the health endpoint
var Version = "dev"

// Handlers contains all HTTP request handlers
type Handlers struct {
	gate          service.TransitionGate
	disbursements service.DisbursementService
	templates     service.TemplateService
	health        HealthFunc
	logger        Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		gate:          services.Gate,
		disbursements: services.Disbursements,
		templates:     services.Templates,
		health:        services.Health,
		logger:        logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// TransitionResponse is the body of a successful transition
type TransitionResponse struct {
	Disbursement *entity.Disbursement `json:"disbursement"`
	Entry        *entity.HistoryEntry `json:"entry,omitempty"`
}

// CreateTemplateRequest is the body of POST /settings/workflow-templates
type CreateTemplateRequest struct {
	CompanyID string `json:"company_id"`
	service.TemplateInput
}

// ActivateTemplateRequest is the optional body of PATCH .../activate
type ActivateTemplateRequest struct {
	CompanyID string `json:"company_id"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   Version,
	}

	status := http.StatusOK
	if h.health != nil {
		healthy, details := h.health(c.Request.Context())
		resp.Components = details
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// CreateDisbursement handles POST /api/v1/disbursements
func (h *Handlers) CreateDisbursement(c *gin.Context) {
	var req service.CreateDisbursementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	d, err := h.disbursements.CreateDraft(c.Request.Context(), c.GetString(tokenKey), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, d)
}

// GetDisbursement handles GET /api/v1/disbursements/:id
func (h *Handlers) GetDisbursement(c *gin.Context) {
	d, err := h.disbursements.Get(c.Request.Context(), c.GetString(tokenKey), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	respond(c, http.StatusOK, d)
}

// Submit handles POST /api/v1/disbursements/:id/submit
func (h *Handlers) Submit(c *gin.Context) { h.transition(c, workflow.TriggerSubmit) }

// Approve handles POST /api/v1/disbursements/:id/approve
func (h *Handlers) Approve(c *gin.Context) { h.transition(c, workflow.TriggerApprove) }

// Reject handles POST /api/v1/disbursements/:id/reject
func (h *Handlers) Reject(c *gin.Context) { h.transition(c, workflow.TriggerReject) }

// Cancel handles POST /api/v1/disbursements/:id/cancel
func (h *Handlers) Cancel(c *gin.Context) { h.transition(c, workflow.TriggerCancel) }

// ForceComplete handles POST /api/v1/disbursements/:id/force-complete
func (h *Handlers) ForceComplete(c *gin.Context) { h.transition(c, workflow.TriggerForceComplete) }

func (h *Handlers) transition(c *gin.Context, action workflow.Trigger) {
	var payload service.TransitionPayload
	if !h.bindOptionalJSON(c, &payload) {
		return
	}

	res, err := h.gate.ApplyTransition(c.Request.Context(), c.GetString(tokenKey), c.Param("id"), action, payload)
	if err != nil {
		h.respondError(c, err)
		return
	}

	respond(c, http.StatusOK, TransitionResponse{Disbursement: res.Disbursement, Entry: res.Entry})
}

// ListTemplates handles GET /api/v1/settings/workflow-templates
func (h *Handlers) ListTemplates(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	templates, err := h.templates.List(c.Request.Context(), actor, c.Query("company_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	respond(c, http.StatusOK, templates)
}

// GetTemplate handles GET /api/v1/settings/workflow-templates/:id
func (h *Handlers) GetTemplate(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	tpl, err := h.templates.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	respond(c, http.StatusOK, tpl)
}

// CreateTemplate handles POST /api/v1/settings/workflow-templates
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body", err)
		return
	}

	actor, ok := h.actor(c)
	if !ok {
		return
	}

	companyID := req.CompanyID
	if companyID == "" {
		companyID = actor.CompanyID
	}

	tpl, err := h.templates.Create(c.Request.Context(), actor, companyID, req.TemplateInput)
	if err != nil {
		h.respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, tpl)
}

// ActivateTemplate handles PATCH /api/v1/settings/workflow-templates/:id/activate
func (h *Handlers) ActivateTemplate(c *gin.Context) {
	var req ActivateTemplateRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}

	actor, ok := h.actor(c)
	if !ok {
		return
	}

	companyID := req.CompanyID
	if companyID == "" {
		companyID = actor.CompanyID
	}

	tpl, err := h.templates.Activate(c.Request.Context(), actor, c.Param("id"), companyID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	respond(c, http.StatusOK, tpl)
}

// DeleteTemplate handles DELETE /api/v1/settings/workflow-templates/:id
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	if err := h.templates.Delete(c.Request.Context(), actor, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// actor authenticates the request's bearer token, writing the error response on failure
func (h *Handlers) actor(c *gin.Context) (*entity.Actor, bool) {
	actor, err := h.gate.Authenticate(c.Request.Context(), c.GetString(tokenKey))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return actor, true
}

// bindOptionalJSON binds the body into v when one is present
func (h *Handlers) bindOptionalJSON(c *gin.Context, v interface{}) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, "invalid request body", err)
		return false
	}
	return true
}

package handler

import (
	"net/http"
	"time"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/automation/service"
	"pipeline_backend/internal/automation/transport"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc *service.Service
	val *validator.Validator
}

func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRules mounts the follow-up rule management endpoints.
func (h *Handler) RegisterRules(rg *gin.RouterGroup) {
	rg.GET("", h.ListRules)
	rg.POST("", h.CreateRule)
	rg.PATCH("/:id", h.UpdateRule)
	rg.DELETE("/:id", h.DeleteRule)
}

// RegisterAutomation mounts the poller-facing endpoints.
func (h *Handler) RegisterAutomation(rg *gin.RouterGroup) {
	rg.GET("/due", h.Due)
	rg.POST("/dispatched", h.MarkDispatched)
}

func (h *Handler) ListRules(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	rules, err := h.svc.ListRules(c.Request.Context(), authz.FromIdentity(id))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, rules)
}

func (h *Handler) CreateRule(c *gin.Context) {
	var req transport.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	rule, err := h.svc.CreateRule(c.Request.Context(), authz.FromIdentity(id), req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, rule)
}

func (h *Handler) UpdateRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	rule, err := h.svc.UpdateRule(c.Request.Context(), authz.FromIdentity(id), ruleID, req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, rule)
}

func (h *Handler) DeleteRule(c *gin.Context) {
	ruleID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	if err := h.svc.DeleteRule(c.Request.Context(), authz.FromIdentity(id), ruleID); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Due evaluates the due set against an explicit clock. The poller may pass
// ?now=RFC3339 to pin the evaluation instant; it defaults to server time.
func (h *Handler) Due(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	now := time.Now().UTC()
	if raw := c.Query("now"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, "now must be RFC3339")
			return
		}
		now = parsed
	}

	due, err := h.svc.ComputeDue(c.Request.Context(), authz.FromIdentity(id), now)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, due)
}

func (h *Handler) MarkDispatched(c *gin.Context) {
	var req transport.MarkDispatchedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	res, err := h.svc.MarkDispatched(c.Request.Context(), authz.FromIdentity(id), req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, res)
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vantage-crm/vantage-api/internal/dto"
	"github.com/vantage-crm/vantage-api/internal/service"
	appErrors "github.com/vantage-crm/vantage-api/pkg/errors"
	"github.com/vantage-crm/vantage-api/pkg/response"
)

// RetentionHandler exposes retention policy management and manual cleanup.
type RetentionHandler struct {
	policies *service.RetentionPolicyService
	cleanup  *service.CleanupService
}

// NewRetentionHandler constructs the handler.
func NewRetentionHandler(policies *service.RetentionPolicyService, cleanup *service.CleanupService) *RetentionHandler {
	return &RetentionHandler{policies: policies, cleanup: cleanup}
}

// List returns the active policies and the governed table names.
func (h *RetentionHandler) List(c *gin.Context) {
	resp, err := h.policies.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Create registers a new per-table retention policy.
func (h *RetentionHandler) Create(c *gin.Context) {
	var req dto.CreateRetentionPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid policy payload"))
		return
	}
	policy, err := h.policies.Create(c.Request.Context(), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, policy)
}

// Get returns one table's cached policy.
func (h *RetentionHandler) Get(c *gin.Context) {
	policy, err := h.policies.Get(c.Param("table"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// Update applies partial changes to a table's policy.
func (h *RetentionHandler) Update(c *gin.Context) {
	var req dto.UpdateRetentionPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid policy payload"))
		return
	}
	policy, err := h.policies.Update(c.Request.Context(), c.Param("table"), req, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, policy, nil)
}

// CleanupTable runs one table's cleanup synchronously.
func (h *RetentionHandler) CleanupTable(c *gin.Context) {
	result, err := h.cleanup.RunTable(c.Request.Context(), c.Param("table"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// TriggerCleanup runs the retention sweep on demand, optionally narrowed to
// one table.
func (h *RetentionHandler) TriggerCleanup(c *gin.Context) {
	var req dto.TriggerCleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cleanup payload"))
			return
		}
	}

	var (
		result interface{}
		err    error
	)
	if req.Table != "" {
		result, err = h.cleanup.RunTable(c.Request.Context(), req.Table)
	} else {
		result = h.cleanup.RunSweep(c.Request.Context())
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

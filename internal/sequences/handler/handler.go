// Package handler exposes the admin HTTP endpoints for sequences, stages
// and time restrictions.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dripline_backend/internal/sequences/service"
	"dripline_backend/internal/sequences/transport"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/httpkit"
	"dripline_backend/platform/validator"
)

// Handler serves admin requests for sequences.
type Handler struct {
	service  *service.Service
	validate *validator.Validator
}

// New creates a new sequences handler.
func New(svc *service.Service, validate *validator.Validator) *Handler {
	return &Handler{service: svc, validate: validate}
}

// Create handles POST /admin/sequences.
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	if err := service.ValidateStages(req.Stages); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	seq, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, seq)
}

// Get handles GET /admin/sequences/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid sequence id"))
		return
	}

	seq, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, seq)
}

// ListByInstance handles GET /admin/instances/:id/sequences.
func (h *Handler) ListByInstance(c *gin.Context) {
	instanceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid instance id"))
		return
	}

	sequences, err := h.service.ListByInstance(c.Request.Context(), instanceID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, sequences)
}

// Update handles PUT /admin/sequences/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid sequence id"))
		return
	}

	var req transport.UpdateSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	seq, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, seq)
}

// ReplaceStages handles PUT /admin/sequences/:id/stages.
func (h *Handler) ReplaceStages(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid sequence id"))
		return
	}

	var req transport.ReplaceStagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}
	if err := service.ValidateStages(req.Stages); err != nil {
		httpkit.HandleError(c, err)
		return
	}

	stages, err := h.service.ReplaceStages(c.Request.Context(), id, req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, stages)
}

// SetActive handles PATCH /admin/sequences/:id.
func (h *Handler) SetActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid sequence id"))
		return
	}

	var req transport.SetActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	if err := h.service.SetActive(c.Request.Context(), id, *req.Active); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /admin/sequences/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid sequence id"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRestrictions handles GET /admin/clients/:id/restrictions.
func (h *Handler) ListRestrictions(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	restrictions, err := h.service.ListRestrictions(c.Request.Context(), clientID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, restrictions)
}

// CreateRestriction handles POST /admin/clients/:id/restrictions.
func (h *Handler) CreateRestriction(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	var req transport.RestrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	res, err := h.service.CreateRestriction(c.Request.Context(), clientID, req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, res)
}

// UpdateRestriction handles PUT /admin/clients/:id/restrictions/:restrictionId.
func (h *Handler) UpdateRestriction(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}
	restrictionID, err := uuid.Parse(c.Param("restrictionId"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid restriction id"))
		return
	}

	var req transport.RestrictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	res, err := h.service.UpdateRestriction(c.Request.Context(), clientID, restrictionID, req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, res)
}

// DeleteRestriction handles DELETE /admin/clients/:id/restrictions/:restrictionId.
func (h *Handler) DeleteRestriction(c *gin.Context) {
	restrictionID, err := uuid.Parse(c.Param("restrictionId"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid restriction id"))
		return
	}

	if err := h.service.DeleteRestriction(c.Request.Context(), restrictionID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

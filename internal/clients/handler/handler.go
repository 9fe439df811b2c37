// Package handler exposes the admin HTTP endpoints for clients and instances.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dripline_backend/internal/clients/service"
	"dripline_backend/internal/clients/transport"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/httpkit"
	"dripline_backend/platform/validator"
)

// Handler serves admin requests for clients and instances.
type Handler struct {
	service  *service.Service
	validate *validator.Validator
}

// New creates a new clients handler.
func New(svc *service.Service, validate *validator.Validator) *Handler {
	return &Handler{service: svc, validate: validate}
}

// List handles GET /admin/clients.
func (h *Handler) List(c *gin.Context) {
	adminID, role, _ := httpkit.AdminIdentity(c)
	clients, err := h.service.List(c.Request.Context(), adminID.String(), role == httpkit.RoleSuperAdmin)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, clients)
}

// Get handles GET /admin/clients/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	client, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if !h.authorize(c, client.CreatorID) {
		return
	}
	httpkit.JSON(c, http.StatusOK, client)
}

// Update handles PUT /admin/clients/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	var req transport.UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	existing, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if !h.authorize(c, existing.CreatorID) {
		return
	}

	client, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, client)
}

// Delete handles DELETE /admin/clients/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	existing, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if !h.authorize(c, existing.CreatorID) {
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateToken handles POST /admin/clients/:id/token.
func (h *Handler) RotateToken(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	existing, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if !h.authorize(c, existing.CreatorID) {
		return
	}

	token, err := h.service.RotateToken(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, token)
}

// CreateInstance handles POST /admin/clients/:id/instances.
func (h *Handler) CreateInstance(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	var req transport.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	existing, err := h.service.GetByID(c.Request.Context(), clientID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if !h.authorize(c, existing.CreatorID) {
		return
	}

	inst, err := h.service.CreateInstance(c.Request.Context(), clientID, req)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusCreated, inst)
}

// ListInstances handles GET /admin/clients/:id/instances.
func (h *Handler) ListInstances(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	existing, err := h.service.GetByID(c.Request.Context(), clientID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	if !h.authorize(c, existing.CreatorID) {
		return
	}

	instances, err := h.service.ListInstances(c.Request.Context(), clientID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, instances)
}

// SetInstanceActive handles PATCH /admin/instances/:id.
func (h *Handler) SetInstanceActive(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid instance id"))
		return
	}

	var req transport.SetInstanceActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	if err := h.service.SetInstanceActive(c.Request.Context(), id, *req.Active); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteInstance handles DELETE /admin/instances/:id.
func (h *Handler) DeleteInstance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid instance id"))
		return
	}

	if err := h.service.DeleteInstance(c.Request.Context(), id); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// authorize writes a 403 and returns false when the caller may not act on a
// client owned by creatorID.
func (h *Handler) authorize(c *gin.Context, creatorID string) bool {
	adminID, role, _ := httpkit.AdminIdentity(c)
	if role == httpkit.RoleSuperAdmin || adminID.String() == creatorID {
		return true
	}
	httpkit.HandleError(c, apperr.Forbidden("client belongs to another admin"))
	return false
}

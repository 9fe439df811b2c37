// Package handler exposes admin HTTP endpoints for contacts.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dripline_backend/internal/contacts/repository"
	"dripline_backend/internal/contacts/service"
	"dripline_backend/internal/contacts/transport"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/httpkit"
)

// Handler serves admin requests for contacts.
type Handler struct {
	service *service.Service
}

// New creates a new contacts handler.
func New(svc *service.Service) *Handler {
	return &Handler{service: svc}
}

// ListByClient handles GET /admin/clients/:id/contacts.
func (h *Handler) ListByClient(c *gin.Context) {
	clientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid client id"))
		return
	}

	contacts, err := h.service.ListByClient(c.Request.Context(), clientID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	responses := make([]transport.ContactResponse, len(contacts))
	for i, contact := range contacts {
		responses[i] = toResponse(contact, nil)
	}
	httpkit.JSON(c, http.StatusOK, responses)
}

// Get handles GET /admin/contacts/:id. The response includes current tags.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid contact id"))
		return
	}

	contact, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	tags, err := h.service.Tags(c.Request.Context(), id)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, toResponse(contact, tags))
}

// Delete handles DELETE /admin/contacts/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid contact id"))
		return
	}

	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toResponse(c repository.Contact, tags []string) transport.ContactResponse {
	return transport.ContactResponse{
		ID:             c.ID,
		ClientID:       c.ClientID,
		ExternalID:     c.ExternalID,
		Name:           c.Name,
		Phone:          c.Phone,
		InboxID:        c.InboxID,
		ConversationID: c.ConversationID,
		DisplayID:      c.DisplayID,
		Tags:           tags,
		CreatedAt:      c.CreatedAt,
	}
}

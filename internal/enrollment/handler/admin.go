package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"dripline_backend/internal/enrollment/domain"
	"dripline_backend/internal/enrollment/repository"
	"dripline_backend/internal/enrollment/service"
	"dripline_backend/internal/enrollment/transport"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/httpkit"
	"dripline_backend/platform/validator"
)

// AdminHandler serves the enrollment admin endpoints.
type AdminHandler struct {
	engine   *service.Engine
	validate *validator.Validator
}

// NewAdmin creates the enrollment admin handler.
func NewAdmin(engine *service.Engine, validate *validator.Validator) *AdminHandler {
	return &AdminHandler{engine: engine, validate: validate}
}

// ListByContact handles GET /admin/contacts/:id/enrollments.
func (h *AdminHandler) ListByContact(c *gin.Context) {
	contactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid contact id"))
		return
	}

	enrollments, err := h.engine.Enrollments(c.Request.Context(), contactID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, toEnrollmentResponses(enrollments))
}

// ListBySequence handles GET /admin/sequences/:id/enrollments.
func (h *AdminHandler) ListBySequence(c *gin.Context) {
	sequenceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid sequence id"))
		return
	}

	enrollments, err := h.engine.SequenceEnrollments(c.Request.Context(), sequenceID, c.Query("status"))
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}
	httpkit.JSON(c, http.StatusOK, toEnrollmentResponses(enrollments))
}

// SetStatus handles PATCH /admin/enrollments/:id.
func (h *AdminHandler) SetStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid enrollment id"))
		return
	}

	var req transport.SetEnrollmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	if err := h.engine.SetEnrollmentStatus(c.Request.Context(), id, domain.EnrollmentStatus(req.Status)); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ChangeStage handles POST /admin/enrollments/:id/stage.
func (h *AdminHandler) ChangeStage(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid enrollment id"))
		return
	}

	var req transport.ChangeStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	if err := h.engine.ChangeStage(c.Request.Context(), id, req.StageID); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func toEnrollmentResponses(enrollments []repository.Enrollment) []transport.EnrollmentResponse {
	responses := make([]transport.EnrollmentResponse, len(enrollments))
	for i, e := range enrollments {
		responses[i] = transport.EnrollmentResponse{
			ID:                e.ID,
			ContactID:         e.ContactID,
			SequenceID:        e.SequenceID,
			CurrentStageID:    e.CurrentStageID,
			CurrentStageIndex: e.CurrentStageIndex,
			Status:            string(e.Status),
			StartedAt:         e.StartedAt,
			CompletedAt:       e.CompletedAt,
			RemovedAt:         e.RemovedAt,
			LastMessageAt:     e.LastMessageAt,
		}
	}
	return responses
}

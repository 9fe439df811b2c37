// Package handler exposes the event surface consumed by the CRM and the
// external dispatcher, plus the enrollment admin endpoints.
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	authsvc "dripline_backend/internal/auth/service"
	contactssvc "dripline_backend/internal/contacts/service"
	"dripline_backend/internal/enrollment/repository"
	"dripline_backend/internal/enrollment/service"
	"dripline_backend/internal/enrollment/transport"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/httpkit"
	"dripline_backend/platform/validator"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

// EventsHandler serves the unauthenticated-path endpoints that carry their
// own bearer credential: tag events, trigger webhooks and the dispatcher's
// message feed.
type EventsHandler struct {
	ingest   *service.Ingest
	engine   *service.Engine
	auth     service.Authenticator
	validate *validator.Validator
}

// NewEvents creates the events handler.
func NewEvents(ingest *service.Ingest, engine *service.Engine, auth service.Authenticator, validate *validator.Validator) *EventsHandler {
	return &EventsHandler{ingest: ingest, engine: engine, auth: auth, validate: validate}
}

// TagChange handles POST /events/tag-change.
func (h *EventsHandler) TagChange(c *gin.Context) {
	var req transport.TagChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	result, err := h.ingest.ProcessTagChange(c.Request.Context(), service.TagChangeInput{
		Token:       requestToken(c, req.AuthToken),
		IP:          c.ClientIP(),
		AccountID:   req.Account.ID.String(),
		AccountName: req.Account.Name,
		AdminID:     req.AdminID,
		Contact:     contactInput(req.Contact, req.Conversation),
		Labels:      req.Labels,
		Variables:   req.Variables,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.JSON(c, http.StatusOK, transport.TagChangeResponse{
		ContactID:      result.ContactID,
		ContactCreated: result.ContactCreated,
		TagsAdded:      result.TagsAdded,
		TagsRemoved:    result.TagsRemoved,
		TagErrors:      result.TagErrors,
		Processed:      result.Processed,
		Enrolled:       result.Enrolled,
		Stopped:        result.Stopped,
		Skipped:        result.Skipped,
		Failed:         result.Failed,
		AuthMethod:     result.AuthMethod,
	})
}

// Trigger handles POST /webhooks/trigger.
func (h *EventsHandler) Trigger(c *gin.Context) {
	var req transport.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	enrolled, contactID, err := h.ingest.ProcessTrigger(c.Request.Context(), service.TriggerInput{
		Token:       requestToken(c, req.AuthToken),
		IP:          c.ClientIP(),
		AccountID:   req.Account.ID.String(),
		AccountName: req.Account.Name,
		WebhookID:   req.WebhookID,
		Contact:     contactInput(req.Contact, transport.ConversationPayload{}),
		Variables:   req.Variables,
	})
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	httpkit.JSON(c, http.StatusOK, transport.TriggerResponse{
		Enrolled:  enrolled,
		ContactID: contactID,
	})
}

// PendingMessages handles GET /messages/pending. Claimed messages move to
// processing; the dispatcher must report a status for each or they are
// requeued after the processing TTL.
func (h *EventsHandler) PendingMessages(c *gin.Context) {
	identity, ok := h.authenticate(c, c.Query("accountId"), "")
	if !ok {
		return
	}

	limit := defaultPendingLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPendingLimit {
			httpkit.HandleError(c, apperr.Validation("limit must be between 1 and 200"))
			return
		}
		limit = parsed
	}

	messages, err := h.engine.DueMessages(c.Request.Context(), limit, identity.ClientID)
	if err != nil {
		httpkit.HandleError(c, err)
		return
	}

	responses := make([]transport.MessageResponse, len(messages))
	for i, m := range messages {
		responses[i] = toMessageResponse(m)
	}
	httpkit.JSON(c, http.StatusOK, responses)
}

// DeliveryStatus handles POST /messages/status.
func (h *EventsHandler) DeliveryStatus(c *gin.Context) {
	var req transport.DeliveryStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.HandleError(c, apperr.Validation("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.HandleError(c, apperr.Validation(err.Error()))
		return
	}

	identity, ok := h.authenticate(c, req.AccountID, req.AuthToken)
	if !ok {
		return
	}
	if identity.ClientID != nil {
		owner, err := h.engine.MessageOwner(c.Request.Context(), req.MessageID)
		if err != nil {
			httpkit.HandleError(c, err)
			return
		}
		if owner != *identity.ClientID {
			httpkit.HandleError(c, apperr.Forbidden("message belongs to another client"))
			return
		}
	}

	if err := h.engine.HandleDeliveryResult(c.Request.Context(), req.MessageID, *req.Success, req.Error); err != nil {
		httpkit.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// authenticate validates the request credential and writes the error
// response itself on failure.
func (h *EventsHandler) authenticate(c *gin.Context, accountID, bodyToken string) (authsvc.Identity, bool) {
	identity, err := h.auth.Authenticate(c.Request.Context(), requestToken(c, bodyToken), accountID, c.ClientIP())
	if err != nil {
		httpkit.HandleError(c, err)
		return authsvc.Identity{}, false
	}
	return identity, true
}

// requestToken extracts the request credential. The Authorization header
// wins; the body token covers integrations that cannot set headers.
func requestToken(c *gin.Context, bodyToken string) string {
	if token, ok := httpkit.BearerToken(c.GetHeader("Authorization")); ok && token != "" {
		return token
	}
	return bodyToken
}

func contactInput(contact transport.ContactPayload, conv transport.ConversationPayload) contactssvc.ContactInput {
	return contactssvc.ContactInput{
		ExternalID:     contact.ID.String(),
		Name:           contact.Name,
		Phone:          contact.PhoneNumber,
		InboxID:        conv.InboxID.String(),
		ConversationID: conv.ID.String(),
		DisplayID:      conv.DisplayID.String(),
	}
}

func toMessageResponse(m repository.ScheduledMessage) transport.MessageResponse {
	return transport.MessageResponse{
		ID:           m.ID,
		InstanceID:   m.InstanceID,
		SequenceID:   m.SequenceID,
		ContactID:    m.ContactID,
		Phone:        m.Phone,
		Type:         m.Type,
		Content:      m.Content,
		TypebotStage: m.TypebotStage,
		ScheduledAt:  m.ScheduledAt,
		Attempts:     m.Attempts,
	}
}

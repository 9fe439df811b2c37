// Package transport defines the payloads of the event surface and the
// enrollment admin API.
package transport

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AccountPayload identifies the CRM account an event belongs to. The CRM
// sends numeric ids; older integrations send strings.
type AccountPayload struct {
	ID   json.Number `json:"id"`
	Name string      `json:"name"`
}

// ContactPayload is the contact snapshot inside an event.
type ContactPayload struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	PhoneNumber string      `json:"phoneNumber" validate:"required"`
}

// ConversationPayload carries conversation routing metadata.
type ConversationPayload struct {
	ID        json.Number `json:"id"`
	InboxID   json.Number `json:"inboxId"`
	DisplayID json.Number `json:"displayId"`
}

// TagChangeRequest is a conversation-updated event from the CRM.
// AuthToken is honored when the integration cannot set headers; the
// Authorization header wins when both are present.
type TagChangeRequest struct {
	Account      AccountPayload      `json:"account"`
	AdminID      string              `json:"adminId"`
	AuthToken    string              `json:"authToken"`
	Contact      ContactPayload      `json:"contact"`
	Conversation ConversationPayload `json:"conversation"`
	Labels       []string            `json:"labels"`
	Variables    map[string]string   `json:"variables"`
}

// TagChangeResponse reports what the event changed. Processed is the
// number of sequences evaluated against the contact's new tag set.
type TagChangeResponse struct {
	ContactID      uuid.UUID   `json:"contactId"`
	ContactCreated bool        `json:"contactCreated"`
	TagsAdded      []string    `json:"tagsAdded"`
	TagsRemoved    []string    `json:"tagsRemoved"`
	TagErrors      int         `json:"tagErrors"`
	Processed      int         `json:"processed"`
	Enrolled       []uuid.UUID `json:"enrolled"`
	Stopped        []uuid.UUID `json:"stopped"`
	Skipped        []uuid.UUID `json:"skipped,omitempty"`
	Failed         []uuid.UUID `json:"failed,omitempty"`
	AuthMethod     string      `json:"authMethod"`
}

// TriggerRequest asks for a direct enrollment, bypassing the sequence's
// start condition. The sequence is addressed by its webhook id, not its
// primary key, so sequence ids never leak into external integrations.
type TriggerRequest struct {
	Account   AccountPayload    `json:"account"`
	WebhookID uuid.UUID         `json:"webhookId" validate:"required"`
	AuthToken string            `json:"authToken"`
	Contact   ContactPayload    `json:"contact"`
	Variables map[string]string `json:"variables"`
}

// TriggerResponse reports the outcome of a direct enrollment.
type TriggerResponse struct {
	Enrolled  bool      `json:"enrolled"`
	ContactID uuid.UUID `json:"contactId"`
}

// MessageResponse is a claimed message handed to the dispatcher.
type MessageResponse struct {
	ID           uuid.UUID `json:"id"`
	InstanceID   uuid.UUID `json:"instanceId"`
	SequenceID   uuid.UUID `json:"sequenceId"`
	ContactID    uuid.UUID `json:"contactId"`
	Phone        string    `json:"phone"`
	Type         string    `json:"type"`
	Content      string    `json:"content"`
	TypebotStage string    `json:"typebotStage,omitempty"`
	ScheduledAt  time.Time `json:"scheduledAt"`
	Attempts     int       `json:"attempts"`
}

// DeliveryStatusRequest is the dispatcher's verdict on one message.
type DeliveryStatusRequest struct {
	AccountID string    `json:"accountId"`
	AuthToken string    `json:"authToken"`
	MessageID uuid.UUID `json:"messageId" validate:"required"`
	Success   *bool     `json:"success" validate:"required"`
	Error     string    `json:"error"`
}

// EnrollmentResponse is the API representation of an enrollment.
type EnrollmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	ContactID         uuid.UUID  `json:"contactId"`
	SequenceID        uuid.UUID  `json:"sequenceId"`
	CurrentStageID    *uuid.UUID `json:"currentStageId,omitempty"`
	CurrentStageIndex int        `json:"currentStageIndex"`
	Status            string     `json:"status"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	RemovedAt         *time.Time `json:"removedAt,omitempty"`
	LastMessageAt     *time.Time `json:"lastMessageAt,omitempty"`
}

// SetEnrollmentStatusRequest applies an admin status change.
type SetEnrollmentStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active paused completed removed stopped"`
}

// ChangeStageRequest moves an enrollment to another stage.
type ChangeStageRequest struct {
	StageID uuid.UUID `json:"stageId" validate:"required"`
}

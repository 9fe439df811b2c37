// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"dripline_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Contact Domain Events
// =============================================================================

// ContactCreated is published the first time a contact is seen for a client.
// The stats module fans this out to a new-contact counter for every active
// instance under the client.
type ContactCreated struct {
	BaseEvent
	ClientID  uuid.UUID `json:"clientId"`
	ContactID uuid.UUID `json:"contactId"`
	Phone     string    `json:"phone"`
}

func (e ContactCreated) EventName() string { return "contacts.created" }

// =============================================================================
// Enrollment Domain Events
// =============================================================================

// MessageScheduled is published when the engine queues a stage message.
type MessageScheduled struct {
	BaseEvent
	InstanceID  uuid.UUID `json:"instanceId"`
	SequenceID  uuid.UUID `json:"sequenceId"`
	ContactID   uuid.UUID `json:"contactId"`
	MessageID   uuid.UUID `json:"messageId"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

func (e MessageScheduled) EventName() string { return "enrollment.message.scheduled" }

// MessageSent is published when the external dispatcher reports a
// successful delivery.
type MessageSent struct {
	BaseEvent
	InstanceID uuid.UUID `json:"instanceId"`
	MessageID  uuid.UUID `json:"messageId"`
}

func (e MessageSent) EventName() string { return "enrollment.message.sent" }

// MessageFailed is published when a delivery attempt fails. Terminal is
// true once the message moved to persistent_error.
type MessageFailed struct {
	BaseEvent
	InstanceID uuid.UUID `json:"instanceId"`
	MessageID  uuid.UUID `json:"messageId"`
	Attempts   int       `json:"attempts"`
	Terminal   bool      `json:"terminal"`
}

func (e MessageFailed) EventName() string { return "enrollment.message.failed" }

// SequenceCompleted is published when a contact finishes the last stage of
// a sequence.
type SequenceCompleted struct {
	BaseEvent
	InstanceID uuid.UUID `json:"instanceId"`
	SequenceID uuid.UUID `json:"sequenceId"`
	ContactID  uuid.UUID `json:"contactId"`
}

func (e SequenceCompleted) EventName() string { return "enrollment.sequence.completed" }

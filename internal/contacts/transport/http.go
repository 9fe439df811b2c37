// Package transport defines response payloads for the contacts HTTP API.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// ContactResponse is the API representation of a contact.
type ContactResponse struct {
	ID             uuid.UUID `json:"id"`
	ClientID       uuid.UUID `json:"clientId"`
	ExternalID     string    `json:"externalId,omitempty"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	InboxID        string    `json:"inboxId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	DisplayID      string    `json:"displayId,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

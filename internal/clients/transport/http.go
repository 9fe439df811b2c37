// Package transport defines request and response payloads for the clients
// HTTP API.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// UpdateClientRequest changes a client's display name.
type UpdateClientRequest struct {
	AccountName string `json:"accountName" validate:"required,max=255"`
}

// CreateInstanceRequest creates a messaging instance under a client.
type CreateInstanceRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// SetInstanceActiveRequest toggles an instance on or off.
type SetInstanceActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// ClientResponse is the API representation of a client. The auth token is
// never echoed back; rotation returns it once via TokenResponse.
type ClientResponse struct {
	ID                 uuid.UUID `json:"id"`
	AccountID          string    `json:"accountId"`
	AccountName        string    `json:"accountName"`
	CreatorID          string    `json:"creatorId"`
	CreatorAccountName string    `json:"creatorAccountName"`
	HasAuthToken       bool      `json:"hasAuthToken"`
	CreatedAt          time.Time `json:"createdAt"`
}

// TokenResponse carries a freshly generated client auth token.
type TokenResponse struct {
	AuthToken string `json:"authToken"`
}

// InstanceResponse is the API representation of an instance.
type InstanceResponse struct {
	ID       uuid.UUID `json:"id"`
	ClientID uuid.UUID `json:"clientId"`
	Name     string    `json:"name"`
	Active   bool      `json:"active"`
}

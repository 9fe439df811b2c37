// Package repository provides persistence for contacts and tags.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Contact is a person reachable through a client's messaging channels.
// Phone numbers are stored normalized to E.164 and are unique per client.
type Contact struct {
	ID             uuid.UUID
	ClientID       uuid.UUID
	ExternalID     string
	Name           string
	Phone          string
	InboxID        string
	ConversationID string
	DisplayID      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Tag is a label applied to contacts. Tags are scoped per creator and
// matched by name when evaluating sequence conditions.
type Tag struct {
	ID        uuid.UUID
	CreatorID string
	Name      string
}

// UpsertContactParams carries the fields reconciled on every inbound event.
type UpsertContactParams struct {
	ClientID       uuid.UUID
	ExternalID     string
	Name           string
	Phone          string
	InboxID        string
	ConversationID string
	DisplayID      string
}

// ContactStore provides operations for contacts.
type ContactStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (Contact, error)
	GetByPhone(ctx context.Context, clientID uuid.UUID, phone string) (Contact, error)
	// Upsert inserts or refreshes the contact keyed by (client_id, phone).
	// The returned flag reports whether a new row was created.
	Upsert(ctx context.Context, params UpsertContactParams) (Contact, bool, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]Contact, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TagStore provides operations for tags and contact-tag assignments.
type TagStore interface {
	// EnsureTag inserts the tag if missing and returns its id either way.
	EnsureTag(ctx context.Context, creatorID, name string) (uuid.UUID, error)
	ListContactTags(ctx context.Context, contactID uuid.UUID) ([]string, error)
	AddContactTag(ctx context.Context, contactID, tagID uuid.UUID) error
	RemoveContactTag(ctx context.Context, contactID uuid.UUID, tagName string) error
}

// Repository combines contact and tag persistence.
type Repository interface {
	ContactStore
	TagStore
}

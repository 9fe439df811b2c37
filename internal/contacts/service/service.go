// Package service implements contact resolution and tag reconciliation for
// inbound CRM events.
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"dripline_backend/internal/contacts/repository"
	"dripline_backend/internal/events"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/logger"
	"dripline_backend/platform/phone"
)

// CreatorResolver yields the system-level fallback creator id used when an
// event carries no admin identity and the client has no creator on record.
type CreatorResolver interface {
	GetSystemCreatorID() string
}

// Service provides business logic for contacts.
type Service struct {
	repo    repository.Repository
	bus     events.Bus
	creator CreatorResolver
	log     *logger.Logger
}

// New creates a new contacts service.
func New(repo repository.Repository, bus events.Bus, creator CreatorResolver, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, creator: creator, log: log}
}

// ContactInput is the contact snapshot carried by an inbound event.
type ContactInput struct {
	ExternalID     string
	Name           string
	Phone          string
	InboxID        string
	ConversationID string
	DisplayID      string
}

// ResolveContact normalizes the phone number and upserts the contact under
// the client. A ContactCreated event is published only when the row is new.
func (s *Service) ResolveContact(ctx context.Context, clientID uuid.UUID, input ContactInput) (repository.Contact, bool, error) {
	normalized, err := phone.NormalizeE164(input.Phone)
	if err != nil {
		return repository.Contact{}, false, apperr.Validation("invalid phone number")
	}

	contact, created, err := s.repo.Upsert(ctx, repository.UpsertContactParams{
		ClientID:       clientID,
		ExternalID:     input.ExternalID,
		Name:           strings.TrimSpace(input.Name),
		Phone:          normalized,
		InboxID:        input.InboxID,
		ConversationID: input.ConversationID,
		DisplayID:      input.DisplayID,
	})
	if err != nil {
		return repository.Contact{}, false, err
	}

	if created {
		s.log.Info("contact created", "contactId", contact.ID, "clientId", clientID)
		s.bus.Publish(ctx, events.ContactCreated{
			BaseEvent: events.NewBaseEvent(),
			ClientID:  clientID,
			ContactID: contact.ID,
			Phone:     normalized,
		})
	}
	return contact, created, nil
}

// Reconciliation reports the outcome of a tag sync. Errors counts tags
// that could not be added or removed; those stay as they were.
type Reconciliation struct {
	Added   []string
	Removed []string
	Errors  int
}

// ReconcileTags replaces the contact's tag set with the labels from the
// event. Additions and removals are computed as a diff; a failure on one
// tag is logged and counted, it does not abort the rest.
func (s *Service) ReconcileTags(ctx context.Context, contact repository.Contact, labels []string, creatorID string) (Reconciliation, error) {
	var rec Reconciliation

	current, err := s.repo.ListContactTags(ctx, contact.ID)
	if err != nil {
		return rec, err
	}

	want := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label != "" {
			want[label] = struct{}{}
		}
	}
	have := make(map[string]struct{}, len(current))
	for _, name := range current {
		have[name] = struct{}{}
	}

	for label := range want {
		if _, ok := have[label]; ok {
			continue
		}
		tagID, ensureErr := s.repo.EnsureTag(ctx, creatorID, label)
		if ensureErr != nil {
			s.log.Error("ensure tag failed", "tag", label, "error", ensureErr)
			rec.Errors++
			continue
		}
		if addErr := s.repo.AddContactTag(ctx, contact.ID, tagID); addErr != nil {
			s.log.Error("add contact tag failed", "tag", label, "contactId", contact.ID, "error", addErr)
			rec.Errors++
			continue
		}
		rec.Added = append(rec.Added, label)
	}

	for _, name := range current {
		if _, ok := want[name]; ok {
			continue
		}
		if rmErr := s.repo.RemoveContactTag(ctx, contact.ID, name); rmErr != nil {
			s.log.Error("remove contact tag failed", "tag", name, "contactId", contact.ID, "error", rmErr)
			rec.Errors++
			continue
		}
		rec.Removed = append(rec.Removed, name)
	}

	return rec, nil
}

// ResolveCreatorID picks the creator to own new tags: the admin carried by
// the event, then the client's creator, then the configured system account.
func (s *Service) ResolveCreatorID(eventAdminID, clientCreatorID string) string {
	if eventAdminID != "" {
		return eventAdminID
	}
	if clientCreatorID != "" {
		return clientCreatorID
	}
	return s.creator.GetSystemCreatorID()
}

// Tags returns the current tag names of a contact.
func (s *Service) Tags(ctx context.Context, contactID uuid.UUID) ([]string, error) {
	return s.repo.ListContactTags(ctx, contactID)
}

// GetByID retrieves a contact.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (repository.Contact, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByClient retrieves all contacts of a client.
func (s *Service) ListByClient(ctx context.Context, clientID uuid.UUID) ([]repository.Contact, error) {
	return s.repo.ListByClient(ctx, clientID)
}

// Delete removes a contact and cascades its tag links and enrollments.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

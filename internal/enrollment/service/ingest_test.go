package service

import (
	"context"
	"testing"

	"github.com/google/uuid"

	authsvc "dripline_backend/internal/auth/service"
	clientsrepo "dripline_backend/internal/clients/repository"
	contactsrepo "dripline_backend/internal/contacts/repository"
	contactssvc "dripline_backend/internal/contacts/service"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/logger"
)

type fakeAuth struct {
	identity authsvc.Identity
	err      error
}

func (f *fakeAuth) Authenticate(_ context.Context, token, _, _ string) (authsvc.Identity, error) {
	if f.err != nil {
		return authsvc.Identity{}, f.err
	}
	if token == "" {
		return authsvc.Identity{}, apperr.Unauthorized("missing credential")
	}
	return f.identity, nil
}

type fakeClientResolver struct {
	client clientsrepo.Client
}

func (f *fakeClientResolver) ResolveClient(_ context.Context, _, _, _ string) (clientsrepo.Client, error) {
	return f.client, nil
}

type fakeContactResolver struct {
	contact    contactsrepo.Contact
	reconciled [][]string
}

func (f *fakeContactResolver) ResolveContact(_ context.Context, _ uuid.UUID, _ contactssvc.ContactInput) (contactsrepo.Contact, bool, error) {
	return f.contact, false, nil
}

func (f *fakeContactResolver) ReconcileTags(_ context.Context, _ contactsrepo.Contact, labels []string, _ string) (contactssvc.Reconciliation, error) {
	f.reconciled = append(f.reconciled, labels)
	return contactssvc.Reconciliation{Added: labels}, nil
}

func (f *fakeContactResolver) ResolveCreatorID(eventAdminID, clientCreatorID string) string {
	if eventAdminID != "" {
		return eventAdminID
	}
	return clientCreatorID
}

func newIngestFixture(t *testing.T) (*Ingest, *fixture, *fakeContactResolver) {
	t.Helper()
	f := newFixture(t)

	resolver := &fakeContactResolver{contact: f.contact}
	ingest := NewIngest(
		&fakeAuth{identity: authsvc.Identity{ClientID: &f.clientID}},
		&fakeClientResolver{client: clientsrepo.Client{ID: f.clientID, AccountID: "12345"}},
		resolver,
		f.sequences,
		f.engine,
		logger.New("development"),
	)
	return ingest, f, resolver
}

func TestProcessTagChangeEnrollsAndReconciles(t *testing.T) {
	ingest, f, resolver := newIngestFixture(t)

	result, err := ingest.ProcessTagChange(context.Background(), TagChangeInput{
		Token:     "dl_token",
		AccountID: "12345",
		Contact:   contactssvc.ContactInput{Name: "Ana", Phone: "+5511999990000"},
		Labels:    []string{"lead"},
	})
	if err != nil {
		t.Fatalf("ProcessTagChange: %v", err)
	}

	if result.ContactID != f.contact.ID {
		t.Fatalf("unexpected contact id")
	}
	if len(result.Enrolled) != 1 || result.Enrolled[0] != f.sequence.ID {
		t.Fatalf("expected enrollment, got %+v", result)
	}
	if result.Processed != 1 {
		t.Fatalf("expected 1 sequence evaluated, got %d", result.Processed)
	}
	if len(resolver.reconciled) != 1 {
		t.Fatalf("expected one tag reconciliation, got %d", len(resolver.reconciled))
	}
	if len(f.repo.enrollments) != 1 {
		t.Fatalf("expected the engine to create the enrollment")
	}
}

func TestProcessTagChangeRequiresCredential(t *testing.T) {
	ingest, f, _ := newIngestFixture(t)

	_, err := ingest.ProcessTagChange(context.Background(), TagChangeInput{
		AccountID: "12345",
		Labels:    []string{"lead"},
	})
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if len(f.repo.enrollments) != 0 {
		t.Fatalf("a rejected event must not touch state")
	}
}

func TestProcessTriggerEnrollsDirectly(t *testing.T) {
	ingest, f, _ := newIngestFixture(t)

	// The contact carries none of the start tags; the trigger enrolls anyway.
	enrolled, contactID, err := ingest.ProcessTrigger(context.Background(), TriggerInput{
		Token:     "dl_token",
		AccountID: "12345",
		WebhookID: f.sequence.WebhookID,
		Contact:   contactssvc.ContactInput{Name: "Ana", Phone: "+5511999990000"},
	})
	if err != nil {
		t.Fatalf("ProcessTrigger: %v", err)
	}
	if !enrolled || contactID != f.contact.ID {
		t.Fatalf("expected a direct enrollment for the contact")
	}
}

func TestProcessTriggerRejectsUnknownWebhook(t *testing.T) {
	ingest, f, _ := newIngestFixture(t)

	_, _, err := ingest.ProcessTrigger(context.Background(), TriggerInput{
		Token:     "dl_token",
		AccountID: "12345",
		WebhookID: uuid.New(),
		Contact:   contactssvc.ContactInput{Name: "Ana", Phone: "+5511999990000"},
	})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for an unknown webhook, got %v", err)
	}
	if len(f.repo.enrollments) != 0 {
		t.Fatalf("an unknown webhook must not enroll anything")
	}
}

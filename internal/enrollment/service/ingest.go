package service

import (
	"context"

	"github.com/google/uuid"

	authsvc "dripline_backend/internal/auth/service"
	clientsrepo "dripline_backend/internal/clients/repository"
	contactsrepo "dripline_backend/internal/contacts/repository"
	contactssvc "dripline_backend/internal/contacts/service"
	seqrepo "dripline_backend/internal/sequences/repository"
	"dripline_backend/platform/logger"
)

// Authenticator validates the credential carried by an event request.
type Authenticator interface {
	Authenticate(ctx context.Context, token, accountID, ip string) (authsvc.Identity, error)
}

// ClientResolver maps an external account to a client record.
type ClientResolver interface {
	ResolveClient(ctx context.Context, accountID, accountName, creatorID string) (clientsrepo.Client, error)
}

// WebhookResolver maps a public webhook id to its sequence.
type WebhookResolver interface {
	GetByWebhookID(ctx context.Context, webhookID uuid.UUID) (seqrepo.Sequence, error)
}

// ContactResolver upserts contacts and reconciles their tags.
type ContactResolver interface {
	ResolveContact(ctx context.Context, clientID uuid.UUID, input contactssvc.ContactInput) (contactsrepo.Contact, bool, error)
	ReconcileTags(ctx context.Context, contact contactsrepo.Contact, labels []string, creatorID string) (contactssvc.Reconciliation, error)
	ResolveCreatorID(eventAdminID, clientCreatorID string) string
}

// Ingest orchestrates the inbound event surface: authenticate, resolve
// the client and contact, reconcile tags, then let the engine react.
type Ingest struct {
	auth     Authenticator
	clients  ClientResolver
	contacts ContactResolver
	webhooks WebhookResolver
	engine   *Engine
	log      *logger.Logger
}

// NewIngest creates the event ingest service.
func NewIngest(auth Authenticator, clients ClientResolver, contacts ContactResolver, webhooks WebhookResolver, engine *Engine, log *logger.Logger) *Ingest {
	return &Ingest{auth: auth, clients: clients, contacts: contacts, webhooks: webhooks, engine: engine, log: log}
}

// TagChangeInput is a CRM conversation-updated event.
type TagChangeInput struct {
	Token       string
	IP          string
	AccountID   string
	AccountName string
	AdminID     string
	Contact     contactssvc.ContactInput
	Labels      []string
	Variables   map[string]string
}

// TagChangeResult reports what the event changed. Processed counts the
// sequences the engine evaluated.
type TagChangeResult struct {
	ContactID      uuid.UUID
	ContactCreated bool
	TagsAdded      []string
	TagsRemoved    []string
	TagErrors      int
	Processed      int
	Enrolled       []uuid.UUID
	Stopped        []uuid.UUID
	Skipped        []uuid.UUID
	Failed         []uuid.UUID
	AuthMethod     string
}

// ProcessTagChange handles one tag-change event end to end. Events are
// idempotent: replaying the same payload converges on the same state.
func (i *Ingest) ProcessTagChange(ctx context.Context, input TagChangeInput) (TagChangeResult, error) {
	identity, err := i.auth.Authenticate(ctx, input.Token, input.AccountID, input.IP)
	if err != nil {
		return TagChangeResult{}, err
	}

	client, err := i.clients.ResolveClient(ctx, input.AccountID, input.AccountName, identity.AdminID)
	if err != nil {
		return TagChangeResult{}, err
	}

	contact, created, err := i.contacts.ResolveContact(ctx, client.ID, input.Contact)
	if err != nil {
		return TagChangeResult{}, err
	}

	creatorID := i.contacts.ResolveCreatorID(identity.AdminID, client.CreatorID)
	tags, err := i.contacts.ReconcileTags(ctx, contact, input.Labels, creatorID)
	if err != nil {
		return TagChangeResult{}, err
	}

	outcome, err := i.engine.ProcessTagEvent(ctx, client.ID, contact, input.Labels, input.Variables)
	if err != nil {
		return TagChangeResult{}, err
	}

	i.log.Info("tag event processed",
		"clientId", client.ID, "contactId", contact.ID,
		"tagsAdded", len(tags.Added), "tagsRemoved", len(tags.Removed), "tagErrors", tags.Errors,
		"enrolled", len(outcome.Enrolled), "stopped", len(outcome.Stopped),
		"skipped", len(outcome.Skipped), "failed", len(outcome.Failed))

	return TagChangeResult{
		ContactID:      contact.ID,
		ContactCreated: created,
		TagsAdded:      tags.Added,
		TagsRemoved:    tags.Removed,
		TagErrors:      tags.Errors,
		Processed:      outcome.Processed,
		Enrolled:       outcome.Enrolled,
		Stopped:        outcome.Stopped,
		Skipped:        outcome.Skipped,
		Failed:         outcome.Failed,
		AuthMethod:     authMethod(identity),
	}, nil
}

// TriggerInput is an external enroll-now request. WebhookID addresses the
// sequence by its public webhook handle.
type TriggerInput struct {
	Token       string
	IP          string
	AccountID   string
	AccountName string
	WebhookID   uuid.UUID
	Contact     contactssvc.ContactInput
	Variables   map[string]string
}

func authMethod(identity authsvc.Identity) string {
	if identity.ViaJWT {
		return "admin_jwt"
	}
	return "client_token"
}

// ProcessTrigger enrolls a contact into a specific sequence regardless of
// its start condition.
func (i *Ingest) ProcessTrigger(ctx context.Context, input TriggerInput) (enrolled bool, contactID uuid.UUID, err error) {
	identity, err := i.auth.Authenticate(ctx, input.Token, input.AccountID, input.IP)
	if err != nil {
		return false, uuid.Nil, err
	}

	client, err := i.clients.ResolveClient(ctx, input.AccountID, input.AccountName, identity.AdminID)
	if err != nil {
		return false, uuid.Nil, err
	}

	seq, err := i.webhooks.GetByWebhookID(ctx, input.WebhookID)
	if err != nil {
		return false, uuid.Nil, err
	}

	contact, _, err := i.contacts.ResolveContact(ctx, client.ID, input.Contact)
	if err != nil {
		return false, uuid.Nil, err
	}

	enrolled, err = i.engine.EnrollDirect(ctx, client.ID, seq.ID, contact, input.Variables)
	if err != nil {
		return false, uuid.Nil, err
	}
	return enrolled, contact.ID, nil
}

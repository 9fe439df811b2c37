package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Client is a tenant-like owner entity mapped from an external CRM account.
type Client struct {
	ID                 uuid.UUID
	AccountID          string
	AccountName        string
	CreatorID          string
	CreatorAccountName string
	AuthToken          string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Instance is a messaging channel owned by a client. Sequences belong to an
// instance, and daily stats are counted per instance.
type Instance struct {
	ID        uuid.UUID
	ClientID  uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateClientParams contains parameters for creating a client.
type CreateClientParams struct {
	AccountID          string
	AccountName        string
	CreatorID          string
	CreatorAccountName string
	AuthToken          string
}

// ClientReader provides read operations for clients.
type ClientReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (Client, error)
	// GetByAccountID matches on the external account id. Source data is
	// inconsistent about numeric vs string account ids, so the repository
	// matches the normalized numeric form first and falls back to a raw
	// string comparison.
	GetByAccountID(ctx context.Context, accountID string) (Client, error)
	GetByAuthToken(ctx context.Context, token string) (Client, error)
	List(ctx context.Context) ([]Client, error)
	ListByCreator(ctx context.Context, creatorID string) ([]Client, error)
}

// ClientWriter provides write operations for clients.
type ClientWriter interface {
	Create(ctx context.Context, params CreateClientParams) (Client, error)
	SetAuthToken(ctx context.Context, id uuid.UUID, token string) error
	Update(ctx context.Context, id uuid.UUID, accountName string) (Client, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// InstanceStore provides operations for client instances.
type InstanceStore interface {
	GetInstance(ctx context.Context, id uuid.UUID) (Instance, error)
	ListInstances(ctx context.Context, clientID uuid.UUID) ([]Instance, error)
	ListActiveInstances(ctx context.Context, clientID uuid.UUID) ([]Instance, error)
	CreateInstance(ctx context.Context, clientID uuid.UUID, name string) (Instance, error)
	SetInstanceActive(ctx context.Context, id uuid.UUID, active bool) error
	DeleteInstance(ctx context.Context, id uuid.UUID) error
}

// Repository combines all client repository operations.
type Repository interface {
	ClientReader
	ClientWriter
	InstanceStore
}

// Package service provides business logic for clients and their instances,
// including the idempotent resolve-or-create path used by inbound events.
package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dripline_backend/internal/clients/repository"
	"dripline_backend/internal/clients/transport"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/logger"
)

// Service provides business logic for clients.
type Service struct {
	repo repository.Repository
	log  *logger.Logger
}

// New creates a new clients service.
func New(repo repository.Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// GenerateAuthToken creates a new random client auth token.
// The token is stored as-is; inbound requests are compared in constant time.
func GenerateAuthToken() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "dl_" + hex.EncodeToString(bytes), nil
}

// VerifyToken compares an inbound token against the client's stored token.
func VerifyToken(client repository.Client, token string) bool {
	if client.AuthToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(client.AuthToken), []byte(token)) == 1
}

// ResolveClient maps an external account identity to a client record,
// creating it on first sight. Existing clients that predate token
// enforcement get a token generated lazily on first access.
func (s *Service) ResolveClient(ctx context.Context, accountID, accountName, creatorID string) (repository.Client, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return repository.Client{}, apperr.Validation("accountId is required")
	}

	client, err := s.repo.GetByAccountID(ctx, accountID)
	if err == nil {
		if client.AuthToken == "" {
			token, genErr := GenerateAuthToken()
			if genErr != nil {
				return repository.Client{}, fmt.Errorf("generate auth token: %w", genErr)
			}
			if setErr := s.repo.SetAuthToken(ctx, client.ID, token); setErr != nil {
				return repository.Client{}, setErr
			}
			client.AuthToken = token
			s.log.Info("auth token backfilled for legacy client", "clientId", client.ID)
		}
		return client, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return repository.Client{}, err
	}

	token, err := GenerateAuthToken()
	if err != nil {
		return repository.Client{}, fmt.Errorf("generate auth token: %w", err)
	}

	client, err = s.repo.Create(ctx, repository.CreateClientParams{
		AccountID:          accountID,
		AccountName:        accountName,
		CreatorID:          creatorID,
		CreatorAccountName: accountName,
		AuthToken:          token,
	})
	if err != nil {
		return repository.Client{}, err
	}

	s.log.Info("client created", "clientId", client.ID, "accountId", accountID)
	return client, nil
}

// GetByID retrieves a client.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (transport.ClientResponse, error) {
	client, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.ClientResponse{}, err
	}
	return toClientResponse(client), nil
}

// List retrieves clients visible to the caller. Super-admins see every
// client; admins see only their own.
func (s *Service) List(ctx context.Context, creatorID string, superAdmin bool) ([]transport.ClientResponse, error) {
	var (
		clients []repository.Client
		err     error
	)
	if superAdmin {
		clients, err = s.repo.List(ctx)
	} else {
		clients, err = s.repo.ListByCreator(ctx, creatorID)
	}
	if err != nil {
		return nil, err
	}

	responses := make([]transport.ClientResponse, len(clients))
	for i, c := range clients {
		responses[i] = toClientResponse(c)
	}
	return responses, nil
}

// RotateToken replaces a client's auth token and returns the new value.
func (s *Service) RotateToken(ctx context.Context, id uuid.UUID) (transport.TokenResponse, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return transport.TokenResponse{}, err
	}

	token, err := GenerateAuthToken()
	if err != nil {
		return transport.TokenResponse{}, fmt.Errorf("generate auth token: %w", err)
	}
	if err := s.repo.SetAuthToken(ctx, id, token); err != nil {
		return transport.TokenResponse{}, err
	}

	s.log.Info("client auth token rotated", "clientId", id)
	return transport.TokenResponse{AuthToken: token}, nil
}

// Update changes a client's display name.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req transport.UpdateClientRequest) (transport.ClientResponse, error) {
	client, err := s.repo.Update(ctx, id, req.AccountName)
	if err != nil {
		return transport.ClientResponse{}, err
	}
	return toClientResponse(client), nil
}

// Delete removes a client.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// CreateInstance creates an instance under a client.
func (s *Service) CreateInstance(ctx context.Context, clientID uuid.UUID, req transport.CreateInstanceRequest) (transport.InstanceResponse, error) {
	if _, err := s.repo.GetByID(ctx, clientID); err != nil {
		return transport.InstanceResponse{}, err
	}
	inst, err := s.repo.CreateInstance(ctx, clientID, req.Name)
	if err != nil {
		return transport.InstanceResponse{}, err
	}
	s.log.Info("instance created", "instanceId", inst.ID, "clientId", clientID)
	return toInstanceResponse(inst), nil
}

// ListInstances lists all instances of a client.
func (s *Service) ListInstances(ctx context.Context, clientID uuid.UUID) ([]transport.InstanceResponse, error) {
	instances, err := s.repo.ListInstances(ctx, clientID)
	if err != nil {
		return nil, err
	}
	responses := make([]transport.InstanceResponse, len(instances))
	for i, inst := range instances {
		responses[i] = toInstanceResponse(inst)
	}
	return responses, nil
}

// SetInstanceActive toggles an instance's active flag.
func (s *Service) SetInstanceActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.repo.SetInstanceActive(ctx, id, active)
}

// DeleteInstance removes an instance.
func (s *Service) DeleteInstance(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteInstance(ctx, id)
}

// HasAccess reports whether an admin identity may act on the client.
// Super-admins always have access; admins only on clients they created.
func HasAccess(client repository.Client, creatorID string, superAdmin bool) bool {
	return superAdmin || client.CreatorID == creatorID
}

func toClientResponse(c repository.Client) transport.ClientResponse {
	return transport.ClientResponse{
		ID:                 c.ID,
		AccountID:          c.AccountID,
		AccountName:        c.AccountName,
		CreatorID:          c.CreatorID,
		CreatorAccountName: c.CreatorAccountName,
		HasAuthToken:       c.AuthToken != "",
		CreatedAt:          c.CreatedAt,
	}
}

func toInstanceResponse(inst repository.Instance) transport.InstanceResponse {
	return transport.InstanceResponse{
		ID:       inst.ID,
		ClientID: inst.ClientID,
		Name:     inst.Name,
		Active:   inst.Active,
	}
}

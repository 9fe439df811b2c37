// Package service authenticates inbound event traffic. Two credentials are
// accepted: a global admin JWT, or the per-client auth token issued when
// the client record was created.
package service

import (
	"context"
	"crypto/subtle"

	"github.com/google/uuid"

	"dripline_backend/internal/auth/repository"
	clientsrepo "dripline_backend/internal/clients/repository"
	clientssvc "dripline_backend/internal/clients/service"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/config"
	"dripline_backend/platform/httpkit"
	"dripline_backend/platform/logger"
)

const (
	methodJWT         = "admin_jwt"
	methodClientToken = "client_token"
)

// Identity describes who authenticated an event request.
type Identity struct {
	// AdminID is set when a global JWT was presented.
	AdminID string
	Role    string
	ViaJWT  bool
	// ClientID is set when a per-client token was presented.
	ClientID *uuid.UUID
}

// ClientLookup is the slice of the clients repository the authenticator
// needs.
type ClientLookup interface {
	GetByAuthToken(ctx context.Context, token string) (clientsrepo.Client, error)
	GetByAccountID(ctx context.Context, accountID string) (clientsrepo.Client, error)
}

// Service authenticates event requests and records the attempts.
type Service struct {
	clients ClientLookup
	audit   repository.AuditStore
	jwtCfg  config.JWTConfig
	log     *logger.Logger
}

// New creates a new auth service.
func New(clients ClientLookup, audit repository.AuditStore, jwtCfg config.JWTConfig, log *logger.Logger) *Service {
	return &Service{clients: clients, audit: audit, jwtCfg: jwtCfg, log: log}
}

// Authenticate validates the bearer credential of an event request. A
// super-admin JWT authorizes any account. A plain admin JWT only
// authorizes accounts whose client it created, or accounts not seen
// before (the client is then created owned by that admin). A client
// token only authorizes the account it was issued for; the expected
// client must already exist in that case.
func (s *Service) Authenticate(ctx context.Context, token, accountID, ip string) (Identity, error) {
	if token == "" {
		s.record(ctx, methodClientToken, accountID, nil, false, "missing credential", ip)
		return Identity{}, apperr.Unauthorized("missing credential")
	}

	if adminID, role, err := httpkit.ParseAdminToken(token, s.jwtCfg); err == nil {
		identity := Identity{AdminID: adminID.String(), Role: role, ViaJWT: true}
		if role != httpkit.RoleSuperAdmin {
			client, lookupErr := s.clients.GetByAccountID(ctx, accountID)
			switch {
			case apperr.Is(lookupErr, apperr.KindNotFound):
				// First sight of this account; it will be created
				// owned by the authenticated admin.
			case lookupErr != nil:
				s.record(ctx, methodJWT, accountID, nil, false, "client lookup failed", ip)
				return Identity{}, lookupErr
			case !clientssvc.HasAccess(client, identity.AdminID, false):
				s.record(ctx, methodJWT, accountID, &client.ID, false, "no access to account", ip)
				return Identity{}, apperr.Forbidden("admin has no access to this account")
			default:
				identity.ClientID = &client.ID
			}
		}
		s.record(ctx, methodJWT, accountID, identity.ClientID, true, "", ip)
		return identity, nil
	}

	client, err := s.clients.GetByAuthToken(ctx, token)
	if err != nil {
		s.record(ctx, methodClientToken, accountID, nil, false, "unknown token", ip)
		return Identity{}, apperr.Unauthorized("invalid credential")
	}
	if subtle.ConstantTimeCompare([]byte(client.AccountID), []byte(accountID)) != 1 {
		s.record(ctx, methodClientToken, accountID, &client.ID, false, "account mismatch", ip)
		return Identity{}, apperr.Forbidden("token not valid for this account")
	}

	s.record(ctx, methodClientToken, accountID, &client.ID, true, "", ip)
	return Identity{ClientID: &client.ID}, nil
}

// record writes the audit row best-effort; an audit failure never blocks
// the request.
func (s *Service) record(ctx context.Context, method, accountID string, clientID *uuid.UUID, success bool, reason, ip string) {
	err := s.audit.Record(ctx, repository.AuditEntry{
		Method:    method,
		AccountID: accountID,
		ClientID:  clientID,
		Success:   success,
		Reason:    reason,
		IP:        ip,
	})
	if err != nil {
		s.log.Error("audit write failed", "error", err)
	}
	s.log.AuthEvent(method, accountID, success, reason)
}

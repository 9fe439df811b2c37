// Package repository persists security audit events.
package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEntry is one authentication attempt on the event surface.
type AuditEntry struct {
	Method    string
	AccountID string
	ClientID  *uuid.UUID
	Success   bool
	Reason    string
	IP        string
}

// AuditStore records authentication attempts.
type AuditStore interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Repo implements AuditStore backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

var _ AuditStore = (*Repo)(nil)

// New creates a new audit repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Record inserts an audit row.
func (r *Repo) Record(ctx context.Context, entry AuditEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO security_audit_log (method, account_id, client_id, success, reason, ip)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Method, entry.AccountID, entry.ClientID, entry.Success, entry.Reason, entry.IP)
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

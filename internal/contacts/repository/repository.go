package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/platform/apperr"
)

const contactColumns = `id, client_id, external_id, name, phone, inbox_id, conversation_id, display_id, created_at, updated_at`

// Repo implements Repository backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Repo)(nil)

// New creates a new contacts repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// GetByID retrieves a contact by id.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Contact, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	return scanContact(row, "get contact")
}

// GetByPhone retrieves a contact by its normalized phone within a client.
func (r *Repo) GetByPhone(ctx context.Context, clientID uuid.UUID, phone string) (Contact, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE client_id = $1 AND phone = $2`,
		clientID, phone)
	return scanContact(row, "get contact by phone")
}

// Upsert inserts or refreshes a contact keyed by (client_id, phone).
// Concurrent calls for the same phone converge on a single row; the
// xmax system column distinguishes a fresh insert from an update.
func (r *Repo) Upsert(ctx context.Context, params UpsertContactParams) (Contact, bool, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO contacts (client_id, external_id, name, phone, inbox_id, conversation_id, display_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_id, phone) DO UPDATE SET
			external_id     = EXCLUDED.external_id,
			name            = EXCLUDED.name,
			inbox_id        = EXCLUDED.inbox_id,
			conversation_id = EXCLUDED.conversation_id,
			display_id      = EXCLUDED.display_id,
			updated_at      = now()
		RETURNING `+contactColumns+`, (xmax = 0) AS inserted`,
		params.ClientID, params.ExternalID, params.Name, params.Phone,
		params.InboxID, params.ConversationID, params.DisplayID)

	var c Contact
	var inserted bool
	err := row.Scan(&c.ID, &c.ClientID, &c.ExternalID, &c.Name, &c.Phone,
		&c.InboxID, &c.ConversationID, &c.DisplayID, &c.CreatedAt, &c.UpdatedAt, &inserted)
	if err != nil {
		return Contact{}, false, fmt.Errorf("upsert contact: %w", err)
	}
	return c, inserted, nil
}

// ListByClient retrieves all contacts of a client.
func (r *Repo) ListByClient(ctx context.Context, clientID uuid.UUID) ([]Contact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE client_id = $1 ORDER BY created_at DESC`,
		clientID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.ClientID, &c.ExternalID, &c.Name, &c.Phone,
			&c.InboxID, &c.ConversationID, &c.DisplayID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Delete removes a contact.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("contact not found")
	}
	return nil
}

// EnsureTag inserts the tag if it does not exist yet and returns its id.
func (r *Repo) EnsureTag(ctx context.Context, creatorID, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tags (creator_id, name) VALUES ($1, $2)
		ON CONFLICT (creator_id, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		creatorID, name).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("ensure tag: %w", err)
	}
	return id, nil
}

// ListContactTags returns the names of all tags on a contact.
func (r *Repo) ListContactTags(ctx context.Context, contactID uuid.UUID) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.name FROM contact_tags ct
		JOIN tags t ON t.id = ct.tag_id
		WHERE ct.contact_id = $1
		ORDER BY t.name`,
		contactID)
	if err != nil {
		return nil, fmt.Errorf("list contact tags: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AddContactTag links a tag to a contact. Re-adding is a no-op.
func (r *Repo) AddContactTag(ctx context.Context, contactID, tagID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO contact_tags (contact_id, tag_id) VALUES ($1, $2)
		ON CONFLICT (contact_id, tag_id) DO NOTHING`,
		contactID, tagID)
	if err != nil {
		return fmt.Errorf("add contact tag: %w", err)
	}
	return nil
}

// RemoveContactTag unlinks a tag from a contact by name. Removing an
// absent tag is a no-op.
func (r *Repo) RemoveContactTag(ctx context.Context, contactID uuid.UUID, tagName string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM contact_tags ct
		USING tags t
		WHERE ct.tag_id = t.id AND ct.contact_id = $1 AND t.name = $2`,
		contactID, tagName)
	if err != nil {
		return fmt.Errorf("remove contact tag: %w", err)
	}
	return nil
}

func scanContact(row pgx.Row, op string) (Contact, error) {
	var c Contact
	err := row.Scan(&c.ID, &c.ClientID, &c.ExternalID, &c.Name, &c.Phone,
		&c.InboxID, &c.ConversationID, &c.DisplayID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, apperr.NotFound("contact not found")
	}
	if err != nil {
		return Contact{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

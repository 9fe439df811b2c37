package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/platform/apperr"
)

const (
	clientNotFoundMessage   = "client not found"
	instanceNotFoundMessage = "instance not found"

	clientColumns = `id, account_id, account_name, creator_id, creator_account_name, auth_token, created_at, updated_at`
)

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new clients repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// GetByID retrieves a client by its ID.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Client, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	return scanClient(row, "get client by id")
}

// GetByAccountID matches numerically first, then falls back to a raw string
// comparison. The numeric normalization strips formatting differences
// ("0042" vs "42") the upstream CRM produces inconsistently.
func (r *Repo) GetByAccountID(ctx context.Context, accountID string) (Client, error) {
	if n, err := strconv.ParseInt(accountID, 10, 64); err == nil {
		row := r.pool.QueryRow(ctx,
			`SELECT `+clientColumns+` FROM clients
			 WHERE account_id ~ '^[0-9]+$' AND account_id::bigint = $1`, n)
		client, err := scanClient(row, "get client by numeric account id")
		if err == nil {
			return client, nil
		}
		if !apperr.Is(err, apperr.KindNotFound) {
			return Client{}, err
		}
	}

	row := r.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE account_id = $1`, accountID)
	return scanClient(row, "get client by account id")
}

// GetByAuthToken retrieves a client by its inbound auth token.
func (r *Repo) GetByAuthToken(ctx context.Context, token string) (Client, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE auth_token = $1 AND auth_token <> ''`, token)
	return scanClient(row, "get client by auth token")
}

// List retrieves all clients ordered by account name.
func (r *Repo) List(ctx context.Context) ([]Client, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY account_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

// ListByCreator retrieves all clients owned by a creator (admin).
func (r *Repo) ListByCreator(ctx context.Context, creatorID string) ([]Client, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE creator_id = $1 ORDER BY account_name ASC`, creatorID)
	if err != nil {
		return nil, fmt.Errorf("list clients by creator: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

// Create creates a client. Duplicate (creator_id, account_id) inserts race
// to the same row: the conflict is resolved by returning the existing row
// so concurrent tag-change events never produce two clients.
func (r *Repo) Create(ctx context.Context, params CreateClientParams) (Client, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO clients (account_id, account_name, creator_id, creator_account_name, auth_token)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (creator_id, account_id) DO UPDATE SET account_name = EXCLUDED.account_name
		RETURNING `+clientColumns,
		params.AccountID, params.AccountName, params.CreatorID, params.CreatorAccountName, params.AuthToken)
	return scanClient(row, "create client")
}

// SetAuthToken persists a (re)generated auth token.
func (r *Repo) SetAuthToken(ctx context.Context, id uuid.UUID, token string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE clients SET auth_token = $2, updated_at = now() WHERE id = $1`, id, token)
	if err != nil {
		return fmt.Errorf("set client auth token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(clientNotFoundMessage)
	}
	return nil
}

// Update changes a client's display name.
func (r *Repo) Update(ctx context.Context, id uuid.UUID, accountName string) (Client, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE clients SET account_name = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+clientColumns, id, accountName)
	return scanClient(row, "update client")
}

// Delete removes a client.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperr.Conflict("client still has contacts or instances")
		}
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(clientNotFoundMessage)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (r *Repo) GetInstance(ctx context.Context, id uuid.UUID) (Instance, error) {
	var inst Instance
	err := r.pool.QueryRow(ctx, `
		SELECT id, client_id, name, active, created_at, updated_at
		FROM instances WHERE id = $1`, id).
		Scan(&inst.ID, &inst.ClientID, &inst.Name, &inst.Active, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instance{}, apperr.NotFound(instanceNotFoundMessage)
		}
		return Instance{}, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// ListInstances retrieves all instances for a client.
func (r *Repo) ListInstances(ctx context.Context, clientID uuid.UUID) ([]Instance, error) {
	return r.listInstances(ctx, clientID, false)
}

// ListActiveInstances retrieves only active instances for a client.
func (r *Repo) ListActiveInstances(ctx context.Context, clientID uuid.UUID) ([]Instance, error) {
	return r.listInstances(ctx, clientID, true)
}

func (r *Repo) listInstances(ctx context.Context, clientID uuid.UUID, activeOnly bool) ([]Instance, error) {
	query := `
		SELECT id, client_id, name, active, created_at, updated_at
		FROM instances
		WHERE client_id = $1 AND ($2::boolean = false OR active = true)
		ORDER BY name ASC`

	rows, err := r.pool.Query(ctx, query, clientID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		var inst Instance
		if err := rows.Scan(&inst.ID, &inst.ClientID, &inst.Name, &inst.Active, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// CreateInstance creates an active instance under a client.
func (r *Repo) CreateInstance(ctx context.Context, clientID uuid.UUID, name string) (Instance, error) {
	var inst Instance
	err := r.pool.QueryRow(ctx, `
		INSERT INTO instances (client_id, name, active)
		VALUES ($1, $2, true)
		RETURNING id, client_id, name, active, created_at, updated_at`, clientID, name).
		Scan(&inst.ID, &inst.ClientID, &inst.Name, &inst.Active, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return Instance{}, fmt.Errorf("create instance: %w", err)
	}
	return inst, nil
}

// SetInstanceActive toggles the active flag.
func (r *Repo) SetInstanceActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE instances SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set instance active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(instanceNotFoundMessage)
	}
	return nil
}

// DeleteInstance removes an instance.
func (r *Repo) DeleteInstance(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperr.Conflict("instance still has sequences")
		}
		return fmt.Errorf("delete instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound(instanceNotFoundMessage)
	}
	return nil
}

func scanClient(row pgx.Row, op string) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.AccountID, &c.AccountName, &c.CreatorID, &c.CreatorAccountName,
		&c.AuthToken, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Client{}, apperr.NotFound(clientNotFoundMessage)
		}
		return Client{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func scanClients(rows pgx.Rows) ([]Client, error) {
	var clients []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.AccountID, &c.AccountName, &c.CreatorID, &c.CreatorAccountName,
			&c.AuthToken, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

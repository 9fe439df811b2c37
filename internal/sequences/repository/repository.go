package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/internal/sequences/domain"
	"dripline_backend/platform/apperr"
)

const sequenceColumns = `id, instance_id, name, webhook_id, start_condition, stop_condition, active, created_at, updated_at`

const stageColumns = `id, sequence_id, name, order_index, delay_amount, delay_unit, type, content, active`

// Repo implements Repository backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Repo)(nil)

// New creates a new sequences repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// GetByID retrieves a sequence.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Sequence, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE id = $1`, id)
	seq, err := scanSequence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sequence{}, apperr.NotFound("sequence not found")
	}
	if err != nil {
		return Sequence{}, fmt.Errorf("get sequence: %w", err)
	}
	return seq, nil
}

// GetByWebhookID retrieves the sequence behind a trigger webhook.
func (r *Repo) GetByWebhookID(ctx context.Context, webhookID uuid.UUID) (Sequence, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE webhook_id = $1`, webhookID)
	seq, err := scanSequence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sequence{}, apperr.NotFound("sequence not found")
	}
	if err != nil {
		return Sequence{}, fmt.Errorf("get sequence by webhook: %w", err)
	}
	return seq, nil
}

// ListByInstance retrieves all sequences of an instance.
func (r *Repo) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]Sequence, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sequenceColumns+` FROM sequences WHERE instance_id = $1 ORDER BY created_at`,
		instanceID)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	return collectSequences(rows)
}

// ListActiveByClient retrieves active sequences on active instances of a
// client. This is the working set the engine evaluates on every tag event.
func (r *Repo) ListActiveByClient(ctx context.Context, clientID uuid.UUID) ([]Sequence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.instance_id, s.name, s.webhook_id, s.start_condition, s.stop_condition, s.active, s.created_at, s.updated_at
		FROM sequences s
		JOIN instances i ON i.id = s.instance_id
		WHERE i.client_id = $1 AND i.active AND s.active
		ORDER BY s.created_at`,
		clientID)
	if err != nil {
		return nil, fmt.Errorf("list active sequences: %w", err)
	}
	return collectSequences(rows)
}

// Create inserts a sequence. New sequences start active.
func (r *Repo) Create(ctx context.Context, params CreateSequenceParams) (Sequence, error) {
	start, stop, err := marshalConditions(params.StartCondition, params.StopCondition)
	if err != nil {
		return Sequence{}, err
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO sequences (instance_id, name, start_condition, stop_condition, active)
		VALUES ($1, $2, $3, $4, true)
		RETURNING `+sequenceColumns,
		params.InstanceID, params.Name, start, stop)
	seq, err := scanSequence(row)
	if err != nil {
		return Sequence{}, fmt.Errorf("create sequence: %w", err)
	}
	return seq, nil
}

// Update changes a sequence's name and conditions.
func (r *Repo) Update(ctx context.Context, id uuid.UUID, params UpdateSequenceParams) (Sequence, error) {
	start, stop, err := marshalConditions(params.StartCondition, params.StopCondition)
	if err != nil {
		return Sequence{}, err
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE sequences
		SET name = $2, start_condition = $3, stop_condition = $4, updated_at = now()
		WHERE id = $1
		RETURNING `+sequenceColumns,
		id, params.Name, start, stop)
	seq, err := scanSequence(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sequence{}, apperr.NotFound("sequence not found")
	}
	if err != nil {
		return Sequence{}, fmt.Errorf("update sequence: %w", err)
	}
	return seq, nil
}

// SetActive toggles a sequence.
func (r *Repo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE sequences SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("set sequence active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("sequence not found")
	}
	return nil
}

// Delete removes a sequence and everything hanging off it.
func (r *Repo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sequences WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sequence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("sequence not found")
	}
	return nil
}

// GetStage retrieves a stage, active or not.
func (r *Repo) GetStage(ctx context.Context, id uuid.UUID) (Stage, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+stageColumns+` FROM sequence_stages WHERE id = $1`, id)
	var s Stage
	err := row.Scan(&s.ID, &s.SequenceID, &s.Name, &s.OrderIndex,
		&s.DelayAmount, &s.DelayUnit, &s.Type, &s.Content, &s.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stage{}, apperr.NotFound("stage not found")
	}
	if err != nil {
		return Stage{}, fmt.Errorf("get stage: %w", err)
	}
	return s, nil
}

// ListStages retrieves the active stages of a sequence in order.
func (r *Repo) ListStages(ctx context.Context, sequenceID uuid.UUID) ([]Stage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+stageColumns+` FROM sequence_stages WHERE sequence_id = $1 AND active ORDER BY order_index`,
		sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.SequenceID, &s.Name, &s.OrderIndex,
			&s.DelayAmount, &s.DelayUnit, &s.Type, &s.Content, &s.Active); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

// ReplaceStages swaps a sequence's stage list transactionally. Old stages
// are deactivated first so the new list can take over their order slots,
// then progress and undelivered messages are repointed to the closest
// matching new stage.
func (r *Repo) ReplaceStages(ctx context.Context, sequenceID uuid.UUID, incoming []StageInput) ([]Stage, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("replace stages: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	old, err := listActiveStagesTx(ctx, tx, sequenceID)
	if err != nil {
		return nil, err
	}
	if len(old) > 0 {
		oldIDs := make([]uuid.UUID, len(old))
		for i, s := range old {
			oldIDs[i] = s.ID
		}
		if _, err := tx.Exec(ctx,
			`UPDATE sequence_stages SET active = false WHERE id = ANY($1)`, oldIDs); err != nil {
			return nil, fmt.Errorf("replace stages: deactivate old: %w", err)
		}
	}

	created := make([]Stage, 0, len(incoming))
	for _, in := range incoming {
		row := tx.QueryRow(ctx, `
			INSERT INTO sequence_stages (sequence_id, name, order_index, delay_amount, delay_unit, type, content, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, true)
			RETURNING `+stageColumns,
			sequenceID, in.Name, in.OrderIndex, in.DelayAmount, in.DelayUnit, in.Type, in.Content)
		var s Stage
		if err := row.Scan(&s.ID, &s.SequenceID, &s.Name, &s.OrderIndex,
			&s.DelayAmount, &s.DelayUnit, &s.Type, &s.Content, &s.Active); err != nil {
			return nil, fmt.Errorf("replace stages: insert: %w", err)
		}
		created = append(created, s)
	}

	for oldID, newID := range ResolveStageMapping(old, created, incoming) {
		if _, err := tx.Exec(ctx,
			`UPDATE contact_sequences SET current_stage_id = $2 WHERE current_stage_id = $1`,
			oldID, newID); err != nil {
			return nil, fmt.Errorf("replace stages: repoint enrollments: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE stage_progress SET stage_id = $2 WHERE stage_id = $1`,
			oldID, newID); err != nil {
			return nil, fmt.Errorf("replace stages: repoint progress: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE scheduled_messages SET stage_id = $2 WHERE stage_id = $1 AND status IN ('pending', 'processing')`,
			oldID, newID); err != nil {
			return nil, fmt.Errorf("replace stages: repoint messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("replace stages: commit: %w", err)
	}
	return created, nil
}

// ListForSequence retrieves the sequence's windows plus the client-wide
// ones.
func (r *Repo) ListForSequence(ctx context.Context, clientID, sequenceID uuid.UUID) ([]Restriction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_id, sequence_id, name, active, days, start_hour, start_minute, end_hour, end_minute
		FROM time_restrictions
		WHERE client_id = $1 AND (sequence_id = $2 OR sequence_id IS NULL)`,
		clientID, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("list restrictions: %w", err)
	}
	return collectRestrictions(rows)
}

// ListByClient retrieves all restrictions of a client.
func (r *Repo) ListByClient(ctx context.Context, clientID uuid.UUID) ([]Restriction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_id, sequence_id, name, active, days, start_hour, start_minute, end_hour, end_minute
		FROM time_restrictions
		WHERE client_id = $1
		ORDER BY name`,
		clientID)
	if err != nil {
		return nil, fmt.Errorf("list restrictions: %w", err)
	}
	return collectRestrictions(rows)
}

// CreateRestriction inserts a time window.
func (r *Repo) CreateRestriction(ctx context.Context, res Restriction) (Restriction, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO time_restrictions (client_id, sequence_id, name, active, days, start_hour, start_minute, end_hour, end_minute)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		res.ClientID, res.SequenceID, res.Name, res.Active, weekdaysToInts(res.Days),
		res.StartHour, res.StartMinute, res.EndHour, res.EndMinute)
	if err := row.Scan(&res.ID); err != nil {
		return Restriction{}, fmt.Errorf("create restriction: %w", err)
	}
	res.Scope = restrictionScope(res.SequenceID)
	return res, nil
}

// UpdateRestriction rewrites a time window.
func (r *Repo) UpdateRestriction(ctx context.Context, res Restriction) (Restriction, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE time_restrictions
		SET name = $2, active = $3, days = $4, start_hour = $5, start_minute = $6, end_hour = $7, end_minute = $8
		WHERE id = $1`,
		res.ID, res.Name, res.Active, weekdaysToInts(res.Days),
		res.StartHour, res.StartMinute, res.EndHour, res.EndMinute)
	if err != nil {
		return Restriction{}, fmt.Errorf("update restriction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Restriction{}, apperr.NotFound("restriction not found")
	}
	return res, nil
}

// DeleteRestriction removes a time window.
func (r *Repo) DeleteRestriction(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM time_restrictions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete restriction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("restriction not found")
	}
	return nil
}

func listActiveStagesTx(ctx context.Context, tx pgx.Tx, sequenceID uuid.UUID) ([]Stage, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+stageColumns+` FROM sequence_stages WHERE sequence_id = $1 AND active ORDER BY order_index`,
		sequenceID)
	if err != nil {
		return nil, fmt.Errorf("replace stages: list old: %w", err)
	}
	defer rows.Close()

	var stages []Stage
	for rows.Next() {
		var s Stage
		if err := rows.Scan(&s.ID, &s.SequenceID, &s.Name, &s.OrderIndex,
			&s.DelayAmount, &s.DelayUnit, &s.Type, &s.Content, &s.Active); err != nil {
			return nil, fmt.Errorf("replace stages: scan old: %w", err)
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func scanSequence(row pgx.Row) (Sequence, error) {
	var (
		s           Sequence
		start, stop []byte
	)
	if err := row.Scan(&s.ID, &s.InstanceID, &s.Name, &s.WebhookID, &start, &stop,
		&s.Active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return Sequence{}, err
	}

	var err error
	if s.StartCondition, err = domain.ParseCondition(start); err != nil {
		return Sequence{}, fmt.Errorf("parse start condition: %w", err)
	}
	if s.StopCondition, err = domain.ParseCondition(stop); err != nil {
		return Sequence{}, fmt.Errorf("parse stop condition: %w", err)
	}
	return s, nil
}

func collectSequences(rows pgx.Rows) ([]Sequence, error) {
	defer rows.Close()

	var sequences []Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		sequences = append(sequences, seq)
	}
	return sequences, rows.Err()
}

func collectRestrictions(rows pgx.Rows) ([]Restriction, error) {
	defer rows.Close()

	var restrictions []Restriction
	for rows.Next() {
		var (
			res  Restriction
			days []int32
		)
		if err := rows.Scan(&res.ID, &res.ClientID, &res.SequenceID, &res.Name, &res.Active,
			&days, &res.StartHour, &res.StartMinute, &res.EndHour, &res.EndMinute); err != nil {
			return nil, fmt.Errorf("scan restriction: %w", err)
		}
		res.Days = intsToWeekdays(days)
		res.Scope = restrictionScope(res.SequenceID)
		restrictions = append(restrictions, res)
	}
	return restrictions, rows.Err()
}

func marshalConditions(start, stop domain.Condition) (startJSON, stopJSON []byte, err error) {
	if startJSON, err = json.Marshal(start); err != nil {
		return nil, nil, fmt.Errorf("marshal start condition: %w", err)
	}
	if stopJSON, err = json.Marshal(stop); err != nil {
		return nil, nil, fmt.Errorf("marshal stop condition: %w", err)
	}
	return startJSON, stopJSON, nil
}

func restrictionScope(sequenceID *uuid.UUID) domain.RestrictionScope {
	if sequenceID == nil {
		return domain.ScopeGlobal
	}
	return domain.ScopeLocal
}

func weekdaysToInts(days []time.Weekday) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func intsToWeekdays(days []int32) []time.Weekday {
	out := make([]time.Weekday, len(days))
	for i, d := range days {
		out[i] = time.Weekday(d)
	}
	return out
}

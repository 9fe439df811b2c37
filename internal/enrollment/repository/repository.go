package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"dripline_backend/internal/enrollment/domain"
	"dripline_backend/platform/apperr"
)

const enrollmentColumns = `id, contact_id, sequence_id, current_stage_id, current_stage_index, status, started_at, completed_at, removed_at, last_message_at, updated_at`

const messageColumns = `id, enrollment_id, instance_id, sequence_id, stage_id, contact_id, phone, type, content, typebot_stage, status, raw_scheduled_at, scheduled_at, attempts, last_error, processing_at, sent_at`

// Repo implements Repository backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Repo)(nil)

// New creates a new enrollment repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// GetEnrollment retrieves an enrollment.
func (r *Repo) GetEnrollment(ctx context.Context, id uuid.UUID) (Enrollment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+enrollmentColumns+` FROM contact_sequences WHERE id = $1`, id)
	return scanEnrollment(row, "get enrollment")
}

// FindEngaged retrieves the contact's active or paused enrollment in a
// sequence.
func (r *Repo) FindEngaged(ctx context.Context, contactID, sequenceID uuid.UUID) (Enrollment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+enrollmentColumns+` FROM contact_sequences
		WHERE contact_id = $1 AND sequence_id = $2 AND status IN ('active', 'paused')`,
		contactID, sequenceID)
	return scanEnrollment(row, "find engaged enrollment")
}

// HasAnyEnrollment reports whether the contact was ever enrolled in the
// sequence.
func (r *Repo) HasAnyEnrollment(ctx context.Context, contactID, sequenceID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM contact_sequences WHERE contact_id = $1 AND sequence_id = $2
		)`,
		contactID, sequenceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check enrollment history: %w", err)
	}
	return exists, nil
}

// CreateEnrollment inserts an active enrollment. The partial unique index
// on engaged enrollments turns a concurrent duplicate into a conflict.
func (r *Repo) CreateEnrollment(ctx context.Context, contactID, sequenceID uuid.UUID, stageID *uuid.UUID) (Enrollment, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO contact_sequences (contact_id, sequence_id, current_stage_id, current_stage_index, status)
		VALUES ($1, $2, $3, COALESCE((SELECT order_index FROM sequence_stages WHERE id = $3), 0), 'active')
		RETURNING `+enrollmentColumns,
		contactID, sequenceID, stageID)
	e, err := scanEnrollment(row, "create enrollment")
	if isUniqueViolation(err) {
		return Enrollment{}, apperr.Conflict("contact already enrolled in sequence")
	}
	return e, err
}

// SetEnrollmentStatus updates an enrollment's status and stamps the
// matching lifecycle timestamp.
func (r *Repo) SetEnrollmentStatus(ctx context.Context, id uuid.UUID, status domain.EnrollmentStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contact_sequences SET
			status       = $2,
			completed_at = CASE WHEN $2 = 'completed' THEN now() ELSE completed_at END,
			removed_at   = CASE WHEN $2 IN ('removed', 'stopped') THEN now() ELSE removed_at END,
			updated_at   = now()
		WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("set enrollment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("enrollment not found")
	}
	return nil
}

// SetCurrentStage moves an enrollment to another stage, keeping the
// denormalized stage index in step.
func (r *Repo) SetCurrentStage(ctx context.Context, id uuid.UUID, stageID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE contact_sequences cs SET
			current_stage_id    = s.id,
			current_stage_index = s.order_index,
			updated_at          = now()
		FROM sequence_stages s
		WHERE cs.id = $1 AND s.id = $2`,
		id, stageID)
	if err != nil {
		return fmt.Errorf("set current stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("enrollment not found")
	}
	return nil
}

// ListByContact retrieves all enrollments of a contact.
func (r *Repo) ListByContact(ctx context.Context, contactID uuid.UUID) ([]Enrollment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+enrollmentColumns+` FROM contact_sequences WHERE contact_id = $1 ORDER BY started_at DESC`,
		contactID)
	if err != nil {
		return nil, fmt.Errorf("list enrollments by contact: %w", err)
	}
	return collectEnrollments(rows)
}

// ListBySequence retrieves enrollments of a sequence, optionally filtered
// by status.
func (r *Repo) ListBySequence(ctx context.Context, sequenceID uuid.UUID, status string) ([]Enrollment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+enrollmentColumns+` FROM contact_sequences
		WHERE sequence_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC`,
		sequenceID, status)
	if err != nil {
		return nil, fmt.Errorf("list enrollments by sequence: %w", err)
	}
	return collectEnrollments(rows)
}

// CreateProgress opens a pending progress row for a stage. Revisiting a
// stage reopens its existing row.
func (r *Repo) CreateProgress(ctx context.Context, enrollmentID, stageID uuid.UUID) (StageProgress, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO stage_progress (enrollment_id, stage_id, status)
		VALUES ($1, $2, 'pending')
		ON CONFLICT (enrollment_id, stage_id)
		DO UPDATE SET status = 'pending', completed_at = NULL
		RETURNING id, enrollment_id, stage_id, status, completed_at`,
		enrollmentID, stageID)
	var p StageProgress
	if err := row.Scan(&p.ID, &p.EnrollmentID, &p.StageID, &p.Status, &p.CompletedAt); err != nil {
		return StageProgress{}, fmt.Errorf("create progress: %w", err)
	}
	return p, nil
}

// EnsureSkippedProgress records a stage as skipped unless the enrollment
// already has a progress row for it.
func (r *Repo) EnsureSkippedProgress(ctx context.Context, enrollmentID, stageID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO stage_progress (enrollment_id, stage_id, status, completed_at)
		VALUES ($1, $2, 'skipped', now())
		ON CONFLICT (enrollment_id, stage_id) DO NOTHING`,
		enrollmentID, stageID)
	if err != nil {
		return fmt.Errorf("ensure skipped progress: %w", err)
	}
	return nil
}

// CloseProgress finishes the pending progress of one stage. Rows already
// closed are left alone so a completed stage is never downgraded.
func (r *Repo) CloseProgress(ctx context.Context, enrollmentID, stageID uuid.UUID, status domain.ProgressStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE stage_progress SET status = $3, completed_at = now()
		WHERE enrollment_id = $1 AND stage_id = $2 AND status = 'pending'`,
		enrollmentID, stageID, status)
	if err != nil {
		return fmt.Errorf("close progress: %w", err)
	}
	return nil
}

// CloseAllPendingProgress finishes every pending progress row of an
// enrollment.
func (r *Repo) CloseAllPendingProgress(ctx context.Context, enrollmentID uuid.UUID, status domain.ProgressStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE stage_progress SET status = $2, completed_at = now()
		WHERE enrollment_id = $1 AND status = 'pending'`,
		enrollmentID, status)
	if err != nil {
		return fmt.Errorf("close pending progress: %w", err)
	}
	return nil
}

// ListProgress retrieves the progress rows of an enrollment.
func (r *Repo) ListProgress(ctx context.Context, enrollmentID uuid.UUID) ([]StageProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, enrollment_id, stage_id, status, completed_at
		FROM stage_progress WHERE enrollment_id = $1`,
		enrollmentID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var progress []StageProgress
	for rows.Next() {
		var p StageProgress
		if err := rows.Scan(&p.ID, &p.EnrollmentID, &p.StageID, &p.Status, &p.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		progress = append(progress, p)
	}
	return progress, rows.Err()
}

// GetMessage retrieves a scheduled message.
func (r *Repo) GetMessage(ctx context.Context, id uuid.UUID) (ScheduledMessage, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+` FROM scheduled_messages WHERE id = $1`, id)
	return scanMessage(row, "get message")
}

// CreateMessage queues a stage message for delivery.
func (r *Repo) CreateMessage(ctx context.Context, params CreateMessageParams) (ScheduledMessage, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO scheduled_messages (enrollment_id, instance_id, sequence_id, stage_id, contact_id, phone, type, content, typebot_stage, status, raw_scheduled_at, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10, $10)
		RETURNING `+messageColumns,
		params.EnrollmentID, params.InstanceID, params.SequenceID, params.StageID,
		params.ContactID, params.Phone, params.Type, params.Content, params.TypebotStage, params.ScheduledAt)
	return scanMessage(row, "create message")
}

// ClaimDue moves due pending messages to processing. SKIP LOCKED keeps
// concurrent dispatchers from claiming the same rows.
func (r *Repo) ClaimDue(ctx context.Context, limit int) ([]ScheduledMessage, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE scheduled_messages SET status = 'processing', processing_at = now()
		WHERE id IN (
			SELECT id FROM scheduled_messages
			WHERE status = 'pending' AND scheduled_at <= now()
			ORDER BY scheduled_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+messageColumns,
		limit)
	if err != nil {
		return nil, fmt.Errorf("claim due messages: %w", err)
	}
	defer rows.Close()

	var messages []ScheduledMessage
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ReleaseMessage returns a processing message to pending.
func (r *Repo) ReleaseMessage(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages SET status = 'pending', processing_at = NULL
		WHERE id = $1 AND status = 'processing'`,
		id)
	if err != nil {
		return fmt.Errorf("release message: %w", err)
	}
	return nil
}

// MarkSent finishes a message successfully.
func (r *Repo) MarkSent(ctx context.Context, id uuid.UUID) (ScheduledMessage, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE scheduled_messages SET status = 'sent', sent_at = now(), last_error = ''
		WHERE id = $1 AND status = 'processing'
		RETURNING `+messageColumns,
		id)
	m, err := scanMessage(row, "mark sent")
	if apperr.Is(err, apperr.KindNotFound) {
		return ScheduledMessage{}, apperr.Conflict("message is not processing")
	}
	return m, err
}

// MarkFailed records a failed attempt.
func (r *Repo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (ScheduledMessage, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE scheduled_messages SET status = 'failed', attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND status = 'processing'
		RETURNING `+messageColumns,
		id, reason)
	m, err := scanMessage(row, "mark failed")
	if apperr.Is(err, apperr.KindNotFound) {
		return ScheduledMessage{}, apperr.Conflict("message is not processing")
	}
	return m, err
}

// MarkPersistentError retires a message after exhausted retries.
func (r *Repo) MarkPersistentError(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE scheduled_messages SET status = 'persistent_error' WHERE id = $1 AND status = 'failed'`,
		id)
	if err != nil {
		return fmt.Errorf("mark persistent error: %w", err)
	}
	return nil
}

// RetryMessage flips a failed message back to pending.
func (r *Repo) RetryMessage(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages SET status = 'pending', processing_at = NULL, scheduled_at = now()
		WHERE id = $1 AND status = 'failed'`,
		id)
	if err != nil {
		return fmt.Errorf("retry message: %w", err)
	}
	return nil
}

// StopPendingMessages stops all undelivered messages of an enrollment.
func (r *Repo) StopPendingMessages(ctx context.Context, enrollmentID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages SET status = 'stopped'
		WHERE enrollment_id = $1 AND status IN ('pending', 'processing', 'failed')`,
		enrollmentID)
	if err != nil {
		return 0, fmt.Errorf("stop pending messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeletePendingMessages removes undelivered messages of an enrollment,
// used before rescheduling from a new stage.
func (r *Repo) DeletePendingMessages(ctx context.Context, enrollmentID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM scheduled_messages
		WHERE enrollment_id = $1 AND status IN ('pending', 'processing', 'failed')`,
		enrollmentID)
	if err != nil {
		return 0, fmt.Errorf("delete pending messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TouchLastMessage stamps the enrollment's last delivered message time.
func (r *Repo) TouchLastMessage(ctx context.Context, enrollmentID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE contact_sequences SET last_message_at = now(), updated_at = now() WHERE id = $1`,
		enrollmentID)
	if err != nil {
		return fmt.Errorf("touch last message: %w", err)
	}
	return nil
}

// RequeueStuckProcessing returns messages stuck in processing longer than
// ttl back to pending. Covers dispatchers that died mid-delivery.
func (r *Repo) RequeueStuckProcessing(ctx context.Context, ttl time.Duration) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE scheduled_messages SET status = 'pending', processing_at = NULL
		WHERE status = 'processing' AND processing_at < now() - $1::interval`,
		ttl.String())
	if err != nil {
		return 0, fmt.Errorf("requeue stuck messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanEnrollment(row pgx.Row, op string) (Enrollment, error) {
	var e Enrollment
	err := row.Scan(&e.ID, &e.ContactID, &e.SequenceID, &e.CurrentStageID, &e.CurrentStageIndex,
		&e.Status, &e.StartedAt, &e.CompletedAt, &e.RemovedAt, &e.LastMessageAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Enrollment{}, apperr.NotFound("enrollment not found")
	}
	if err != nil {
		return Enrollment{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

func collectEnrollments(rows pgx.Rows) ([]Enrollment, error) {
	defer rows.Close()

	var enrollments []Enrollment
	for rows.Next() {
		var e Enrollment
		if err := rows.Scan(&e.ID, &e.ContactID, &e.SequenceID, &e.CurrentStageID, &e.CurrentStageIndex,
			&e.Status, &e.StartedAt, &e.CompletedAt, &e.RemovedAt, &e.LastMessageAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}
	return enrollments, rows.Err()
}

func scanMessage(row pgx.Row, op string) (ScheduledMessage, error) {
	var m ScheduledMessage
	err := row.Scan(&m.ID, &m.EnrollmentID, &m.InstanceID, &m.SequenceID, &m.StageID,
		&m.ContactID, &m.Phone, &m.Type, &m.Content, &m.TypebotStage, &m.Status,
		&m.RawScheduledAt, &m.ScheduledAt, &m.Attempts, &m.LastError, &m.ProcessingAt, &m.SentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScheduledMessage{}, apperr.NotFound("message not found")
	}
	if err != nil {
		return ScheduledMessage{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func scanMessageRow(rows pgx.Rows) (ScheduledMessage, error) {
	var m ScheduledMessage
	if err := rows.Scan(&m.ID, &m.EnrollmentID, &m.InstanceID, &m.SequenceID, &m.StageID,
		&m.ContactID, &m.Phone, &m.Type, &m.Content, &m.TypebotStage, &m.Status,
		&m.RawScheduledAt, &m.ScheduledAt, &m.Attempts, &m.LastError, &m.ProcessingAt, &m.SentAt); err != nil {
		return ScheduledMessage{}, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

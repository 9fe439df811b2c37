// Package repository provides persistence for enrollments, stage progress
// and scheduled messages.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dripline_backend/internal/enrollment/domain"
)

// Enrollment tracks a contact moving through a sequence. At most one
// engaged (active or paused) enrollment exists per contact and sequence;
// the database enforces this with a partial unique index.
type Enrollment struct {
	ID                uuid.UUID
	ContactID         uuid.UUID
	SequenceID        uuid.UUID
	CurrentStageID    *uuid.UUID
	CurrentStageIndex int
	Status            domain.EnrollmentStatus
	StartedAt         time.Time
	CompletedAt       *time.Time
	RemovedAt         *time.Time
	LastMessageAt     *time.Time
	UpdatedAt         time.Time
}

// StageProgress records the outcome of one stage for one enrollment.
type StageProgress struct {
	ID           uuid.UUID
	EnrollmentID uuid.UUID
	StageID      uuid.UUID
	Status       domain.ProgressStatus
	CompletedAt  *time.Time
}

// ScheduledMessage is a stage message queued for delivery. Rows are
// denormalized with phone and content so the dispatcher needs no joins.
type ScheduledMessage struct {
	ID           uuid.UUID
	EnrollmentID uuid.UUID
	InstanceID   uuid.UUID
	SequenceID   uuid.UUID
	StageID      uuid.UUID
	ContactID    uuid.UUID
	Phone        string
	Type         string
	Content      string
	TypebotStage string
	Status       domain.MessageStatus
	// RawScheduledAt keeps the originally computed send time; retries move
	// ScheduledAt but never this.
	RawScheduledAt time.Time
	ScheduledAt    time.Time
	Attempts       int
	LastError      string
	ProcessingAt   *time.Time
	SentAt         *time.Time
}

// CreateMessageParams carries the fields for a new scheduled message.
type CreateMessageParams struct {
	EnrollmentID uuid.UUID
	InstanceID   uuid.UUID
	SequenceID   uuid.UUID
	StageID      uuid.UUID
	ContactID    uuid.UUID
	Phone        string
	Type         string
	Content      string
	TypebotStage string
	ScheduledAt  time.Time
}

// EnrollmentStore provides operations for enrollments.
type EnrollmentStore interface {
	GetEnrollment(ctx context.Context, id uuid.UUID) (Enrollment, error)
	// FindEngaged returns the contact's active or paused enrollment in the
	// sequence, or apperr.NotFound.
	FindEngaged(ctx context.Context, contactID, sequenceID uuid.UUID) (Enrollment, error)
	// HasAnyEnrollment reports whether the contact was ever enrolled in
	// the sequence, in any state.
	HasAnyEnrollment(ctx context.Context, contactID, sequenceID uuid.UUID) (bool, error)
	// CreateEnrollment inserts an active enrollment. A concurrent insert
	// for the same contact and sequence surfaces as apperr.Conflict.
	CreateEnrollment(ctx context.Context, contactID, sequenceID uuid.UUID, stageID *uuid.UUID) (Enrollment, error)
	SetEnrollmentStatus(ctx context.Context, id uuid.UUID, status domain.EnrollmentStatus) error
	SetCurrentStage(ctx context.Context, id uuid.UUID, stageID uuid.UUID) error
	// TouchLastMessage stamps the enrollment's last delivered message time.
	TouchLastMessage(ctx context.Context, enrollmentID uuid.UUID) error
	ListByContact(ctx context.Context, contactID uuid.UUID) ([]Enrollment, error)
	ListBySequence(ctx context.Context, sequenceID uuid.UUID, status string) ([]Enrollment, error)
}

// ProgressStore provides operations for stage progress rows.
type ProgressStore interface {
	CreateProgress(ctx context.Context, enrollmentID, stageID uuid.UUID) (StageProgress, error)
	// EnsureSkippedProgress records a stage as skipped unless a progress
	// row for it already exists.
	EnsureSkippedProgress(ctx context.Context, enrollmentID, stageID uuid.UUID) error
	// CloseProgress moves the enrollment's pending progress on a stage to
	// a terminal status.
	CloseProgress(ctx context.Context, enrollmentID, stageID uuid.UUID, status domain.ProgressStatus) error
	// CloseAllPendingProgress closes every pending progress row of an
	// enrollment, used when an enrollment stops.
	CloseAllPendingProgress(ctx context.Context, enrollmentID uuid.UUID, status domain.ProgressStatus) error
	ListProgress(ctx context.Context, enrollmentID uuid.UUID) ([]StageProgress, error)
}

// MessageStore provides operations for scheduled messages.
type MessageStore interface {
	GetMessage(ctx context.Context, id uuid.UUID) (ScheduledMessage, error)
	CreateMessage(ctx context.Context, params CreateMessageParams) (ScheduledMessage, error)
	// ClaimDue atomically moves up to limit due pending messages to
	// processing and returns them. Concurrent dispatchers never claim the
	// same row.
	ClaimDue(ctx context.Context, limit int) ([]ScheduledMessage, error)
	// ReleaseMessage returns a processing message to pending, used when a
	// sending window closed between scheduling and claim.
	ReleaseMessage(ctx context.Context, id uuid.UUID) error
	MarkSent(ctx context.Context, id uuid.UUID) (ScheduledMessage, error)
	// MarkFailed records a failed attempt and returns the updated row.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (ScheduledMessage, error)
	MarkPersistentError(ctx context.Context, id uuid.UUID) error
	// RetryMessage flips a failed message back to pending for another
	// delivery attempt.
	RetryMessage(ctx context.Context, id uuid.UUID) error
	StopPendingMessages(ctx context.Context, enrollmentID uuid.UUID) (int64, error)
	DeletePendingMessages(ctx context.Context, enrollmentID uuid.UUID) (int64, error)
	// RequeueStuckProcessing returns messages stuck in processing longer
	// than ttl back to pending.
	RequeueStuckProcessing(ctx context.Context, ttl time.Duration) (int64, error)
}

// Repository combines enrollment, progress and message persistence.
type Repository interface {
	EnrollmentStore
	ProgressStore
	MessageStore
}

// Package repository provides persistence for sequences, their stages and
// time restrictions.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dripline_backend/internal/sequences/domain"
)

// Sequence is an automated message series attached to an instance. Start
// and stop conditions are evaluated against a contact's tag set.
// WebhookID is the stable public handle trigger webhooks enroll through;
// it never changes across edits.
type Sequence struct {
	ID             uuid.UUID
	InstanceID     uuid.UUID
	Name           string
	WebhookID      uuid.UUID
	StartCondition domain.Condition
	StopCondition  domain.Condition
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stage is one step of a sequence. Inactive stages are kept for history
// after an edit and are skipped when advancing enrollments.
type Stage struct {
	ID          uuid.UUID
	SequenceID  uuid.UUID
	Name        string
	OrderIndex  int
	DelayAmount int
	DelayUnit   domain.DelayUnit
	Type        domain.SequenceType
	Content     string
	Active      bool
}

// StageInput carries the fields of a stage being created or replaced.
// ReplacesStageID, when set, names the old stage this one succeeds;
// in-flight enrollments on that stage move here instead of relying on
// the matching heuristic.
type StageInput struct {
	Name            string
	OrderIndex      int
	DelayAmount     int
	DelayUnit       domain.DelayUnit
	Type            domain.SequenceType
	Content         string
	ReplacesStageID *uuid.UUID
}

// Restriction is a stored time window. SequenceID is nil for client-wide
// windows.
type Restriction struct {
	domain.TimeRestriction
	ClientID   uuid.UUID
	SequenceID *uuid.UUID
}

// CreateSequenceParams carries the fields for a new sequence.
type CreateSequenceParams struct {
	InstanceID     uuid.UUID
	Name           string
	StartCondition domain.Condition
	StopCondition  domain.Condition
}

// UpdateSequenceParams carries the mutable fields of a sequence.
type UpdateSequenceParams struct {
	Name           string
	StartCondition domain.Condition
	StopCondition  domain.Condition
}

// SequenceStore provides operations for sequences.
type SequenceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (Sequence, error)
	// GetByWebhookID resolves the sequence a trigger webhook targets.
	GetByWebhookID(ctx context.Context, webhookID uuid.UUID) (Sequence, error)
	ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]Sequence, error)
	// ListActiveByClient returns active sequences whose instance is also
	// active, across all instances of the client.
	ListActiveByClient(ctx context.Context, clientID uuid.UUID) ([]Sequence, error)
	Create(ctx context.Context, params CreateSequenceParams) (Sequence, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateSequenceParams) (Sequence, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// StageStore provides operations for sequence stages.
type StageStore interface {
	GetStage(ctx context.Context, id uuid.UUID) (Stage, error)
	// ListStages returns the active stages of a sequence in order.
	ListStages(ctx context.Context, sequenceID uuid.UUID) ([]Stage, error)
	// ReplaceStages swaps the sequence's stage list for a new one in a
	// single transaction. Enrollments, stage progress and undelivered
	// messages that point at an old stage are repointed to its successor,
	// either the one named by ReplacesStageID or the best heuristic match;
	// old stages are deactivated, never deleted.
	ReplaceStages(ctx context.Context, sequenceID uuid.UUID, incoming []StageInput) ([]Stage, error)
}

// RestrictionStore provides operations for time restrictions.
type RestrictionStore interface {
	// ListForSequence returns the sequence's own windows plus the
	// client-wide ones.
	ListForSequence(ctx context.Context, clientID, sequenceID uuid.UUID) ([]Restriction, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]Restriction, error)
	CreateRestriction(ctx context.Context, r Restriction) (Restriction, error)
	UpdateRestriction(ctx context.Context, r Restriction) (Restriction, error)
	DeleteRestriction(ctx context.Context, id uuid.UUID) error
}

// Repository combines sequence, stage and restriction persistence.
type Repository interface {
	SequenceStore
	StageStore
	RestrictionStore
}

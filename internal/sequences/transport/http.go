// Package transport defines request and response payloads for the
// sequences HTTP API.
package transport

import (
	"time"

	"github.com/google/uuid"

	"dripline_backend/internal/sequences/domain"
)

// StageRequest is one stage in a create or replace request. On a
// replace, ReplacesStageID pins which old stage this one succeeds so
// in-flight enrollments move to it explicitly.
type StageRequest struct {
	Name            string     `json:"name" validate:"required,max=255"`
	OrderIndex      int        `json:"orderIndex" validate:"gte=0"`
	DelayAmount     int        `json:"delayAmount" validate:"gte=0"`
	DelayUnit       string     `json:"delayUnit" validate:"required,oneof=minutes hours days"`
	Type            string     `json:"type" validate:"required,oneof=message pattern typebot"`
	Content         string     `json:"content" validate:"required"`
	ReplacesStageID *uuid.UUID `json:"replacesStageId,omitempty"`
}

// CreateSequenceRequest creates a sequence with its initial stages.
type CreateSequenceRequest struct {
	InstanceID     uuid.UUID        `json:"instanceId" validate:"required"`
	Name           string           `json:"name" validate:"required,max=255"`
	StartCondition domain.Condition `json:"startCondition"`
	StopCondition  domain.Condition `json:"stopCondition"`
	Stages         []StageRequest   `json:"stages" validate:"required,min=1,dive"`
}

// UpdateSequenceRequest changes a sequence's name and conditions. Stages
// are replaced through their own endpoint.
type UpdateSequenceRequest struct {
	Name           string           `json:"name" validate:"required,max=255"`
	StartCondition domain.Condition `json:"startCondition"`
	StopCondition  domain.Condition `json:"stopCondition"`
}

// ReplaceStagesRequest swaps the full stage list of a sequence.
type ReplaceStagesRequest struct {
	Stages []StageRequest `json:"stages" validate:"required,min=1,dive"`
}

// SetActiveRequest toggles a sequence.
type SetActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// RestrictionRequest creates or updates a time window. SequenceID is
// omitted for client-wide windows. Days use Go's weekday numbering,
// Sunday = 0.
type RestrictionRequest struct {
	SequenceID  *uuid.UUID `json:"sequenceId"`
	Name        string     `json:"name" validate:"required,max=255"`
	Active      *bool      `json:"active" validate:"required"`
	Days        []int      `json:"days" validate:"required,min=1,dive,gte=0,lte=6"`
	StartHour   int        `json:"startHour" validate:"gte=0,lte=23"`
	StartMinute int        `json:"startMinute" validate:"gte=0,lte=59"`
	EndHour     int        `json:"endHour" validate:"gte=0,lte=23"`
	EndMinute   int        `json:"endMinute" validate:"gte=0,lte=59"`
}

// StageResponse is the API representation of a stage.
type StageResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	OrderIndex  int       `json:"orderIndex"`
	DelayAmount int       `json:"delayAmount"`
	DelayUnit   string    `json:"delayUnit"`
	Type        string    `json:"type"`
	Content     string    `json:"content"`
}

// SequenceResponse is the API representation of a sequence.
type SequenceResponse struct {
	ID             uuid.UUID        `json:"id"`
	InstanceID     uuid.UUID        `json:"instanceId"`
	Name           string           `json:"name"`
	WebhookID      uuid.UUID        `json:"webhookId"`
	StartCondition domain.Condition `json:"startCondition"`
	StopCondition  domain.Condition `json:"stopCondition"`
	Active         bool             `json:"active"`
	Stages         []StageResponse  `json:"stages,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// RestrictionResponse is the API representation of a time window.
type RestrictionResponse struct {
	ID          uuid.UUID  `json:"id"`
	ClientID    uuid.UUID  `json:"clientId"`
	SequenceID  *uuid.UUID `json:"sequenceId,omitempty"`
	Scope       string     `json:"scope"`
	Name        string     `json:"name"`
	Active      bool       `json:"active"`
	Days        []int      `json:"days"`
	StartHour   int        `json:"startHour"`
	StartMinute int        `json:"startMinute"`
	EndHour     int        `json:"endHour"`
	EndMinute   int        `json:"endMinute"`
}

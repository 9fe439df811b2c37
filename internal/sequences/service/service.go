// Package service provides business logic for sequence management and the
// sending-window checks used by the engine.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dripline_backend/internal/sequences/domain"
	"dripline_backend/internal/sequences/repository"
	"dripline_backend/internal/sequences/transport"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/logger"
)

// Service provides business logic for sequences.
type Service struct {
	repo repository.Repository
	log  *logger.Logger
}

// New creates a new sequences service.
func New(repo repository.Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Create inserts a sequence together with its initial stage list.
func (s *Service) Create(ctx context.Context, req transport.CreateSequenceRequest) (transport.SequenceResponse, error) {
	seq, err := s.repo.Create(ctx, repository.CreateSequenceParams{
		InstanceID:     req.InstanceID,
		Name:           req.Name,
		StartCondition: req.StartCondition,
		StopCondition:  req.StopCondition,
	})
	if err != nil {
		return transport.SequenceResponse{}, err
	}

	stages, err := s.repo.ReplaceStages(ctx, seq.ID, toStageInputs(req.Stages))
	if err != nil {
		return transport.SequenceResponse{}, err
	}

	s.log.Info("sequence created", "sequenceId", seq.ID, "instanceId", seq.InstanceID, "stages", len(stages))
	return toSequenceResponse(seq, stages), nil
}

// Get retrieves a sequence with its active stages.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (transport.SequenceResponse, error) {
	seq, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.SequenceResponse{}, err
	}
	stages, err := s.repo.ListStages(ctx, id)
	if err != nil {
		return transport.SequenceResponse{}, err
	}
	return toSequenceResponse(seq, stages), nil
}

// ListByInstance retrieves all sequences of an instance, without stages.
func (s *Service) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]transport.SequenceResponse, error) {
	sequences, err := s.repo.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	responses := make([]transport.SequenceResponse, len(sequences))
	for i, seq := range sequences {
		responses[i] = toSequenceResponse(seq, nil)
	}
	return responses, nil
}

// Update changes a sequence's name and conditions.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req transport.UpdateSequenceRequest) (transport.SequenceResponse, error) {
	seq, err := s.repo.Update(ctx, id, repository.UpdateSequenceParams{
		Name:           req.Name,
		StartCondition: req.StartCondition,
		StopCondition:  req.StopCondition,
	})
	if err != nil {
		return transport.SequenceResponse{}, err
	}
	stages, err := s.repo.ListStages(ctx, id)
	if err != nil {
		return transport.SequenceResponse{}, err
	}
	return toSequenceResponse(seq, stages), nil
}

// ReplaceStages swaps a sequence's stage list. In-flight enrollments are
// repointed to the closest matching new stage.
func (s *Service) ReplaceStages(ctx context.Context, id uuid.UUID, req transport.ReplaceStagesRequest) ([]transport.StageResponse, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}

	stages, err := s.repo.ReplaceStages(ctx, id, toStageInputs(req.Stages))
	if err != nil {
		return nil, err
	}

	s.log.Info("sequence stages replaced", "sequenceId", id, "stages", len(stages))
	responses := make([]transport.StageResponse, len(stages))
	for i, st := range stages {
		responses[i] = toStageResponse(st)
	}
	return responses, nil
}

// SetActive toggles a sequence.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.repo.SetActive(ctx, id, active)
}

// Delete removes a sequence.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// SendingAllowed reports whether messages of the sequence may go out now,
// considering both its own windows and the client-wide ones.
func (s *Service) SendingAllowed(ctx context.Context, clientID, sequenceID uuid.UUID, at time.Time) (bool, error) {
	restrictions, err := s.repo.ListForSequence(ctx, clientID, sequenceID)
	if err != nil {
		return false, err
	}
	windows := make([]domain.TimeRestriction, len(restrictions))
	for i, r := range restrictions {
		windows[i] = r.TimeRestriction
	}
	return domain.SendingAllowed(windows, at), nil
}

// CreateRestriction stores a time window for a client or one of its
// sequences.
func (s *Service) CreateRestriction(ctx context.Context, clientID uuid.UUID, req transport.RestrictionRequest) (transport.RestrictionResponse, error) {
	if req.SequenceID != nil {
		if _, err := s.repo.GetByID(ctx, *req.SequenceID); err != nil {
			return transport.RestrictionResponse{}, err
		}
	}

	res, err := s.repo.CreateRestriction(ctx, restrictionFromRequest(clientID, uuid.Nil, req))
	if err != nil {
		return transport.RestrictionResponse{}, err
	}
	return toRestrictionResponse(res), nil
}

// UpdateRestriction rewrites a time window.
func (s *Service) UpdateRestriction(ctx context.Context, clientID, id uuid.UUID, req transport.RestrictionRequest) (transport.RestrictionResponse, error) {
	res, err := s.repo.UpdateRestriction(ctx, restrictionFromRequest(clientID, id, req))
	if err != nil {
		return transport.RestrictionResponse{}, err
	}
	return toRestrictionResponse(res), nil
}

// DeleteRestriction removes a time window.
func (s *Service) DeleteRestriction(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteRestriction(ctx, id)
}

// ListRestrictions retrieves all time windows of a client.
func (s *Service) ListRestrictions(ctx context.Context, clientID uuid.UUID) ([]transport.RestrictionResponse, error) {
	restrictions, err := s.repo.ListByClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	responses := make([]transport.RestrictionResponse, len(restrictions))
	for i, r := range restrictions {
		responses[i] = toRestrictionResponse(r)
	}
	return responses, nil
}

// ValidateStages rejects stage lists with unknown content types before
// they reach the database.
func ValidateStages(stages []transport.StageRequest) error {
	for _, st := range stages {
		if !domain.ValidSequenceType(domain.SequenceType(st.Type)) {
			return apperr.Validation("unknown stage type: " + st.Type)
		}
	}
	return nil
}

func toStageInputs(stages []transport.StageRequest) []repository.StageInput {
	inputs := make([]repository.StageInput, len(stages))
	for i, st := range stages {
		inputs[i] = repository.StageInput{
			Name:            st.Name,
			OrderIndex:      st.OrderIndex,
			DelayAmount:     st.DelayAmount,
			DelayUnit:       domain.DelayUnit(st.DelayUnit),
			Type:            domain.SequenceType(st.Type),
			Content:         st.Content,
			ReplacesStageID: st.ReplacesStageID,
		}
	}
	return inputs
}

func toSequenceResponse(seq repository.Sequence, stages []repository.Stage) transport.SequenceResponse {
	resp := transport.SequenceResponse{
		ID:             seq.ID,
		InstanceID:     seq.InstanceID,
		Name:           seq.Name,
		WebhookID:      seq.WebhookID,
		StartCondition: seq.StartCondition,
		StopCondition:  seq.StopCondition,
		Active:         seq.Active,
		CreatedAt:      seq.CreatedAt,
	}
	for _, st := range stages {
		resp.Stages = append(resp.Stages, toStageResponse(st))
	}
	return resp
}

func toStageResponse(st repository.Stage) transport.StageResponse {
	return transport.StageResponse{
		ID:          st.ID,
		Name:        st.Name,
		OrderIndex:  st.OrderIndex,
		DelayAmount: st.DelayAmount,
		DelayUnit:   string(st.DelayUnit),
		Type:        string(st.Type),
		Content:     st.Content,
	}
}

func restrictionFromRequest(clientID, id uuid.UUID, req transport.RestrictionRequest) repository.Restriction {
	days := make([]time.Weekday, len(req.Days))
	for i, d := range req.Days {
		days[i] = time.Weekday(d)
	}
	return repository.Restriction{
		TimeRestriction: domain.TimeRestriction{
			ID:          id,
			Name:        req.Name,
			Active:      req.Active != nil && *req.Active,
			Days:        days,
			StartHour:   req.StartHour,
			StartMinute: req.StartMinute,
			EndHour:     req.EndHour,
			EndMinute:   req.EndMinute,
		},
		ClientID:   clientID,
		SequenceID: req.SequenceID,
	}
}

func toRestrictionResponse(r repository.Restriction) transport.RestrictionResponse {
	days := make([]int, len(r.Days))
	for i, d := range r.Days {
		days[i] = int(d)
	}
	return transport.RestrictionResponse{
		ID:          r.ID,
		ClientID:    r.ClientID,
		SequenceID:  r.SequenceID,
		Scope:       string(r.Scope),
		Name:        r.Name,
		Active:      r.Active,
		Days:        days,
		StartHour:   r.StartHour,
		StartMinute: r.StartMinute,
		EndHour:     r.EndHour,
		EndMinute:   r.EndMinute,
	}
}

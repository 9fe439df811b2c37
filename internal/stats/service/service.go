// Package service aggregates engine activity into per-instance daily
// counters by subscribing to the domain event bus.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	clientsrepo "dripline_backend/internal/clients/repository"
	"dripline_backend/internal/events"
	"dripline_backend/internal/stats/repository"
	"dripline_backend/platform/logger"
)

// InstanceLister resolves a client's active instances for the new-contact
// fan-out.
type InstanceLister interface {
	ListActiveInstances(ctx context.Context, clientID uuid.UUID) ([]clientsrepo.Instance, error)
}

// Service maintains daily stats. Counters are best-effort: a failed
// increment is logged, never propagated back to the engine.
type Service struct {
	repo      repository.Store
	instances InstanceLister
	log       *logger.Logger
	now       func() time.Time
}

// New creates a new stats service.
func New(repo repository.Store, instances InstanceLister, log *logger.Logger) *Service {
	return &Service{repo: repo, instances: instances, log: log, now: time.Now}
}

// Subscribe registers the stats counters on the event bus.
func (s *Service) Subscribe(bus events.Bus) {
	bus.Subscribe("contacts.created", events.HandlerFunc(s.onContactCreated))
	bus.Subscribe("enrollment.message.scheduled", events.HandlerFunc(s.onMessageScheduled))
	bus.Subscribe("enrollment.message.sent", events.HandlerFunc(s.onMessageSent))
	bus.Subscribe("enrollment.message.failed", events.HandlerFunc(s.onMessageFailed))
	bus.Subscribe("enrollment.sequence.completed", events.HandlerFunc(s.onSequenceCompleted))
}

// onContactCreated counts the new contact once per active instance of the
// client, since a contact is reachable through any of them.
func (s *Service) onContactCreated(ctx context.Context, event events.Event) error {
	e, ok := event.(events.ContactCreated)
	if !ok {
		return nil
	}

	instances, err := s.instances.ListActiveInstances(ctx, e.ClientID)
	if err != nil {
		s.log.Error("stats: list instances failed", "clientId", e.ClientID, "error", err)
		return nil
	}
	for _, inst := range instances {
		if err := s.repo.IncrementNewContacts(ctx, inst.ID, s.now()); err != nil {
			s.log.Error("stats: increment new contacts failed", "instanceId", inst.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) onMessageScheduled(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MessageScheduled)
	if !ok {
		return nil
	}
	if err := s.repo.IncrementMessagesScheduled(ctx, e.InstanceID, s.now()); err != nil {
		s.log.Error("stats: increment scheduled failed", "instanceId", e.InstanceID, "error", err)
	}
	return nil
}

func (s *Service) onMessageSent(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MessageSent)
	if !ok {
		return nil
	}
	if err := s.repo.IncrementMessagesSent(ctx, e.InstanceID, s.now()); err != nil {
		s.log.Error("stats: increment sent failed", "instanceId", e.InstanceID, "error", err)
	}
	return nil
}

// onMessageFailed only counts terminal failures; retried attempts would
// inflate the counter.
func (s *Service) onMessageFailed(ctx context.Context, event events.Event) error {
	e, ok := event.(events.MessageFailed)
	if !ok || !e.Terminal {
		return nil
	}
	if err := s.repo.IncrementMessagesFailed(ctx, e.InstanceID, s.now()); err != nil {
		s.log.Error("stats: increment failed failed", "instanceId", e.InstanceID, "error", err)
	}
	return nil
}

func (s *Service) onSequenceCompleted(ctx context.Context, event events.Event) error {
	e, ok := event.(events.SequenceCompleted)
	if !ok {
		return nil
	}
	if err := s.repo.IncrementSequencesCompleted(ctx, e.InstanceID, s.now()); err != nil {
		s.log.Error("stats: increment completed failed", "instanceId", e.InstanceID, "error", err)
	}
	return nil
}

// Range returns the daily stats of an instance between two days.
func (s *Service) Range(ctx context.Context, instanceID uuid.UUID, from, to time.Time) ([]repository.DailyStat, error) {
	return s.repo.GetRange(ctx, instanceID, from, to)
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	clientsrepo "dripline_backend/internal/clients/repository"
	"dripline_backend/internal/events"
	"dripline_backend/internal/stats/repository"
	"dripline_backend/platform/logger"
)

type counterKey struct {
	instanceID uuid.UUID
	counter    string
}

type fakeStore struct {
	counts map[counterKey]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{counts: make(map[counterKey]int)}
}

func (f *fakeStore) bump(instanceID uuid.UUID, counter string) error {
	f.counts[counterKey{instanceID, counter}]++
	return nil
}

func (f *fakeStore) IncrementNewContacts(_ context.Context, id uuid.UUID, _ time.Time) error {
	return f.bump(id, "new_contacts")
}

func (f *fakeStore) IncrementMessagesScheduled(_ context.Context, id uuid.UUID, _ time.Time) error {
	return f.bump(id, "messages_scheduled")
}

func (f *fakeStore) IncrementMessagesSent(_ context.Context, id uuid.UUID, _ time.Time) error {
	return f.bump(id, "messages_sent")
}

func (f *fakeStore) IncrementMessagesFailed(_ context.Context, id uuid.UUID, _ time.Time) error {
	return f.bump(id, "messages_failed")
}

func (f *fakeStore) IncrementSequencesCompleted(_ context.Context, id uuid.UUID, _ time.Time) error {
	return f.bump(id, "sequences_completed")
}

func (f *fakeStore) GetRange(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]repository.DailyStat, error) {
	return nil, nil
}

type staticInstances struct {
	instances []clientsrepo.Instance
}

func (s staticInstances) ListActiveInstances(_ context.Context, _ uuid.UUID) ([]clientsrepo.Instance, error) {
	return s.instances, nil
}

func TestContactCreatedFansOutToActiveInstances(t *testing.T) {
	store := newFakeStore()
	instA, instB := uuid.New(), uuid.New()
	svc := New(store, staticInstances{instances: []clientsrepo.Instance{
		{ID: instA, Active: true},
		{ID: instB, Active: true},
	}}, logger.New("development"))

	err := svc.onContactCreated(context.Background(), events.ContactCreated{
		BaseEvent: events.NewBaseEvent(),
		ClientID:  uuid.New(),
		ContactID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("onContactCreated: %v", err)
	}

	for _, inst := range []uuid.UUID{instA, instB} {
		if got := store.counts[counterKey{inst, "new_contacts"}]; got != 1 {
			t.Fatalf("expected 1 new contact on instance %s, got %d", inst, got)
		}
	}
}

func TestMessageLifecycleCounters(t *testing.T) {
	store := newFakeStore()
	instanceID := uuid.New()
	svc := New(store, staticInstances{}, logger.New("development"))
	ctx := context.Background()

	scheduled := events.MessageScheduled{BaseEvent: events.NewBaseEvent(), InstanceID: instanceID}
	sent := events.MessageSent{BaseEvent: events.NewBaseEvent(), InstanceID: instanceID}
	completed := events.SequenceCompleted{BaseEvent: events.NewBaseEvent(), InstanceID: instanceID}

	if err := svc.onMessageScheduled(ctx, scheduled); err != nil {
		t.Fatalf("scheduled: %v", err)
	}
	if err := svc.onMessageSent(ctx, sent); err != nil {
		t.Fatalf("sent: %v", err)
	}
	if err := svc.onSequenceCompleted(ctx, completed); err != nil {
		t.Fatalf("completed: %v", err)
	}

	for _, counter := range []string{"messages_scheduled", "messages_sent", "sequences_completed"} {
		if got := store.counts[counterKey{instanceID, counter}]; got != 1 {
			t.Fatalf("expected %s = 1, got %d", counter, got)
		}
	}
}

func TestMessageFailedCountsOnlyTerminalFailures(t *testing.T) {
	store := newFakeStore()
	instanceID := uuid.New()
	svc := New(store, staticInstances{}, logger.New("development"))
	ctx := context.Background()

	retryable := events.MessageFailed{BaseEvent: events.NewBaseEvent(), InstanceID: instanceID, Attempts: 1}
	if err := svc.onMessageFailed(ctx, retryable); err != nil {
		t.Fatalf("retryable: %v", err)
	}
	if got := store.counts[counterKey{instanceID, "messages_failed"}]; got != 0 {
		t.Fatalf("retryable failures must not count, got %d", got)
	}

	terminal := events.MessageFailed{BaseEvent: events.NewBaseEvent(), InstanceID: instanceID, Attempts: 3, Terminal: true}
	if err := svc.onMessageFailed(ctx, terminal); err != nil {
		t.Fatalf("terminal: %v", err)
	}
	if got := store.counts[counterKey{instanceID, "messages_failed"}]; got != 1 {
		t.Fatalf("terminal failure must count once, got %d", got)
	}
}

func TestHandlersIgnoreForeignEvents(t *testing.T) {
	store := newFakeStore()
	svc := New(store, staticInstances{}, logger.New("development"))

	// A handler receiving an event of another type is a no-op.
	if err := svc.onMessageSent(context.Background(), events.ContactCreated{BaseEvent: events.NewBaseEvent()}); err != nil {
		t.Fatalf("foreign event: %v", err)
	}
	if len(store.counts) != 0 {
		t.Fatalf("no counter should move, got %v", store.counts)
	}
}

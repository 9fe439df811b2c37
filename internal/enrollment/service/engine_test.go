package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	clientsrepo "dripline_backend/internal/clients/repository"
	contactsrepo "dripline_backend/internal/contacts/repository"
	"dripline_backend/internal/enrollment/domain"
	"dripline_backend/internal/enrollment/repository"
	seqdomain "dripline_backend/internal/sequences/domain"
	seqrepo "dripline_backend/internal/sequences/repository"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/events"
	"dripline_backend/platform/logger"
)

// ---------------------------------------------------------------------------
// fakes

type fakeRepo struct {
	enrollments map[uuid.UUID]*repository.Enrollment
	progress    []*repository.StageProgress
	messages    map[uuid.UUID]*repository.ScheduledMessage
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		enrollments: make(map[uuid.UUID]*repository.Enrollment),
		messages:    make(map[uuid.UUID]*repository.ScheduledMessage),
	}
}

func (f *fakeRepo) GetEnrollment(_ context.Context, id uuid.UUID) (repository.Enrollment, error) {
	e, ok := f.enrollments[id]
	if !ok {
		return repository.Enrollment{}, apperr.NotFound("enrollment not found")
	}
	return *e, nil
}

func (f *fakeRepo) FindEngaged(_ context.Context, contactID, sequenceID uuid.UUID) (repository.Enrollment, error) {
	for _, e := range f.enrollments {
		if e.ContactID == contactID && e.SequenceID == sequenceID && e.Status.IsEngaged() {
			return *e, nil
		}
	}
	return repository.Enrollment{}, apperr.NotFound("enrollment not found")
}

func (f *fakeRepo) HasAnyEnrollment(_ context.Context, contactID, sequenceID uuid.UUID) (bool, error) {
	for _, e := range f.enrollments {
		if e.ContactID == contactID && e.SequenceID == sequenceID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRepo) CreateEnrollment(_ context.Context, contactID, sequenceID uuid.UUID, stageID *uuid.UUID) (repository.Enrollment, error) {
	for _, e := range f.enrollments {
		if e.ContactID == contactID && e.SequenceID == sequenceID && e.Status.IsEngaged() {
			return repository.Enrollment{}, apperr.Conflict("contact already enrolled in sequence")
		}
	}
	e := &repository.Enrollment{
		ID:             uuid.New(),
		ContactID:      contactID,
		SequenceID:     sequenceID,
		CurrentStageID: stageID,
		Status:         domain.EnrollmentActive,
		StartedAt:      time.Now(),
	}
	f.enrollments[e.ID] = e
	return *e, nil
}

func (f *fakeRepo) SetEnrollmentStatus(_ context.Context, id uuid.UUID, status domain.EnrollmentStatus) error {
	e, ok := f.enrollments[id]
	if !ok {
		return apperr.NotFound("enrollment not found")
	}
	e.Status = status
	now := time.Now()
	switch status {
	case domain.EnrollmentCompleted:
		e.CompletedAt = &now
	case domain.EnrollmentRemoved, domain.EnrollmentStopped:
		e.RemovedAt = &now
	}
	return nil
}

func (f *fakeRepo) TouchLastMessage(_ context.Context, enrollmentID uuid.UUID) error {
	e, ok := f.enrollments[enrollmentID]
	if !ok {
		return apperr.NotFound("enrollment not found")
	}
	now := time.Now()
	e.LastMessageAt = &now
	return nil
}

func (f *fakeRepo) SetCurrentStage(_ context.Context, id uuid.UUID, stageID uuid.UUID) error {
	e, ok := f.enrollments[id]
	if !ok {
		return apperr.NotFound("enrollment not found")
	}
	e.CurrentStageID = &stageID
	return nil
}

func (f *fakeRepo) ListByContact(_ context.Context, contactID uuid.UUID) ([]repository.Enrollment, error) {
	var out []repository.Enrollment
	for _, e := range f.enrollments {
		if e.ContactID == contactID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListBySequence(_ context.Context, sequenceID uuid.UUID, status string) ([]repository.Enrollment, error) {
	var out []repository.Enrollment
	for _, e := range f.enrollments {
		if e.SequenceID == sequenceID && (status == "" || string(e.Status) == status) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateProgress(_ context.Context, enrollmentID, stageID uuid.UUID) (repository.StageProgress, error) {
	for _, p := range f.progress {
		if p.EnrollmentID == enrollmentID && p.StageID == stageID {
			p.Status = domain.ProgressPending
			p.CompletedAt = nil
			return *p, nil
		}
	}
	p := &repository.StageProgress{
		ID:           uuid.New(),
		EnrollmentID: enrollmentID,
		StageID:      stageID,
		Status:       domain.ProgressPending,
	}
	f.progress = append(f.progress, p)
	return *p, nil
}

func (f *fakeRepo) EnsureSkippedProgress(_ context.Context, enrollmentID, stageID uuid.UUID) error {
	for _, p := range f.progress {
		if p.EnrollmentID == enrollmentID && p.StageID == stageID {
			return nil
		}
	}
	now := time.Now()
	f.progress = append(f.progress, &repository.StageProgress{
		ID:           uuid.New(),
		EnrollmentID: enrollmentID,
		StageID:      stageID,
		Status:       domain.ProgressSkipped,
		CompletedAt:  &now,
	})
	return nil
}

func (f *fakeRepo) CloseProgress(_ context.Context, enrollmentID, stageID uuid.UUID, status domain.ProgressStatus) error {
	for _, p := range f.progress {
		if p.EnrollmentID == enrollmentID && p.StageID == stageID && p.Status == domain.ProgressPending {
			p.Status = status
		}
	}
	return nil
}

func (f *fakeRepo) CloseAllPendingProgress(_ context.Context, enrollmentID uuid.UUID, status domain.ProgressStatus) error {
	for _, p := range f.progress {
		if p.EnrollmentID == enrollmentID && p.Status == domain.ProgressPending {
			p.Status = status
		}
	}
	return nil
}

func (f *fakeRepo) ListProgress(_ context.Context, enrollmentID uuid.UUID) ([]repository.StageProgress, error) {
	var out []repository.StageProgress
	for _, p := range f.progress {
		if p.EnrollmentID == enrollmentID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetMessage(_ context.Context, id uuid.UUID) (repository.ScheduledMessage, error) {
	m, ok := f.messages[id]
	if !ok {
		return repository.ScheduledMessage{}, apperr.NotFound("message not found")
	}
	return *m, nil
}

func (f *fakeRepo) CreateMessage(_ context.Context, params repository.CreateMessageParams) (repository.ScheduledMessage, error) {
	m := &repository.ScheduledMessage{
		ID:             uuid.New(),
		EnrollmentID:   params.EnrollmentID,
		InstanceID:     params.InstanceID,
		SequenceID:     params.SequenceID,
		StageID:        params.StageID,
		ContactID:      params.ContactID,
		Phone:          params.Phone,
		Type:           params.Type,
		Content:        params.Content,
		TypebotStage:   params.TypebotStage,
		Status:         domain.MessagePending,
		RawScheduledAt: params.ScheduledAt,
		ScheduledAt:    params.ScheduledAt,
	}
	f.messages[m.ID] = m
	return *m, nil
}

func (f *fakeRepo) ClaimDue(_ context.Context, limit int) ([]repository.ScheduledMessage, error) {
	var out []repository.ScheduledMessage
	for _, m := range f.messages {
		if len(out) == limit {
			break
		}
		if m.Status == domain.MessagePending && !m.ScheduledAt.After(time.Now()) {
			m.Status = domain.MessageProcessing
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeRepo) ReleaseMessage(_ context.Context, id uuid.UUID) error {
	if m, ok := f.messages[id]; ok && m.Status == domain.MessageProcessing {
		m.Status = domain.MessagePending
	}
	return nil
}

func (f *fakeRepo) MarkSent(_ context.Context, id uuid.UUID) (repository.ScheduledMessage, error) {
	m, ok := f.messages[id]
	if !ok || m.Status != domain.MessageProcessing {
		return repository.ScheduledMessage{}, apperr.Conflict("message is not processing")
	}
	m.Status = domain.MessageSent
	return *m, nil
}

func (f *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) (repository.ScheduledMessage, error) {
	m, ok := f.messages[id]
	if !ok || m.Status != domain.MessageProcessing {
		return repository.ScheduledMessage{}, apperr.Conflict("message is not processing")
	}
	m.Status = domain.MessageFailed
	m.Attempts++
	m.LastError = reason
	return *m, nil
}

func (f *fakeRepo) MarkPersistentError(_ context.Context, id uuid.UUID) error {
	if m, ok := f.messages[id]; ok && m.Status == domain.MessageFailed {
		m.Status = domain.MessagePersistentError
	}
	return nil
}

func (f *fakeRepo) RetryMessage(_ context.Context, id uuid.UUID) error {
	if m, ok := f.messages[id]; ok && m.Status == domain.MessageFailed {
		m.Status = domain.MessagePending
		m.ScheduledAt = time.Now()
	}
	return nil
}

func (f *fakeRepo) StopPendingMessages(_ context.Context, enrollmentID uuid.UUID) (int64, error) {
	var n int64
	for _, m := range f.messages {
		if m.EnrollmentID == enrollmentID &&
			(m.Status == domain.MessagePending || m.Status == domain.MessageProcessing || m.Status == domain.MessageFailed) {
			m.Status = domain.MessageStopped
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) DeletePendingMessages(_ context.Context, enrollmentID uuid.UUID) (int64, error) {
	var n int64
	for id, m := range f.messages {
		if m.EnrollmentID == enrollmentID &&
			(m.Status == domain.MessagePending || m.Status == domain.MessageProcessing || m.Status == domain.MessageFailed) {
			delete(f.messages, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeRepo) RequeueStuckProcessing(_ context.Context, _ time.Duration) (int64, error) {
	var n int64
	for _, m := range f.messages {
		if m.Status == domain.MessageProcessing {
			m.Status = domain.MessagePending
			n++
		}
	}
	return n, nil
}

type fakeSequences struct {
	sequences map[uuid.UUID]seqrepo.Sequence
	stages    map[uuid.UUID][]seqrepo.Stage
}

func (f *fakeSequences) GetByID(_ context.Context, id uuid.UUID) (seqrepo.Sequence, error) {
	seq, ok := f.sequences[id]
	if !ok {
		return seqrepo.Sequence{}, apperr.NotFound("sequence not found")
	}
	return seq, nil
}

func (f *fakeSequences) GetByWebhookID(_ context.Context, webhookID uuid.UUID) (seqrepo.Sequence, error) {
	for _, seq := range f.sequences {
		if seq.WebhookID == webhookID {
			return seq, nil
		}
	}
	return seqrepo.Sequence{}, apperr.NotFound("sequence not found")
}

func (f *fakeSequences) ListActiveByClient(_ context.Context, _ uuid.UUID) ([]seqrepo.Sequence, error) {
	var out []seqrepo.Sequence
	for _, seq := range f.sequences {
		if seq.Active {
			out = append(out, seq)
		}
	}
	return out, nil
}

func (f *fakeSequences) ListStages(_ context.Context, sequenceID uuid.UUID) ([]seqrepo.Stage, error) {
	return f.stages[sequenceID], nil
}

func (f *fakeSequences) GetStage(_ context.Context, id uuid.UUID) (seqrepo.Stage, error) {
	for _, stages := range f.stages {
		for _, s := range stages {
			if s.ID == id {
				return s, nil
			}
		}
	}
	return seqrepo.Stage{}, apperr.NotFound("stage not found")
}

type fakeContacts struct {
	contacts map[uuid.UUID]contactsrepo.Contact
}

func (f *fakeContacts) GetByID(_ context.Context, id uuid.UUID) (contactsrepo.Contact, error) {
	c, ok := f.contacts[id]
	if !ok {
		return contactsrepo.Contact{}, apperr.NotFound("contact not found")
	}
	return c, nil
}

type fakeInstances struct {
	instances map[uuid.UUID]clientsrepo.Instance
}

func (f *fakeInstances) GetInstance(_ context.Context, id uuid.UUID) (clientsrepo.Instance, error) {
	inst, ok := f.instances[id]
	if !ok {
		return clientsrepo.Instance{}, apperr.NotFound("instance not found")
	}
	return inst, nil
}

type gatedWindows struct {
	blocked bool
}

func (g *gatedWindows) SendingAllowed(_ context.Context, _, _ uuid.UUID, _ time.Time) (bool, error) {
	return !g.blocked, nil
}

type recordingRetries struct {
	scheduled []uuid.UUID
	at        []time.Time
}

func (r *recordingRetries) ScheduleRetry(_ context.Context, messageID uuid.UUID, at time.Time) error {
	r.scheduled = append(r.scheduled, messageID)
	r.at = append(r.at, at)
	return nil
}

type engineCfg struct {
	maxAttempts int
	backoff     time.Duration
}

func (c engineCfg) GetMaxDeliveryAttempts() int        { return c.maxAttempts }
func (c engineCfg) GetRetryBackoffBase() time.Duration { return c.backoff }

// ---------------------------------------------------------------------------
// fixture

type fixture struct {
	engine    *Engine
	repo      *fakeRepo
	retries   *recordingRetries
	clientID  uuid.UUID
	contact   contactsrepo.Contact
	sequence  seqrepo.Sequence
	stages    []seqrepo.Stage
	sequences *fakeSequences
	windows   *gatedWindows
}

func condition(tags ...string) seqdomain.Condition {
	return seqdomain.Condition{
		Operator: seqdomain.OperatorOr,
		Groups:   []seqdomain.ConditionGroup{{Operator: seqdomain.OperatorAnd, Tags: tags}},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clientID := uuid.New()
	instanceID := uuid.New()
	sequenceID := uuid.New()

	stages := []seqrepo.Stage{
		{ID: uuid.New(), SequenceID: sequenceID, Name: "welcome", OrderIndex: 0,
			DelayAmount: 0, DelayUnit: seqdomain.DelayMinutes, Type: seqdomain.TypeMessage,
			Content: "hi ${name}", Active: true},
		{ID: uuid.New(), SequenceID: sequenceID, Name: "follow up", OrderIndex: 1,
			DelayAmount: 2, DelayUnit: seqdomain.DelayHours, Type: seqdomain.TypeMessage,
			Content: "still there?", Active: true},
	}
	sequence := seqrepo.Sequence{
		ID:             sequenceID,
		InstanceID:     instanceID,
		Name:           "onboarding",
		WebhookID:      uuid.New(),
		StartCondition: condition("lead"),
		StopCondition:  condition("customer"),
		Active:         true,
	}
	contact := contactsrepo.Contact{
		ID:       uuid.New(),
		ClientID: clientID,
		Name:     "Ana",
		Phone:    "+5511999990000",
	}

	repo := newFakeRepo()
	sequences := &fakeSequences{
		sequences: map[uuid.UUID]seqrepo.Sequence{sequenceID: sequence},
		stages:    map[uuid.UUID][]seqrepo.Stage{sequenceID: stages},
	}
	retries := &recordingRetries{}
	windows := &gatedWindows{}

	engine := NewEngine(
		repo,
		sequences,
		&fakeContacts{contacts: map[uuid.UUID]contactsrepo.Contact{contact.ID: contact}},
		&fakeInstances{instances: map[uuid.UUID]clientsrepo.Instance{
			instanceID: {ID: instanceID, ClientID: clientID, Name: "main", Active: true},
		}},
		windows,
		retries,
		engineCfg{maxAttempts: 3, backoff: 5 * time.Minute},
		events.NewInMemoryBus(logger.New("development")),
		logger.New("development"),
	)

	return &fixture{
		engine:    engine,
		repo:      repo,
		retries:   retries,
		clientID:  clientID,
		contact:   contact,
		sequence:  sequence,
		stages:    stages,
		sequences: sequences,
		windows:   windows,
	}
}

func (f *fixture) singleEnrollment(t *testing.T) repository.Enrollment {
	t.Helper()
	if len(f.repo.enrollments) != 1 {
		t.Fatalf("expected 1 enrollment, got %d", len(f.repo.enrollments))
	}
	for _, e := range f.repo.enrollments {
		return *e
	}
	panic("unreachable")
}

func (f *fixture) singlePendingMessage(t *testing.T) repository.ScheduledMessage {
	t.Helper()
	var out []repository.ScheduledMessage
	for _, m := range f.repo.messages {
		if m.Status == domain.MessagePending {
			out = append(out, *m)
		}
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(out))
	}
	return out[0]
}

// ---------------------------------------------------------------------------
// tests

func TestProcessTagEventEnrolls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil)
	if err != nil {
		t.Fatalf("ProcessTagEvent: %v", err)
	}
	if len(result.Enrolled) != 1 || result.Enrolled[0] != f.sequence.ID {
		t.Fatalf("expected enrollment in sequence, got %+v", result)
	}

	enrollment := f.singleEnrollment(t)
	if enrollment.Status != domain.EnrollmentActive {
		t.Fatalf("expected active enrollment, got %s", enrollment.Status)
	}
	if enrollment.CurrentStageID == nil || *enrollment.CurrentStageID != f.stages[0].ID {
		t.Fatalf("expected enrollment at first stage")
	}

	msg := f.singlePendingMessage(t)
	if msg.Content != "hi Ana" {
		t.Fatalf("expected rendered content, got %q", msg.Content)
	}
	if msg.Phone != f.contact.Phone {
		t.Fatalf("expected message for %s, got %s", f.contact.Phone, msg.Phone)
	}
}

func TestProcessTagEventSkipsOutsideSendingWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.windows.blocked = true
	result, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil)
	if err != nil {
		t.Fatalf("ProcessTagEvent: %v", err)
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != f.sequence.ID {
		t.Fatalf("expected sequence skipped, got %+v", result)
	}
	if len(f.repo.enrollments) != 0 || len(f.repo.messages) != 0 {
		t.Fatalf("skip must leave no state behind")
	}

	// The next qualifying event retries the enrollment.
	f.windows.blocked = false
	result, err = f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil)
	if err != nil {
		t.Fatalf("ProcessTagEvent retry: %v", err)
	}
	if len(result.Enrolled) != 1 {
		t.Fatalf("expected enrollment after the window opened, got %+v", result)
	}
}

func TestProcessTagEventVariablesOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vars := map[string]string{"name": "Dona Ana"}
	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, vars); err != nil {
		t.Fatalf("ProcessTagEvent: %v", err)
	}
	if msg := f.singlePendingMessage(t); msg.Content != "hi Dona Ana" {
		t.Fatalf("expected event variables to win over contact fields, got %q", msg.Content)
	}
}

func TestScheduleTypebotStageToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stages := f.sequences.stages[f.sequence.ID]
	stages[1].Type = seqdomain.TypeTypebot
	stages[1].Content = "onboarding-flow"
	f.sequences.stages[f.sequence.ID] = stages

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim first: %v (%d)", err, len(claimed))
	}
	if claimed[0].TypebotStage != "" {
		t.Fatalf("plain message carries no typebot token, got %q", claimed[0].TypebotStage)
	}
	if err := f.engine.HandleDeliveryResult(ctx, claimed[0].ID, true, ""); err != nil {
		t.Fatalf("deliver first: %v", err)
	}

	next := f.singlePendingMessage(t)
	if next.Type != string(seqdomain.TypeTypebot) {
		t.Fatalf("expected typebot message, got %s", next.Type)
	}
	if next.TypebotStage != "stg2" {
		t.Fatalf("expected typebot token stg2, got %q", next.TypebotStage)
	}
}

func TestProcessTagEventIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
			t.Fatalf("ProcessTagEvent #%d: %v", i, err)
		}
	}

	if len(f.repo.enrollments) != 1 {
		t.Fatalf("expected a single enrollment after replays, got %d", len(f.repo.enrollments))
	}
	if len(f.repo.messages) != 1 {
		t.Fatalf("expected a single scheduled message after replays, got %d", len(f.repo.messages))
	}
}

func TestProcessTagEventStopWinsOverStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	// Both conditions match; the stop must win and no new enrollment appear.
	result, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead", "customer"}, nil)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(result.Stopped) != 1 {
		t.Fatalf("expected the enrollment to stop, got %+v", result)
	}

	enrollment := f.singleEnrollment(t)
	if enrollment.Status != domain.EnrollmentStopped {
		t.Fatalf("expected stopped, got %s", enrollment.Status)
	}
	if enrollment.RemovedAt == nil {
		t.Fatalf("stop must be timestamped")
	}
	for _, m := range f.repo.messages {
		if m.Status == domain.MessagePending {
			t.Fatalf("expected no pending messages after stop")
		}
	}
}

func TestProcessTagEventNeverReenrolls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"customer"}, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}

	result, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil)
	if err != nil {
		t.Fatalf("re-enroll attempt: %v", err)
	}
	if len(result.Enrolled) != 0 {
		t.Fatalf("contact must not re-enter a sequence it already went through")
	}
	if len(f.repo.enrollments) != 1 {
		t.Fatalf("expected 1 historical enrollment, got %d", len(f.repo.enrollments))
	}
}

func TestDeliverySuccessAdvancesToNextStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil {
		t.Fatalf("DueMessages: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 due message, got %d", len(claimed))
	}

	if err := f.engine.HandleDeliveryResult(ctx, claimed[0].ID, true, ""); err != nil {
		t.Fatalf("HandleDeliveryResult: %v", err)
	}

	enrollment := f.singleEnrollment(t)
	if enrollment.CurrentStageID == nil || *enrollment.CurrentStageID != f.stages[1].ID {
		t.Fatalf("expected enrollment at second stage")
	}

	next := f.singlePendingMessage(t)
	if next.StageID != f.stages[1].ID {
		t.Fatalf("expected next message for second stage")
	}
	wantDelay := 2 * time.Hour
	gotDelay := time.Until(next.ScheduledAt)
	if gotDelay < wantDelay-time.Minute || gotDelay > wantDelay+time.Minute {
		t.Fatalf("expected ~2h delay, got %v", gotDelay)
	}
}

func TestDeliverySuccessOnLastStageCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	first, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(first) != 1 {
		t.Fatalf("claim first: %v (%d)", err, len(first))
	}
	if err := f.engine.HandleDeliveryResult(ctx, first[0].ID, true, ""); err != nil {
		t.Fatalf("deliver first: %v", err)
	}

	// Fast-forward the second stage.
	second := f.singlePendingMessage(t)
	f.repo.messages[second.ID].ScheduledAt = time.Now().Add(-time.Minute)
	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim second: %v (%d)", err, len(claimed))
	}
	if err := f.engine.HandleDeliveryResult(ctx, claimed[0].ID, true, ""); err != nil {
		t.Fatalf("deliver second: %v", err)
	}

	enrollment := f.singleEnrollment(t)
	if enrollment.Status != domain.EnrollmentCompleted {
		t.Fatalf("expected completed, got %s", enrollment.Status)
	}
	if enrollment.CompletedAt == nil {
		t.Fatalf("completion must be timestamped")
	}
	if enrollment.LastMessageAt == nil {
		t.Fatalf("delivery must stamp the last message time")
	}
}

func TestDeliveryFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	if err := f.engine.HandleDeliveryResult(ctx, claimed[0].ID, false, "timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if len(f.retries.scheduled) != 1 {
		t.Fatalf("expected 1 retry scheduled, got %d", len(f.retries.scheduled))
	}
	backoff := time.Until(f.retries.at[0])
	if backoff < 4*time.Minute || backoff > 6*time.Minute {
		t.Fatalf("expected ~5m backoff on first failure, got %v", backoff)
	}
	if f.repo.messages[claimed[0].ID].Status != domain.MessageFailed {
		t.Fatalf("expected failed status")
	}
}

func TestDeliveryFailureExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	var msgID uuid.UUID
	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := f.engine.DueMessages(ctx, 10, nil)
		if err != nil || len(claimed) != 1 {
			t.Fatalf("claim attempt %d: %v (%d)", attempt, err, len(claimed))
		}
		msgID = claimed[0].ID
		if err := f.engine.HandleDeliveryResult(ctx, msgID, false, "unreachable"); err != nil {
			t.Fatalf("fail attempt %d: %v", attempt, err)
		}
		if attempt < 3 {
			if err := f.engine.RetryMessage(ctx, msgID); err != nil {
				t.Fatalf("retry attempt %d: %v", attempt, err)
			}
			f.repo.messages[msgID].ScheduledAt = time.Now().Add(-time.Second)
		}
	}

	if got := f.repo.messages[msgID].Status; got != domain.MessagePersistentError {
		t.Fatalf("expected persistent_error after 3 attempts, got %s", got)
	}
	if len(f.retries.scheduled) != 2 {
		t.Fatalf("expected retries only for non-terminal failures, got %d", len(f.retries.scheduled))
	}
	enrollment := f.singleEnrollment(t)
	if enrollment.Status != domain.EnrollmentPaused {
		t.Fatalf("expected enrollment paused after terminal failure, got %s", enrollment.Status)
	}
}

func TestDueMessagesHoldsPausedEnrollments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	enrollment := f.singleEnrollment(t)
	if err := f.engine.SetEnrollmentStatus(ctx, enrollment.ID, domain.EnrollmentPaused); err != nil {
		t.Fatalf("pause: %v", err)
	}

	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil {
		t.Fatalf("DueMessages: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("paused enrollment must not deliver, got %d messages", len(claimed))
	}
	if f.singlePendingMessage(t).Status != domain.MessagePending {
		t.Fatalf("held message must stay pending")
	}

	// Resume and the message flows again.
	if err := f.engine.SetEnrollmentStatus(ctx, enrollment.ID, domain.EnrollmentActive); err != nil {
		t.Fatalf("resume: %v", err)
	}
	claimed, err = f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("after resume: %v (%d)", err, len(claimed))
	}
}

func TestChangeStageReschedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	enrollment := f.singleEnrollment(t)

	if err := f.engine.ChangeStage(ctx, enrollment.ID, f.stages[1].ID); err != nil {
		t.Fatalf("ChangeStage: %v", err)
	}

	enrollment = f.singleEnrollment(t)
	if enrollment.CurrentStageID == nil || *enrollment.CurrentStageID != f.stages[1].ID {
		t.Fatalf("expected enrollment moved to second stage")
	}
	msg := f.singlePendingMessage(t)
	if msg.StageID != f.stages[1].ID {
		t.Fatalf("expected pending message for the new stage")
	}
}

func TestChangeStageMarksSkippedStages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extra := seqrepo.Stage{ID: uuid.New(), SequenceID: f.sequence.ID, Name: "closing",
		OrderIndex: 2, DelayAmount: 1, DelayUnit: seqdomain.DelayDays,
		Type: seqdomain.TypeMessage, Content: "last call", Active: true}
	f.sequences.stages[f.sequence.ID] = append(f.sequences.stages[f.sequence.ID], extra)

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	enrollment := f.singleEnrollment(t)

	// Jump from the first stage straight to the third.
	if err := f.engine.ChangeStage(ctx, enrollment.ID, extra.ID); err != nil {
		t.Fatalf("ChangeStage: %v", err)
	}

	progress, err := f.repo.ListProgress(ctx, enrollment.ID)
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	byStage := make(map[uuid.UUID]domain.ProgressStatus, len(progress))
	for _, p := range progress {
		byStage[p.StageID] = p.Status
	}
	if got := byStage[f.stages[0].ID]; got != domain.ProgressSkipped {
		t.Fatalf("expected first stage skipped, got %q", got)
	}
	if got, ok := byStage[f.stages[1].ID]; !ok || got != domain.ProgressSkipped {
		t.Fatalf("jumped-over stage must have a skipped row, got %q (present=%v)", got, ok)
	}
	if got := byStage[extra.ID]; got != domain.ProgressPending {
		t.Fatalf("expected target stage pending, got %q", got)
	}
}

func TestChangeStageDiscardsInFlightMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	enrollment := f.singleEnrollment(t)

	if err := f.engine.ChangeStage(ctx, enrollment.ID, f.stages[1].ID); err != nil {
		t.Fatalf("ChangeStage: %v", err)
	}

	if _, ok := f.repo.messages[claimed[0].ID]; ok {
		t.Fatalf("claimed message must be discarded by the stage change")
	}
	if err := f.engine.HandleDeliveryResult(ctx, claimed[0].ID, true, ""); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict for a discarded message, got %v", err)
	}
}

func TestStaleDeliveryDoesNotOverrideStageChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	enrollment := f.singleEnrollment(t)
	if err := f.engine.ChangeStage(ctx, enrollment.ID, f.stages[1].ID); err != nil {
		t.Fatalf("ChangeStage: %v", err)
	}

	// Model the dispatcher's verdict racing the stage change: the claimed
	// row is still in flight when the success report lands.
	stale := claimed[0]
	stale.Status = domain.MessageProcessing
	f.repo.messages[stale.ID] = &stale
	if err := f.engine.HandleDeliveryResult(ctx, stale.ID, true, ""); err != nil {
		t.Fatalf("stale delivery: %v", err)
	}

	enrollment = f.singleEnrollment(t)
	if enrollment.CurrentStageID == nil || *enrollment.CurrentStageID != f.stages[1].ID {
		t.Fatalf("stale delivery must not move the enrollment off the chosen stage")
	}
	if msg := f.singlePendingMessage(t); msg.StageID != f.stages[1].ID {
		t.Fatalf("expected only the rescheduled message for the chosen stage")
	}
}

func TestRetryKeepsOriginalScheduleForAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	original := f.singlePendingMessage(t)

	claimed, err := f.engine.DueMessages(ctx, 10, nil)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}
	if err := f.engine.HandleDeliveryResult(ctx, claimed[0].ID, false, "timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if err := f.engine.RetryMessage(ctx, claimed[0].ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	retried := f.repo.messages[claimed[0].ID]
	if !retried.RawScheduledAt.Equal(original.RawScheduledAt) {
		t.Fatalf("retry must not touch the original schedule")
	}
}

func TestChangeStageRejectsForeignStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.ProcessTagEvent(ctx, f.clientID, f.contact, []string{"lead"}, nil); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	enrollment := f.singleEnrollment(t)

	otherSeq := uuid.New()
	foreign := seqrepo.Stage{ID: uuid.New(), SequenceID: otherSeq, Name: "x",
		Type: seqdomain.TypeMessage, Active: true}
	f.sequences.stages[otherSeq] = []seqrepo.Stage{foreign}

	err := f.engine.ChangeStage(ctx, enrollment.ID, foreign.ID)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnrollDirectBypassesStartCondition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Contact has no matching tags at all.
	enrolled, err := f.engine.EnrollDirect(ctx, f.clientID, f.sequence.ID, f.contact, nil)
	if err != nil {
		t.Fatalf("EnrollDirect: %v", err)
	}
	if !enrolled {
		t.Fatalf("expected direct enrollment")
	}

	// A second trigger is a no-op.
	enrolled, err = f.engine.EnrollDirect(ctx, f.clientID, f.sequence.ID, f.contact, nil)
	if err != nil {
		t.Fatalf("EnrollDirect replay: %v", err)
	}
	if enrolled {
		t.Fatalf("expected replay to be a no-op")
	}
}

func TestEnrollDirectRejectsForeignClient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.EnrollDirect(ctx, uuid.New(), f.sequence.ID, f.contact, nil)
	if !apperr.Is(err, apperr.KindForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

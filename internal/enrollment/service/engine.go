// Package service implements the enrollment engine: tag-change evaluation,
// stage advancement and message scheduling.
package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	clientsrepo "dripline_backend/internal/clients/repository"
	contactsrepo "dripline_backend/internal/contacts/repository"
	"dripline_backend/internal/enrollment/domain"
	"dripline_backend/internal/enrollment/repository"
	"dripline_backend/internal/events"
	seqdomain "dripline_backend/internal/sequences/domain"
	seqrepo "dripline_backend/internal/sequences/repository"
	"dripline_backend/platform/apperr"
	"dripline_backend/platform/logger"
)

// SequenceSource is the slice of the sequences module the engine reads.
type SequenceSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (seqrepo.Sequence, error)
	ListActiveByClient(ctx context.Context, clientID uuid.UUID) ([]seqrepo.Sequence, error)
	ListStages(ctx context.Context, sequenceID uuid.UUID) ([]seqrepo.Stage, error)
	GetStage(ctx context.Context, id uuid.UUID) (seqrepo.Stage, error)
}

// ContactSource resolves contacts when advancing enrollments.
type ContactSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (contactsrepo.Contact, error)
}

// InstanceSource resolves an instance's owning client for window checks.
type InstanceSource interface {
	GetInstance(ctx context.Context, id uuid.UUID) (clientsrepo.Instance, error)
}

// WindowChecker gates dispatch on the client's sending windows.
type WindowChecker interface {
	SendingAllowed(ctx context.Context, clientID, sequenceID uuid.UUID, at time.Time) (bool, error)
}

// RetryScheduler queues a delayed retry for a failed message.
type RetryScheduler interface {
	ScheduleRetry(ctx context.Context, messageID uuid.UUID, at time.Time) error
}

// EngineConfig carries the delivery tuning knobs.
type EngineConfig interface {
	GetMaxDeliveryAttempts() int
	GetRetryBackoffBase() time.Duration
}

// Engine drives enrollments through their sequences.
type Engine struct {
	repo      repository.Repository
	sequences SequenceSource
	contacts  ContactSource
	instances InstanceSource
	windows   WindowChecker
	retries   RetryScheduler
	cfg       EngineConfig
	bus       events.Bus
	log       *logger.Logger
	now       func() time.Time
}

// NewEngine creates the enrollment engine.
func NewEngine(
	repo repository.Repository,
	sequences SequenceSource,
	contacts ContactSource,
	instances InstanceSource,
	windows WindowChecker,
	retries RetryScheduler,
	cfg EngineConfig,
	bus events.Bus,
	log *logger.Logger,
) *Engine {
	return &Engine{
		repo:      repo,
		sequences: sequences,
		contacts:  contacts,
		instances: instances,
		windows:   windows,
		retries:   retries,
		cfg:       cfg,
		bus:       bus,
		log:       log,
		now:       time.Now,
	}
}

// TagEventResult summarizes what a tag change did. Processed counts every
// sequence evaluated. Skipped sequences matched the start condition but
// were outside their sending windows; they are retried on the next
// qualifying event.
type TagEventResult struct {
	Processed int
	Enrolled  []uuid.UUID
	Stopped   []uuid.UUID
	Skipped   []uuid.UUID
	Failed    []uuid.UUID
}

// ProcessTagEvent evaluates the contact's new tag set against every active
// sequence of the client. Stop conditions win over start conditions for
// the same sequence; a sequence the contact was ever enrolled in is never
// entered twice. A failure in one sequence is logged and counted, the
// remaining sequences are still evaluated.
func (e *Engine) ProcessTagEvent(ctx context.Context, clientID uuid.UUID, contact contactsrepo.Contact, tags []string, vars map[string]string) (TagEventResult, error) {
	sequences, err := e.sequences.ListActiveByClient(ctx, clientID)
	if err != nil {
		return TagEventResult{}, err
	}

	tagSet := seqdomain.TagSet(tags)
	result := TagEventResult{Processed: len(sequences)}

	for _, seq := range sequences {
		if seq.StopCondition.Matches(tagSet) {
			enrollment, err := e.repo.FindEngaged(ctx, contact.ID, seq.ID)
			if apperr.Is(err, apperr.KindNotFound) {
				continue
			}
			if err != nil {
				e.log.Error("stop lookup failed", "sequenceId", seq.ID, "contactId", contact.ID, "error", err)
				result.Failed = append(result.Failed, seq.ID)
				continue
			}
			if err := e.stopEnrollment(ctx, enrollment); err != nil {
				e.log.Error("stop enrollment failed", "enrollmentId", enrollment.ID, "error", err)
				result.Failed = append(result.Failed, seq.ID)
				continue
			}
			result.Stopped = append(result.Stopped, seq.ID)
			continue
		}

		if !seq.StartCondition.Matches(tagSet) {
			continue
		}
		allowed, err := e.windows.SendingAllowed(ctx, clientID, seq.ID, e.now())
		if err != nil {
			e.log.Error("window check failed", "sequenceId", seq.ID, "error", err)
			result.Failed = append(result.Failed, seq.ID)
			continue
		}
		if !allowed {
			result.Skipped = append(result.Skipped, seq.ID)
			continue
		}
		enrolled, err := e.enroll(ctx, seq, contact, vars)
		if err != nil {
			e.log.Error("enroll failed", "sequenceId", seq.ID, "contactId", contact.ID, "error", err)
			result.Failed = append(result.Failed, seq.ID)
			continue
		}
		if enrolled {
			result.Enrolled = append(result.Enrolled, seq.ID)
		}
	}
	return result, nil
}

// EnrollDirect enrolls a contact into a specific sequence, bypassing the
// start condition. Used by the external trigger webhook. The sequence must
// belong to the authenticated client.
func (e *Engine) EnrollDirect(ctx context.Context, clientID, sequenceID uuid.UUID, contact contactsrepo.Contact, vars map[string]string) (bool, error) {
	seq, err := e.sequences.GetByID(ctx, sequenceID)
	if err != nil {
		return false, err
	}
	if !seq.Active {
		return false, apperr.Conflict("sequence is not active")
	}

	instance, err := e.instances.GetInstance(ctx, seq.InstanceID)
	if err != nil {
		return false, err
	}
	if instance.ClientID != clientID {
		return false, apperr.Forbidden("sequence belongs to another client")
	}
	return e.enroll(ctx, seq, contact, vars)
}

// enroll creates the enrollment and schedules the first stage message.
// Returns false without error when the contact already went through the
// sequence, and when a concurrent event won the enrollment race.
func (e *Engine) enroll(ctx context.Context, seq seqrepo.Sequence, contact contactsrepo.Contact, vars map[string]string) (bool, error) {
	seen, err := e.repo.HasAnyEnrollment(ctx, contact.ID, seq.ID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, nil
	}

	stages, err := e.sequences.ListStages(ctx, seq.ID)
	if err != nil {
		return false, err
	}
	if len(stages) == 0 {
		e.log.Warn("sequence has no stages, skipping enrollment", "sequenceId", seq.ID)
		return false, nil
	}
	first := stages[0]

	enrollment, err := e.repo.CreateEnrollment(ctx, contact.ID, seq.ID, &first.ID)
	if apperr.Is(err, apperr.KindConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := e.repo.CreateProgress(ctx, enrollment.ID, first.ID); err != nil {
		return false, err
	}
	if err := e.scheduleStageMessage(ctx, enrollment, seq, first, contact, vars); err != nil {
		return false, err
	}

	e.log.Info("contact enrolled", "enrollmentId", enrollment.ID,
		"contactId", contact.ID, "sequenceId", seq.ID)
	return true, nil
}

// stopEnrollment halts an engaged enrollment: undelivered messages are
// stopped, open progress is closed and the enrollment goes terminal.
func (e *Engine) stopEnrollment(ctx context.Context, enrollment repository.Enrollment) error {
	stopped, err := e.repo.StopPendingMessages(ctx, enrollment.ID)
	if err != nil {
		return err
	}
	if err := e.repo.CloseAllPendingProgress(ctx, enrollment.ID, domain.ProgressRemoved); err != nil {
		return err
	}
	if err := e.repo.SetEnrollmentStatus(ctx, enrollment.ID, domain.EnrollmentStopped); err != nil {
		return err
	}

	e.log.Info("enrollment stopped", "enrollmentId", enrollment.ID, "messagesStopped", stopped)
	return nil
}

// SetEnrollmentStatus applies an admin status change, enforcing the
// transition rules. Pausing keeps pending messages; they are held back by
// the dispatcher until the enrollment resumes.
func (e *Engine) SetEnrollmentStatus(ctx context.Context, id uuid.UUID, status domain.EnrollmentStatus) error {
	enrollment, err := e.repo.GetEnrollment(ctx, id)
	if err != nil {
		return err
	}
	if err := domain.CheckEnrollmentTransition(enrollment.Status, status); err != nil {
		return err
	}

	if status == domain.EnrollmentStopped || status == domain.EnrollmentRemoved {
		if _, err := e.repo.StopPendingMessages(ctx, id); err != nil {
			return err
		}
		if err := e.repo.CloseAllPendingProgress(ctx, id, domain.ProgressRemoved); err != nil {
			return err
		}
	}
	return e.repo.SetEnrollmentStatus(ctx, id, status)
}

// ChangeStage moves an enrollment to an arbitrary stage of its sequence.
// Undelivered messages are discarded and the new stage is scheduled with
// its own delay.
func (e *Engine) ChangeStage(ctx context.Context, enrollmentID, stageID uuid.UUID) error {
	enrollment, err := e.repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if !enrollment.Status.IsEngaged() {
		return apperr.Conflict("enrollment is not active")
	}

	stage, err := e.sequences.GetStage(ctx, stageID)
	if err != nil {
		return err
	}
	if stage.SequenceID != enrollment.SequenceID {
		return apperr.Validation("stage belongs to a different sequence")
	}
	if !stage.Active {
		return apperr.Validation("stage is no longer active")
	}

	seq, err := e.sequences.GetByID(ctx, enrollment.SequenceID)
	if err != nil {
		return err
	}
	contact, err := e.contacts.GetByID(ctx, enrollment.ContactID)
	if err != nil {
		return err
	}

	if _, err := e.repo.DeletePendingMessages(ctx, enrollmentID); err != nil {
		return err
	}
	if err := e.repo.CloseAllPendingProgress(ctx, enrollmentID, domain.ProgressSkipped); err != nil {
		return err
	}
	// A forward jump skips every stage between the old position and the
	// target; each of them gets a skipped progress row unless it already
	// finished earlier.
	if enrollment.CurrentStageID != nil {
		current, err := e.sequences.GetStage(ctx, *enrollment.CurrentStageID)
		if err != nil {
			return err
		}
		if stage.OrderIndex > current.OrderIndex {
			stages, err := e.sequences.ListStages(ctx, enrollment.SequenceID)
			if err != nil {
				return err
			}
			for _, s := range stages {
				if s.OrderIndex >= current.OrderIndex && s.OrderIndex < stage.OrderIndex {
					if err := e.repo.EnsureSkippedProgress(ctx, enrollmentID, s.ID); err != nil {
						return err
					}
				}
			}
		}
	}
	if err := e.repo.SetCurrentStage(ctx, enrollmentID, stageID); err != nil {
		return err
	}
	if _, err := e.repo.CreateProgress(ctx, enrollmentID, stageID); err != nil {
		return err
	}
	if err := e.scheduleStageMessage(ctx, enrollment, seq, stage, contact, nil); err != nil {
		return err
	}

	e.log.Info("enrollment stage changed", "enrollmentId", enrollmentID, "stageId", stageID)
	return nil
}

// HandleDeliveryResult applies the external dispatcher's verdict on a
// claimed message. Success completes the stage and advances the
// enrollment; failure schedules a retry until attempts run out.
func (e *Engine) HandleDeliveryResult(ctx context.Context, messageID uuid.UUID, success bool, reason string) error {
	if success {
		return e.handleDelivered(ctx, messageID)
	}
	return e.handleFailed(ctx, messageID, reason)
}

func (e *Engine) handleDelivered(ctx context.Context, messageID uuid.UUID) error {
	msg, err := e.repo.MarkSent(ctx, messageID)
	if err != nil {
		return err
	}
	if err := e.repo.CloseProgress(ctx, msg.EnrollmentID, msg.StageID, domain.ProgressCompleted); err != nil {
		return err
	}
	if err := e.repo.TouchLastMessage(ctx, msg.EnrollmentID); err != nil {
		return err
	}
	e.bus.Publish(ctx, events.MessageSent{
		BaseEvent:  events.NewBaseEvent(),
		InstanceID: msg.InstanceID,
		MessageID:  msg.ID,
	})
	return e.advance(ctx, msg)
}

// advance moves the enrollment to the next active stage, or completes the
// sequence when the delivered stage was the last one.
func (e *Engine) advance(ctx context.Context, msg repository.ScheduledMessage) error {
	enrollment, err := e.repo.GetEnrollment(ctx, msg.EnrollmentID)
	if err != nil {
		return err
	}
	if !enrollment.Status.IsEngaged() {
		return nil
	}
	// The enrollment may have been moved to another stage while this
	// message was in flight; a stale delivery must not move it back.
	if enrollment.CurrentStageID == nil || *enrollment.CurrentStageID != msg.StageID {
		return nil
	}

	current, err := e.sequences.GetStage(ctx, msg.StageID)
	if err != nil {
		return err
	}
	stages, err := e.sequences.ListStages(ctx, enrollment.SequenceID)
	if err != nil {
		return err
	}

	next, ok := nextStage(stages, current.OrderIndex)
	if !ok {
		if err := e.repo.SetEnrollmentStatus(ctx, enrollment.ID, domain.EnrollmentCompleted); err != nil {
			return err
		}
		e.bus.Publish(ctx, events.SequenceCompleted{
			BaseEvent:  events.NewBaseEvent(),
			InstanceID: msg.InstanceID,
			SequenceID: enrollment.SequenceID,
			ContactID:  enrollment.ContactID,
		})
		e.log.Info("sequence completed", "enrollmentId", enrollment.ID, "sequenceId", enrollment.SequenceID)
		return nil
	}

	seq, err := e.sequences.GetByID(ctx, enrollment.SequenceID)
	if err != nil {
		return err
	}
	contact, err := e.contacts.GetByID(ctx, enrollment.ContactID)
	if err != nil {
		return err
	}

	if err := e.repo.SetCurrentStage(ctx, enrollment.ID, next.ID); err != nil {
		return err
	}
	if _, err := e.repo.CreateProgress(ctx, enrollment.ID, next.ID); err != nil {
		return err
	}
	return e.scheduleStageMessage(ctx, enrollment, seq, next, contact, nil)
}

func (e *Engine) handleFailed(ctx context.Context, messageID uuid.UUID, reason string) error {
	msg, err := e.repo.MarkFailed(ctx, messageID, reason)
	if err != nil {
		return err
	}

	terminal := msg.Attempts >= e.cfg.GetMaxDeliveryAttempts()
	e.bus.Publish(ctx, events.MessageFailed{
		BaseEvent:  events.NewBaseEvent(),
		InstanceID: msg.InstanceID,
		MessageID:  msg.ID,
		Attempts:   msg.Attempts,
		Terminal:   terminal,
	})

	if terminal {
		if err := e.repo.MarkPersistentError(ctx, msg.ID); err != nil {
			return err
		}
		// Recoverable: an admin can resume and move the stage manually.
		if err := e.repo.SetEnrollmentStatus(ctx, msg.EnrollmentID, domain.EnrollmentPaused); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		e.log.Warn("message retired after exhausted retries",
			"messageId", msg.ID, "attempts", msg.Attempts)
		return nil
	}

	retryAt := e.now().Add(e.cfg.GetRetryBackoffBase() * time.Duration(msg.Attempts))
	if err := e.retries.ScheduleRetry(ctx, msg.ID, retryAt); err != nil {
		return err
	}
	e.log.Info("message retry scheduled", "messageId", msg.ID,
		"attempt", msg.Attempts, "retryAt", retryAt)
	return nil
}

// RetryMessage flips a failed message back to pending. Invoked by the
// delayed retry task when its backoff elapses.
func (e *Engine) RetryMessage(ctx context.Context, messageID uuid.UUID) error {
	return e.repo.RetryMessage(ctx, messageID)
}

// DueMessages claims up to limit deliverable messages. Messages whose
// sending window is currently closed, or whose enrollment is paused, are
// released back to pending. When onlyClient is set, messages of other
// clients are released too, so a per-client dispatcher never sees them.
func (e *Engine) DueMessages(ctx context.Context, limit int, onlyClient *uuid.UUID) ([]repository.ScheduledMessage, error) {
	claimed, err := e.repo.ClaimDue(ctx, limit)
	if err != nil {
		return nil, err
	}

	deliverable := make([]repository.ScheduledMessage, 0, len(claimed))
	for _, msg := range claimed {
		ok, err := e.deliverableNow(ctx, msg, onlyClient)
		if err != nil {
			e.log.Error("deliverability check failed, releasing message",
				"messageId", msg.ID, "error", err)
			ok = false
		}
		if !ok {
			if relErr := e.repo.ReleaseMessage(ctx, msg.ID); relErr != nil {
				e.log.Error("release message failed", "messageId", msg.ID, "error", relErr)
			}
			continue
		}
		deliverable = append(deliverable, msg)
	}
	return deliverable, nil
}

func (e *Engine) deliverableNow(ctx context.Context, msg repository.ScheduledMessage, onlyClient *uuid.UUID) (bool, error) {
	enrollment, err := e.repo.GetEnrollment(ctx, msg.EnrollmentID)
	if err != nil {
		return false, err
	}
	if enrollment.Status != domain.EnrollmentActive {
		return false, nil
	}

	instance, err := e.instances.GetInstance(ctx, msg.InstanceID)
	if err != nil {
		return false, err
	}
	if !instance.Active {
		return false, nil
	}
	if onlyClient != nil && instance.ClientID != *onlyClient {
		return false, nil
	}
	return e.windows.SendingAllowed(ctx, instance.ClientID, msg.SequenceID, e.now())
}

// MessageOwner resolves the client a scheduled message belongs to.
func (e *Engine) MessageOwner(ctx context.Context, messageID uuid.UUID) (uuid.UUID, error) {
	msg, err := e.repo.GetMessage(ctx, messageID)
	if err != nil {
		return uuid.Nil, err
	}
	instance, err := e.instances.GetInstance(ctx, msg.InstanceID)
	if err != nil {
		return uuid.Nil, err
	}
	return instance.ClientID, nil
}

// RequeueStuck returns messages stuck in processing longer than ttl to
// pending.
func (e *Engine) RequeueStuck(ctx context.Context, ttl time.Duration) (int64, error) {
	return e.repo.RequeueStuckProcessing(ctx, ttl)
}

// Enrollments returns a contact's enrollment history.
func (e *Engine) Enrollments(ctx context.Context, contactID uuid.UUID) ([]repository.Enrollment, error) {
	return e.repo.ListByContact(ctx, contactID)
}

// SequenceEnrollments returns a sequence's enrollments, optionally
// filtered by status.
func (e *Engine) SequenceEnrollments(ctx context.Context, sequenceID uuid.UUID, status string) ([]repository.Enrollment, error) {
	return e.repo.ListBySequence(ctx, sequenceID, status)
}

// scheduleStageMessage renders the stage content for the contact and
// queues it at now plus the stage delay. Event-supplied variables overlay
// the contact's own fields in the template.
func (e *Engine) scheduleStageMessage(ctx context.Context, enrollment repository.Enrollment, seq seqrepo.Sequence, stage seqrepo.Stage, contact contactsrepo.Contact, vars map[string]string) error {
	scheduledAt := e.now().Add(seqdomain.StageDelay(stage.DelayAmount, stage.DelayUnit))

	templateVars := map[string]string{
		"name":  contact.Name,
		"phone": contact.Phone,
	}
	for name, value := range vars {
		templateVars[name] = value
	}
	content := seqdomain.RenderContent(stage.Content, templateVars)

	var typebotStage string
	if stage.Type == seqdomain.TypeTypebot {
		typebotStage = "stg" + strconv.Itoa(stage.OrderIndex+1)
	}

	msg, err := e.repo.CreateMessage(ctx, repository.CreateMessageParams{
		EnrollmentID: enrollment.ID,
		InstanceID:   seq.InstanceID,
		SequenceID:   seq.ID,
		StageID:      stage.ID,
		ContactID:    contact.ID,
		Phone:        contact.Phone,
		Type:         string(stage.Type),
		Content:      content,
		TypebotStage: typebotStage,
		ScheduledAt:  scheduledAt,
	})
	if err != nil {
		return err
	}

	e.bus.Publish(ctx, events.MessageScheduled{
		BaseEvent:   events.NewBaseEvent(),
		InstanceID:  seq.InstanceID,
		SequenceID:  seq.ID,
		ContactID:   contact.ID,
		MessageID:   msg.ID,
		ScheduledAt: scheduledAt,
	})
	return nil
}

// nextStage returns the first active stage ordered after the given index.
func nextStage(stages []seqrepo.Stage, afterIndex int) (seqrepo.Stage, bool) {
	for _, s := range stages {
		if s.OrderIndex > afterIndex {
			return s, true
		}
	}
	return seqrepo.Stage{}, false
}

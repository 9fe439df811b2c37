// Package domain defines the enrollment state machine: the closed status
// sets for enrollments, stage progress, and scheduled messages, and the
// single table of legal transitions between them.
package domain

import "fmt"

// EnrollmentStatus is the lifecycle state of a ContactSequence record.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentRemoved   EnrollmentStatus = "removed"
	EnrollmentStopped   EnrollmentStatus = "stopped"
)

// ProgressStatus is the audit state of one stage under one enrollment.
type ProgressStatus string

const (
	ProgressPending   ProgressStatus = "pending"
	ProgressCompleted ProgressStatus = "completed"
	ProgressSkipped   ProgressStatus = "skipped"
	ProgressRemoved   ProgressStatus = "removed"
)

// MessageStatus is the state of a queued send.
type MessageStatus string

const (
	MessagePending         MessageStatus = "pending"
	MessageProcessing      MessageStatus = "processing"
	MessageSent            MessageStatus = "sent"
	MessageFailed          MessageStatus = "failed"
	MessagePersistentError MessageStatus = "persistent_error"
	MessageStopped         MessageStatus = "stopped"
)

// enrollmentTransitions lists the legal enrollment moves. Terminal states
// (completed, removed, stopped) have no outgoing edges: a re-qualifying
// contact gets a fresh enrollment record, history is preserved.
var enrollmentTransitions = map[EnrollmentStatus][]EnrollmentStatus{
	EnrollmentActive: {EnrollmentPaused, EnrollmentCompleted, EnrollmentRemoved, EnrollmentStopped},
	EnrollmentPaused: {EnrollmentActive, EnrollmentCompleted, EnrollmentRemoved, EnrollmentStopped},
}

// progressTransitions: completed is never downgraded.
var progressTransitions = map[ProgressStatus][]ProgressStatus{
	ProgressPending: {ProgressCompleted, ProgressSkipped, ProgressRemoved},
}

// messageTransitions: failed messages can return to pending for a retry
// until the attempt budget is exhausted.
var messageTransitions = map[MessageStatus][]MessageStatus{
	MessagePending:    {MessageProcessing, MessageStopped},
	MessageProcessing: {MessageSent, MessageFailed, MessageStopped},
	MessageFailed:     {MessagePending, MessagePersistentError, MessageStopped},
}

// CanTransitionEnrollment reports whether from → to is a legal enrollment move.
func CanTransitionEnrollment(from, to EnrollmentStatus) bool {
	return contains(enrollmentTransitions[from], to)
}

// CanTransitionProgress reports whether from → to is a legal progress move.
func CanTransitionProgress(from, to ProgressStatus) bool {
	return contains(progressTransitions[from], to)
}

// CanTransitionMessage reports whether from → to is a legal message move.
func CanTransitionMessage(from, to MessageStatus) bool {
	return contains(messageTransitions[from], to)
}

// CheckEnrollmentTransition returns an error describing an illegal move.
func CheckEnrollmentTransition(from, to EnrollmentStatus) error {
	if !CanTransitionEnrollment(from, to) {
		return fmt.Errorf("illegal enrollment transition %s -> %s", from, to)
	}
	return nil
}

// IsTerminal reports whether the enrollment status has no outgoing edges.
func (s EnrollmentStatus) IsTerminal() bool {
	return len(enrollmentTransitions[s]) == 0
}

// IsEngaged reports whether the enrollment still occupies the at-most-one
// active slot for its (contact, sequence) pair.
func (s EnrollmentStatus) IsEngaged() bool {
	return s == EnrollmentActive || s == EnrollmentPaused
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

package domain

import "testing"

func TestEnrollmentTerminalStatesHaveNoExits(t *testing.T) {
	terminals := []EnrollmentStatus{EnrollmentCompleted, EnrollmentRemoved, EnrollmentStopped}
	all := []EnrollmentStatus{EnrollmentActive, EnrollmentPaused, EnrollmentCompleted, EnrollmentRemoved, EnrollmentStopped}

	for _, from := range terminals {
		if !from.IsTerminal() {
			t.Fatalf("%s should be terminal", from)
		}
		for _, to := range all {
			if CanTransitionEnrollment(from, to) {
				t.Fatalf("terminal state %s must not transition to %s", from, to)
			}
		}
	}
}

func TestEnrollmentPauseResume(t *testing.T) {
	if !CanTransitionEnrollment(EnrollmentActive, EnrollmentPaused) {
		t.Fatalf("active -> paused should be legal")
	}
	if !CanTransitionEnrollment(EnrollmentPaused, EnrollmentActive) {
		t.Fatalf("paused -> active should be legal")
	}
	if CanTransitionEnrollment(EnrollmentCompleted, EnrollmentActive) {
		t.Fatalf("completed -> active must be illegal")
	}
	if err := CheckEnrollmentTransition(EnrollmentStopped, EnrollmentActive); err == nil {
		t.Fatalf("expected error for stopped -> active")
	}
}

func TestProgressCompletedIsNeverDowngraded(t *testing.T) {
	for _, to := range []ProgressStatus{ProgressPending, ProgressSkipped, ProgressRemoved} {
		if CanTransitionProgress(ProgressCompleted, to) {
			t.Fatalf("completed progress must not move to %s", to)
		}
	}
	if !CanTransitionProgress(ProgressPending, ProgressSkipped) {
		t.Fatalf("pending -> skipped should be legal")
	}
}

func TestMessageRetryLoop(t *testing.T) {
	if !CanTransitionMessage(MessagePending, MessageProcessing) {
		t.Fatalf("pending -> processing should be legal")
	}
	if !CanTransitionMessage(MessageProcessing, MessageFailed) {
		t.Fatalf("processing -> failed should be legal")
	}
	if !CanTransitionMessage(MessageFailed, MessagePending) {
		t.Fatalf("failed -> pending (retry) should be legal")
	}
	if !CanTransitionMessage(MessageFailed, MessagePersistentError) {
		t.Fatalf("failed -> persistent_error should be legal")
	}
	if CanTransitionMessage(MessageSent, MessagePending) {
		t.Fatalf("sent is terminal")
	}
	if CanTransitionMessage(MessagePersistentError, MessagePending) {
		t.Fatalf("persistent_error is terminal")
	}
}

func TestEngagedStatuses(t *testing.T) {
	if !EnrollmentActive.IsEngaged() || !EnrollmentPaused.IsEngaged() {
		t.Fatalf("active and paused occupy the enrollment slot")
	}
	for _, s := range []EnrollmentStatus{EnrollmentCompleted, EnrollmentRemoved, EnrollmentStopped} {
		if s.IsEngaged() {
			t.Fatalf("%s must not be engaged", s)
		}
	}
}

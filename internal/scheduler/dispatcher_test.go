package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dripline_backend/platform/logger"
)

type countingRequeuer struct {
	calls atomic.Int64
	err   error
}

func (c *countingRequeuer) RequeueStuck(_ context.Context, _ time.Duration) (int64, error) {
	c.calls.Add(1)
	return 2, c.err
}

func TestNewWatchdogInterval(t *testing.T) {
	log := logger.New("development")

	w := NewWatchdog(&countingRequeuer{}, 40*time.Minute, log)
	if w.interval != 10*time.Minute {
		t.Fatalf("expected a quarter of the ttl, got %v", w.interval)
	}

	w = NewWatchdog(&countingRequeuer{}, time.Minute, log)
	if w.interval != time.Minute {
		t.Fatalf("short ttls floor at one minute, got %v", w.interval)
	}
}

func TestWatchdogSweep(t *testing.T) {
	requeuer := &countingRequeuer{}
	w := NewWatchdog(requeuer, 10*time.Minute, logger.New("development"))

	w.sweep(context.Background())
	if requeuer.calls.Load() != 1 {
		t.Fatalf("expected one requeue call, got %d", requeuer.calls.Load())
	}
}

func TestWatchdogSweepSurvivesErrors(t *testing.T) {
	requeuer := &countingRequeuer{err: errors.New("connection refused")}
	w := NewWatchdog(requeuer, 10*time.Minute, logger.New("development"))

	// Must not panic.
	w.sweep(context.Background())
	if requeuer.calls.Load() != 1 {
		t.Fatalf("expected the sweep to run despite the error")
	}
}

func TestWatchdogStopsOnCancel(t *testing.T) {
	w := NewWatchdog(&countingRequeuer{}, 10*time.Minute, logger.New("development"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

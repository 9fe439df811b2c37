package scheduler

import (
	"context"
	"time"

	"dripline_backend/platform/logger"
)

// StuckRequeuer is the slice of the engine the watchdog calls.
type StuckRequeuer interface {
	RequeueStuck(ctx context.Context, ttl time.Duration) (int64, error)
}

// Watchdog periodically returns messages abandoned in processing back to
// pending. Covers external dispatchers that claimed a batch and died.
type Watchdog struct {
	engine   StuckRequeuer
	ttl      time.Duration
	interval time.Duration
	log      *logger.Logger
}

// NewWatchdog creates the requeue watchdog. The sweep interval is a
// quarter of the processing TTL, floored at one minute.
func NewWatchdog(engine StuckRequeuer, ttl time.Duration, log *logger.Logger) *Watchdog {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Watchdog{engine: engine, ttl: ttl, interval: interval, log: log}
}

// Run sweeps on a ticker until the context is canceled.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("requeue watchdog started", "ttl", w.ttl, "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) {
	requeued, err := w.engine.RequeueStuck(ctx, w.ttl)
	if err != nil {
		w.log.Error("requeue sweep failed", "error", err)
		return
	}
	if requeued > 0 {
		w.log.Warn("stuck messages requeued", "count", requeued)
	}
}

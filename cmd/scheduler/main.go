package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"dripline_backend/internal/enrollment/repository"
	"dripline_backend/internal/scheduler"
	"dripline_backend/platform/config"
	"dripline_backend/platform/db"
	"dripline_backend/platform/logger"
)

// The scheduler binary runs the background half of the engine: the asynq
// worker that requeues failed messages after their backoff, and the
// watchdog that rescues messages abandoned in processing.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	repo := repository.New(pool)
	watchdog := scheduler.NewWatchdog(requeuer{repo}, cfg.ProcessingTTL, log)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return watchdog.Run(groupCtx)
	})

	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not configured; retry worker disabled")
	} else {
		worker, err := scheduler.NewWorker(cfg, repo, log)
		if err != nil {
			log.Error("failed to initialize retry worker", "error", err)
			panic("failed to initialize retry worker: " + err.Error())
		}
		group.Go(func() error {
			return worker.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("scheduler stopped", "error", err)
		os.Exit(1)
	}
	log.Info("scheduler shut down")
}

// requeuer adapts the repository to the watchdog's port.
type requeuer struct {
	repo repository.Repository
}

func (r requeuer) RequeueStuck(ctx context.Context, ttl time.Duration) (int64, error) {
	return r.repo.RequeueStuckProcessing(ctx, ttl)
}

package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"dripline_backend/platform/config"
	"dripline_backend/platform/logger"
)

// MessageRetrier is the slice of the engine the worker calls.
type MessageRetrier interface {
	RetryMessage(ctx context.Context, messageID uuid.UUID) error
}

// Worker consumes retry tasks and hands them back to the engine.
type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	retrier MessageRetrier
	log     *logger.Logger
}

// NewWorker creates the asynq consumer.
func NewWorker(cfg config.SchedulerConfig, retrier MessageRetrier, log *logger.Logger) (*Worker, error) {
	opt, err := redisConnOpt(cfg)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.GetAsynqConcurrency(),
		Queues:      map[string]int{cfg.GetAsynqQueueName(): 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("task failed", "type", task.Type(), "error", err)
		}),
	})

	w := &Worker{
		server:  server,
		mux:     asynq.NewServeMux(),
		retrier: retrier,
		log:     log,
	}
	w.mux.HandleFunc(TaskMessageRetry, w.handleMessageRetry)
	return w, nil
}

// Run blocks serving tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	w.log.Info("retry worker started")
	if err := w.server.Run(w.mux); err != nil {
		return fmt.Errorf("asynq server: %w", err)
	}
	return nil
}

func (w *Worker) handleMessageRetry(ctx context.Context, task *asynq.Task) error {
	var payload messageRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal retry payload: %w", asynq.SkipRetry)
	}

	if err := w.retrier.RetryMessage(ctx, payload.MessageID); err != nil {
		return fmt.Errorf("retry message %s: %w", payload.MessageID, err)
	}
	w.log.Info("failed message requeued", "messageId", payload.MessageID)
	return nil
}

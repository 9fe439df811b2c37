package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"dripline_backend/platform/logger"
)

type testSchedulerConfig struct {
	redisURL string
}

func (c testSchedulerConfig) GetRedisURL() string             { return c.redisURL }
func (c testSchedulerConfig) GetRedisTLSInsecure() bool       { return false }
func (c testSchedulerConfig) GetAsynqQueueName() string       { return "retries" }
func (c testSchedulerConfig) GetAsynqConcurrency() int        { return 1 }
func (c testSchedulerConfig) GetProcessingTTL() time.Duration { return 10 * time.Minute }

func TestScheduleRetryEnqueuesDelayedTask(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testSchedulerConfig{redisURL: "redis://" + mr.Addr()}

	client, err := NewClient(cfg, logger.New("development"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	messageID := uuid.New()
	retryAt := time.Now().Add(5 * time.Minute)
	if err := client.ScheduleRetry(context.Background(), messageID, retryAt); err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: mr.Addr()})
	defer inspector.Close()

	tasks, err := inspector.ListScheduledTasks("retries")
	if err != nil {
		t.Fatalf("ListScheduledTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 scheduled task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Type != TaskMessageRetry {
		t.Fatalf("unexpected task type %q", task.Type)
	}

	var payload struct {
		MessageID uuid.UUID `json:"messageId"`
	}
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.MessageID != messageID {
		t.Fatalf("payload carries the wrong message id")
	}
	if task.NextProcessAt.Before(time.Now().Add(4 * time.Minute)) {
		t.Fatalf("task must fire after the backoff, got %v", task.NextProcessAt)
	}
}

func TestRedisConnOptRejectsBadURL(t *testing.T) {
	_, err := NewClient(testSchedulerConfig{redisURL: "not-a-url"}, logger.New("development"))
	if err == nil {
		t.Fatalf("expected an error for a malformed redis url")
	}
}

func TestNewMessageRetryTaskPayload(t *testing.T) {
	messageID := uuid.New()
	task, err := NewMessageRetryTask(messageID)
	if err != nil {
		t.Fatalf("NewMessageRetryTask: %v", err)
	}
	if task.Type() != TaskMessageRetry {
		t.Fatalf("unexpected type %q", task.Type())
	}

	var payload messageRetryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.MessageID != messageID {
		t.Fatalf("round-tripped message id mismatch")
	}
}

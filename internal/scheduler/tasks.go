// Package scheduler runs the background side of the engine: delayed
// message retries over asynq and the watchdog that requeues messages
// abandoned mid-delivery.
package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskMessageRetry flips a failed message back to pending once its
// backoff elapses.
const TaskMessageRetry = "messages.retry"

type messageRetryPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

// NewMessageRetryTask builds the asynq task for a delayed retry.
func NewMessageRetryTask(messageID uuid.UUID) (*asynq.Task, error) {
	payload, err := json.Marshal(messageRetryPayload{MessageID: messageID})
	if err != nil {
		return nil, fmt.Errorf("marshal retry payload: %w", err)
	}
	return asynq.NewTask(TaskMessageRetry, payload), nil
}

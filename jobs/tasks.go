package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAssignmentRetention deactivates role assignments past their expiry.
	TaskAssignmentRetention = "rbac:assignment_retention"
	// TaskIdempotencyCleanup drops stale request keys.
	TaskIdempotencyCleanup = "itdesk:idempotency_cleanup"
)

// Job outcomes reported to a JobRecorder.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ScheduledPayload carries scheduling metadata.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAssignmentRetentionTask constructs the retention task.
func NewAssignmentRetentionTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskAssignmentRetention, at)
}

// NewIdempotencyCleanupTask constructs the key cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskIdempotencyCleanup, at)
}

func newScheduledTask(typ string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(typ, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/itdesk/internal/jobs"
)

// AssignmentPurger deactivates expired role assignments.
type AssignmentPurger interface {
	PurgeExpiredAssignments(ctx context.Context) (int64, error)
}

// KeyCleaner drops idempotency keys older than a cutoff.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// JobRecorder observes job outcomes.
type JobRecorder interface {
	ObserveJob(task, status string)
}

// Retention runs the periodic hygiene tasks. Expired assignments already grant
// nothing at read time; these jobs only keep the tables small.
type Retention struct {
	Purger  AssignmentPurger
	Keys    KeyCleaner
	KeyTTL  time.Duration
	Metrics JobRecorder
	Runs    *jobmetrics.Metrics
	Logger  *slog.Logger
}

// Handlers returns the task handlers to register with the worker.
func (r *Retention) Handlers() []TaskHandler {
	handlers := []TaskHandler{}
	if r.Purger != nil {
		handlers = append(handlers, TaskHandler{Type: TaskAssignmentRetention, Handler: r.HandleAssignmentRetention})
	}
	if r.Keys != nil {
		handlers = append(handlers, TaskHandler{Type: TaskIdempotencyCleanup, Handler: r.HandleIdempotencyCleanup})
	}
	return handlers
}

// HandleAssignmentRetention processes TaskAssignmentRetention tasks.
func (r *Retention) HandleAssignmentRetention(ctx context.Context, t *asynq.Task) error {
	if _, err := decodeScheduled(t); err != nil {
		return err
	}
	run := r.Runs.Track(TaskAssignmentRetention)
	n, err := r.Purger.PurgeExpiredAssignments(ctx)
	r.finish(TaskAssignmentRetention, err, slog.Int64("deactivated", n))
	return run.End(n, err)
}

// HandleIdempotencyCleanup processes TaskIdempotencyCleanup tasks.
func (r *Retention) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	if _, err := decodeScheduled(t); err != nil {
		return err
	}
	ttl := r.KeyTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	run := r.Runs.Track(TaskIdempotencyCleanup)
	n, err := r.Keys.Cleanup(ctx, ttl)
	r.finish(TaskIdempotencyCleanup, err, slog.Int64("deleted", n))
	return run.End(n, err)
}

func (r *Retention) finish(task string, err error, attr slog.Attr) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
		r.logger().Error("job failed", slog.String("task", task), slog.Any("error", err))
	} else {
		r.logger().Info("job done", slog.String("task", task), attr)
	}
	if r.Metrics != nil {
		r.Metrics.ObserveJob(task, status)
	}
}

func (r *Retention) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// decodeScheduled tolerates an empty payload so tasks can be enqueued by hand.
func decodeScheduled(t *asynq.Task) (ScheduledPayload, error) {
	var payload ScheduledPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return payload, nil
}

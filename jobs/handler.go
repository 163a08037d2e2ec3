package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/itdesk/internal/platform/httpx"
	"github.com/odyssey-erp/itdesk/internal/rbac"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

// QueueInspector is the slice of asynq.Inspector the health endpoint uses.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// SweepEnqueuer queues an out-of-schedule retention sweep.
type SweepEnqueuer interface {
	EnqueueAssignmentRetention(ctx context.Context) (*asynq.TaskInfo, error)
}

var _ SweepEnqueuer = (*Client)(nil)

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	enqueuer  SweepEnqueuer
	logger    *slog.Logger
	rbac      rbac.Middleware
}

// NewHandler constructs an HTTP handler for jobs endpoints. inspector and
// enqueuer may be nil.
func NewHandler(inspector QueueInspector, enqueuer SweepEnqueuer, logger *slog.Logger, rbac rbac.Middleware) *Handler {
	return &Handler{inspector: inspector, enqueuer: enqueuer, logger: logger, rbac: rbac}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermSystemView)).Get("/health", h.health)
	// Manual sweeps stay with the administrative roles even when system:run
	// is granted elsewhere by override.
	r.With(
		h.rbac.RequireRole(shared.RoleSuperAdmin, shared.RoleAdmin),
		h.rbac.RequireAll(shared.PermSystemRun),
	).Post("/retention", h.runRetention)
}

type enqueuedTask struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

func (h *Handler) runRetention(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "job queue not configured", "")
		return
	}
	info, err := h.enqueuer.EnqueueAssignmentRetention(r.Context())
	switch {
	case errors.Is(err, ErrSweepQueued):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error(), rbac.CodeConflict)
		return
	case err != nil:
		h.logger.Error("enqueue retention", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue unavailable", "")
		return
	}
	h.logger.Info("retention sweep queued",
		slog.Int64("actor_id", rbac.AuthFromContext(r.Context()).UserID),
		slog.String("task_id", info.ID))
	httpx.JSON(w, http.StatusAccepted, enqueuedTask{ID: info.ID, Queue: info.Queue})
}

type queueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processed_today"`
	Failed    int    `json:"failed_today"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueDefault})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "queue unavailable", "")
		return
	}
	out := queueHealth{Queue: QueueDefault}
	if info != nil {
		out = queueHealth{
			Queue:     info.Queue,
			Pending:   info.Pending,
			Active:    info.Active,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
		}
	}
	httpx.JSON(w, http.StatusOK, out)
}

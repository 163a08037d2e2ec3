package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/itdesk/internal/platform/httpx"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

// PermissionsHandler exposes the permission catalog.
type PermissionsHandler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(shared.PermPermissionsView)).Get("/", h.listPermissions)
	r.With(h.rbac.RequireAll(shared.PermPermissionsCreate)).Post("/", h.createPermission)
	r.With(h.rbac.RequireAll(shared.PermPermissionsDelete)).Delete("/{id}", h.deactivatePermission)
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perms, err := h.service.Catalog.ListPermissions(r.Context(), PermissionFilter{
		Category:        q.Get("category"),
		Resource:        q.Get("resource"),
		IncludeInactive: q.Get("include_inactive") == "true",
	})
	if err != nil {
		h.fail(w, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	var in CreatePermissionInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error(), CodeValidation)
		return
	}
	auth := AuthFromContext(r.Context())
	perm, err := h.service.CreatePermission(r.Context(), auth.UserID, in)
	if err != nil {
		h.fail(w, "create permission", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *PermissionsHandler) deactivatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	auth := AuthFromContext(r.Context())
	perm, err := h.service.DeactivatePermission(r.Context(), auth.UserID, id)
	if err != nil {
		h.fail(w, "deactivate permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, perm)
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

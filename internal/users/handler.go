package users

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/itdesk/internal/platform/httpx"
	"github.com/odyssey-erp/itdesk/internal/rbac"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

// IdempotencyHeader carries the client supplied replay key.
const IdempotencyHeader = "Idempotency-Key"

// Handler manages user management endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAll(shared.PermUsersViewAll)).Get("/", h.listUsers)
	r.Group(func(r chi.Router) {
		// Any users:view scope passes here; readableID narrows "own".
		r.Use(h.rbac.RequireAny(shared.PermUsersView))
		r.Get("/{id}", h.getAccess)
		r.Get("/{id}/roles", h.listRoles)
		r.Get("/{id}/permissions", h.listPermissions)
		r.Get("/{id}/overrides", h.listOverrides)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermRolesAssign))
		r.Post("/{id}/roles", h.assignRole)
		r.Delete("/{id}/roles/{roleID}", h.removeRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermPermissionsOverride))
		r.Put("/{id}/overrides/{permissionID}", h.setOverride)
		r.Delete("/{id}/overrides/{permissionID}", h.clearOverride)
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, perPage := shared.PageFromQuery(q)
	result, err := h.service.ListUsers(r.Context(), ListFilter{Search: q.Get("q"), Page: page, PerPage: perPage})
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := h.readableID(w, r)
	if !ok {
		return
	}
	access, err := h.service.GetAccess(r.Context(), id)
	if err != nil {
		h.fail(w, "get user access", err)
		return
	}
	httpx.JSON(w, http.StatusOK, access)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	id, ok := h.readableID(w, r)
	if !ok {
		return
	}
	roles, err := h.service.GetRoles(r.Context(), id)
	if err != nil {
		h.fail(w, "list user roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.readableID(w, r)
	if !ok {
		return
	}
	perms, err := h.service.GetPermissions(r.Context(), id)
	if err != nil {
		h.fail(w, "list user permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms, "full_access": perms.IsFull()})
}

func (h *Handler) listOverrides(w http.ResponseWriter, r *http.Request) {
	id, ok := h.readableID(w, r)
	if !ok {
		return
	}
	overrides, err := h.service.GetOverrides(r.Context(), id)
	if err != nil {
		h.fail(w, "list user overrides", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error(), rbac.CodeValidation)
		return
	}
	if req.RoleID <= 0 {
		httpx.RespondError(w, &rbac.ValidationError{Fields: map[string]string{"role_id": "required"}})
		return
	}
	auth := rbac.AuthFromContext(r.Context())
	a, err := h.service.AssignRole(r.Context(), auth.UserID, id, req.RoleID, req.AssignOptions, r.Header.Get(IdempotencyHeader))
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, a)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	roleID, err := httpx.IDParam(r, "roleID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	auth := rbac.AuthFromContext(r.Context())
	if err := h.service.RemoveRole(r.Context(), auth.UserID, id, roleID); err != nil {
		h.fail(w, "remove role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setOverride(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	permID, err := httpx.IDParam(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in rbac.OverrideInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error(), rbac.CodeValidation)
		return
	}
	auth := rbac.AuthFromContext(r.Context())
	o, err := h.service.SetOverride(r.Context(), auth.UserID, id, permID, in)
	if err != nil {
		h.fail(w, "set override", err)
		return
	}
	httpx.JSON(w, http.StatusOK, o)
}

func (h *Handler) clearOverride(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	permID, err := httpx.IDParam(r, "permissionID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	auth := rbac.AuthFromContext(r.Context())
	if err := h.service.ClearOverride(r.Context(), auth.UserID, id, permID); err != nil {
		h.fail(w, "clear override", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readableID parses {id} and rejects reads of another user's record unless the
// caller holds users:view across all scopes.
func (h *Handler) readableID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, false
	}
	auth := rbac.AuthFromContext(r.Context())
	if (auth == nil || auth.UserID != id) && !rbac.HasPermission(r.Context(), shared.PermUsersViewAll) {
		httpx.RespondError(w, &rbac.ForbiddenError{Permission: shared.PermUsersView, Reason: "own records only"})
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.IsInternal(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

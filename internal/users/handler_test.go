package users

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/itdesk/internal/rbac"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

func newTestRouter(t *testing.T, svc *Service, perms ...string) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mw := rbac.Middleware{
		Identity: rbac.IdentityResolverFunc(func(*http.Request) (rbac.Identity, error) {
			return rbac.Identity{}, rbac.ErrNoIdentity
		}),
		Logger: logger,
	}
	h := NewHandler(logger, svc, mw)
	r := chi.NewRouter()
	auth := &rbac.AuthContext{UserID: 1, Permissions: rbac.NewPermissionSet(rbac.MustParseTargets(perms...)...)}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithAuth(r.Context(), auth)))
		})
	})
	r.Route("/users", h.MountRoutes)
	return r
}

func serve(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerListUsers(t *testing.T) {
	router := newTestRouter(t, NewService(newMockRepo(), newMockRBAC(), nil, nil), shared.PermUsersView)

	rec := serve(router, http.MethodGet, "/users/?page=1&per_page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page Page
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.Len(t, page.Users, 3)
	assert.Equal(t, 2, page.Pagination.TotalPages)
}

func TestHandlerListUsersForbidden(t *testing.T) {
	router := newTestRouter(t, NewService(newMockRepo(), newMockRBAC(), nil, nil), shared.PermTicketsView)

	rec := serve(router, http.MethodGet, "/users/", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.CodeForbidden)
}

func TestHandlerUserPermissions(t *testing.T) {
	router := newTestRouter(t, NewService(newMockRepo(), newMockRBAC(), nil, nil), shared.PermUsersView)

	rec := serve(router, http.MethodGet, "/users/2/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Permissions []string `json:"permissions"`
		FullAccess  bool     `json:"full_access"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.ElementsMatch(t, []string{"tickets:view", "equipment:edit"}, body.Permissions)
	assert.False(t, body.FullAccess)
}

func TestHandlerAssignRole(t *testing.T) {
	port := newMockRBAC()
	idem := &memIdempotency{keys: map[string]bool{}}
	router := newTestRouter(t, NewService(newMockRepo(), port, idem, nil), shared.PermRolesAssign)

	body := `{"role_id":3,"reason":"on call rotation","is_primary":true}`
	rec := serve(router, http.MethodPost, "/users/1/roles", body, IdempotencyHeader, "abc")
	require.Equal(t, http.StatusCreated, rec.Code)

	var a rbac.Assignment
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&a))
	assert.Equal(t, int64(3), a.RoleID)
	assert.True(t, a.IsPrimary)
	assert.Equal(t, "on call rotation", a.Reason)

	rec = serve(router, http.MethodPost, "/users/1/roles", body, IdempotencyHeader, "abc")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, port.assignCalls)
}

func TestHandlerAssignRoleRequiresRoleID(t *testing.T) {
	router := newTestRouter(t, NewService(newMockRepo(), newMockRBAC(), nil, nil), shared.PermRolesAssign)

	rec := serve(router, http.MethodPost, "/users/1/roles", `{"reason":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "role_id")
}

func TestHandlerRemoveRole(t *testing.T) {
	port := newMockRBAC()
	router := newTestRouter(t, NewService(newMockRepo(), port, nil, nil), shared.PermRolesAssign)

	rec := serve(router, http.MethodDelete, "/users/2/roles/3", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, [][2]int64{{2, 3}}, port.removed)
}

func TestHandlerSetAndClearOverride(t *testing.T) {
	port := newMockRBAC()
	router := newTestRouter(t, NewService(newMockRepo(), port, nil, nil), shared.PermPermissionsOverride)

	rec := serve(router, http.MethodPut, "/users/2/overrides/7", `{"granted":false,"reason":"suspended"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, port.overrides[2], 1)
	assert.False(t, port.overrides[2][0].Granted)

	rec = serve(router, http.MethodDelete, "/users/2/overrides/7", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, [][2]int64{{2, 7}}, port.cleared)
}

func TestHandlerOverrideRequiresOverridePermission(t *testing.T) {
	router := newTestRouter(t, NewService(newMockRepo(), newMockRBAC(), nil, nil), shared.PermRolesAssign)

	rec := serve(router, http.MethodPut, "/users/2/overrides/7", `{"granted":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerOwnScopeReadsOnlyOwnRecord(t *testing.T) {
	router := newTestRouter(t, NewService(newMockRepo(), newMockRBAC(), nil, nil), shared.PermUsersViewOwn)

	rec := serve(router, http.MethodGet, "/users/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var access struct {
		User User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&access))
	assert.Equal(t, int64(1), access.User.ID)

	rec = serve(router, http.MethodGet, "/users/1/roles", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodGet, "/users/2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), rbac.CodeForbidden)

	rec = serve(router, http.MethodGet, "/users/2/permissions", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, http.MethodGet, "/users/", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerUnscopedViewReadsAnyRecord(t *testing.T) {
	router := newTestRouter(t, NewService(newMockRepo(), newMockRBAC(), nil, nil), shared.PermUsersView)

	rec := serve(router, http.MethodGet, "/users/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var access struct {
		User User `json:"user"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&access))
	assert.Equal(t, int64(2), access.User.ID)
}

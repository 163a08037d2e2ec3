package rbac

import "context"

// AuthContext is the resolved authority handed to downstream handlers.
type AuthContext struct {
	UserID      int64         `json:"user_id"`
	Username    string        `json:"username"`
	Roles       []Role        `json:"roles"`
	PrimaryRole *Role         `json:"primary_role,omitempty"`
	Permissions PermissionSet `json:"permissions"`
}

func newAuthContext(id Identity, snap *Snapshot) *AuthContext {
	roles := snap.Roles()
	if roles == nil {
		roles = []Role{}
	}
	return &AuthContext{
		UserID:      id.UserID,
		Username:    id.Username,
		Roles:       roles,
		PrimaryRole: snap.PrimaryRole(),
		Permissions: snap.Permissions,
	}
}

// Allows reports whether the context carries target.
func (a *AuthContext) Allows(t Target) bool {
	if a == nil {
		return false
	}
	return a.Permissions.Allows(t)
}

// Can parses perm and checks it. Malformed strings are never allowed.
func (a *AuthContext) Can(perm string) bool {
	t, err := ParseTarget(perm)
	if err != nil {
		return false
	}
	return a.Allows(t)
}

// HasRole reports membership by exact role name.
func (a *AuthContext) HasRole(names ...string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		for _, n := range names {
			if r.Name == n {
				return true
			}
		}
	}
	return false
}

type authContextKey struct{}

// ContextWithAuth stores the authorization context.
func ContextWithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthFromContext extracts the authorization context placed by a guard.
func AuthFromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// HasPermission is the in-handler check for fine-grained decisions after a
// guard has resolved the context.
func HasPermission(ctx context.Context, perm string) bool {
	return AuthFromContext(ctx).Can(perm)
}

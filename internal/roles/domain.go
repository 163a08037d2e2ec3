package roles

import "github.com/odyssey-erp/itdesk/internal/rbac"

// RoleView is a role as presented to a specific actor.
type RoleView struct {
	rbac.Role
	// Manageable reports whether the viewing actor outranks the role.
	Manageable bool `json:"manageable"`
}

// RoleDetail adds the role's grants.
type RoleDetail struct {
	RoleView
	Permissions []rbac.Permission `json:"permissions"`
}

type setPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids"`
}

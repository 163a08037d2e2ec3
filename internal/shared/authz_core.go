package shared

// Core platform permissions in "resource:action" form.
const (
	PermUsersView = "users:view"
	PermUsersEdit = "users:edit"

	// PermUsersViewOwn limits user reads to the caller's own record.
	PermUsersViewOwn = "users:view:own"
	// PermUsersViewAll is the explicit unscoped read; a bare "users:view"
	// check would also match the "own" scope.
	PermUsersViewAll = "users:view:ALL"

	PermRolesView   = "roles:view"
	PermRolesCreate = "roles:create"
	PermRolesEdit   = "roles:edit"
	PermRolesDelete = "roles:delete"
	PermRolesAssign = "roles:assign"

	PermPermissionsView     = "permissions:view"
	PermPermissionsCreate   = "permissions:create"
	PermPermissionsDelete   = "permissions:delete"
	PermPermissionsOverride = "permissions:override"

	PermSystemView = "system:view"
	PermSystemRun  = "system:run"

	// PermFullAccess is the wildcard bypass held by the top administrative tier.
	PermFullAccess = "*:*"
)

// Seeded system role names. Role checks compare names exactly.
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleTechnician = "TECHNICIAN"
	RoleEmployee   = "EMPLOYEE"
)

// CoreScopes lists all permissions related to the core platform.
func CoreScopes() []string {
	return []string{
		PermUsersView,
		PermUsersViewOwn,
		PermUsersEdit,
		PermRolesView,
		PermRolesCreate,
		PermRolesEdit,
		PermRolesDelete,
		PermRolesAssign,
		PermPermissionsView,
		PermPermissionsCreate,
		PermPermissionsDelete,
		PermPermissionsOverride,
		PermSystemView,
		PermSystemRun,
	}
}

package rbac

import (
	"context"
	"time"
)

// Reader is the read-side surface the decision engine needs. Implementations
// return raw stored state; expiry and role activity are evaluated by callers.
type Reader interface {
	// ListUserAssignments returns assignments with is_active=true joined to their role.
	ListUserAssignments(ctx context.Context, userID int64) ([]Assignment, error)
	// ListRolePermissions returns active grants of active permissions keyed by role ID.
	ListRolePermissions(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error)
	// ListUserOverrides returns active overrides joined to their permission.
	ListUserOverrides(ctx context.Context, userID int64) ([]Override, error)
}

// Store is the persistence collaborator for the RBAC core.
type Store interface {
	Reader

	GetRole(ctx context.Context, id int64) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	FindPermission(ctx context.Context, resource, action, scope string) (Permission, error)
	ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error)

	// WithTx runs fn atomically; returning an error rolls every write back.
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// TxStore exposes the reads that must observe a consistent view and every
// write. Each method is a single statement executed within the transaction.
type TxStore interface {
	// LockRole reads a role and holds it until the transaction ends.
	LockRole(ctx context.Context, id int64) (Role, error)
	// RoleNameTaken reports whether an active role other than excludeID uses name, ignoring case.
	RoleNameTaken(ctx context.Context, name string, excludeID int64) (bool, error)
	// FindActiveAssignment returns the is_active row for (userID, roleID) or ErrNotFound.
	FindActiveAssignment(ctx context.Context, userID, roleID int64) (Assignment, error)
	// CountValidAssignments counts active, unexpired assignments for a role.
	CountValidAssignments(ctx context.Context, roleID int64, now time.Time) (int, error)

	InsertRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeactivateRole(ctx context.Context, id int64) error

	InsertPermission(ctx context.Context, perm Permission) (Permission, error)
	DeactivatePermission(ctx context.Context, id int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error

	InsertAssignment(ctx context.Context, a Assignment) (Assignment, error)
	DemotePrimaryAssignments(ctx context.Context, userID int64) error
	DeactivateAssignment(ctx context.Context, id int64) error
	// DeactivateExpiredAssignments flips is_active for rows whose expiry has passed.
	// A non-nil roleID limits the sweep to one role.
	DeactivateExpiredAssignments(ctx context.Context, roleID *int64, now time.Time) (int64, error)

	UpsertOverride(ctx context.Context, o Override) (Override, error)
	// DeactivateOverride reports false when no active override existed.
	DeactivateOverride(ctx context.Context, userID, permissionID int64) (bool, error)
}

package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/itdesk/internal/platform/db"
)

// Unique indexes the store translates into ConflictError.
const (
	constraintPermissionTriple = "permissions_active_triple_uniq"
	constraintRoleName         = "roles_active_name_uniq"
	constraintAssignment       = "user_roles_active_uniq"
	constraintPrimary          = "user_roles_primary_uniq"
)

const roleColumns = `r.id, r.name, r.display_name, r.description, r.color, r.icon, r.level, r.priority,
r.is_system, r.is_active, r.max_users, r.created_by, r.created_at, r.updated_at`

const permissionColumns = `p.id, p.resource, p.action, p.scope, p.display_name, p.category, p.risk_level,
p.is_active, p.created_at`

const assignmentColumns = `ur.id, ur.user_id, ur.role_id, ur.is_active, ur.is_primary, ur.assigned_by, ur.reason,
ur.expires_at, ur.assigned_at`

const overrideColumns = `o.id, o.user_id, o.permission_id, o.granted, o.is_active, o.granted_by, o.reason,
o.created_at, o.updated_at`

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore implements Store on PostgreSQL.
type PGStore struct {
	queries
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed store.
func NewRepository(pool *pgxpool.Pool) *PGStore {
	return &PGStore{queries: queries{db: pool}, pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (s *PGStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, queries{db: tx})
	})
}

type queries struct {
	db dbtx
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRole(row scanner, dest ...any) (Role, error) {
	var r Role
	fields := append(dest, &r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Color, &r.Icon, &r.Level, &r.Priority,
		&r.IsSystem, &r.IsActive, &r.MaxUsers, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt)
	if err := row.Scan(fields...); err != nil {
		return Role{}, mapNoRows(err)
	}
	return r, nil
}

func scanPermission(row scanner, dest ...any) (Permission, error) {
	var (
		p    Permission
		risk int16
	)
	fields := append(dest, &p.ID, &p.Resource, &p.Action, &p.Scope, &p.DisplayName, &p.Category, &risk,
		&p.IsActive, &p.CreatedAt)
	if err := row.Scan(fields...); err != nil {
		return Permission{}, mapNoRows(err)
	}
	p.RiskLevel = RiskLevel(risk)
	return p, nil
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (q queries) ListUserAssignments(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := q.db.Query(ctx, `SELECT `+assignmentColumns+`, `+roleColumns+`
FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1 AND ur.is_active`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		role, err := scanRole(rows, &a.ID, &a.UserID, &a.RoleID, &a.IsActive, &a.IsPrimary, &a.AssignedBy, &a.Reason,
			&a.ExpiresAt, &a.AssignedAt)
		if err != nil {
			return nil, err
		}
		a.Role = role
		out = append(out, a)
	}
	return out, rows.Err()
}

func (q queries) ListRolePermissions(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error) {
	out := make(map[int64][]Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, `SELECT rp.role_id, `+permissionColumns+`
FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = ANY($1) AND rp.is_active AND p.is_active`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID int64
		p, err := scanPermission(rows, &roleID)
		if err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], p)
	}
	return out, rows.Err()
}

func (q queries) ListUserOverrides(ctx context.Context, userID int64) ([]Override, error) {
	rows, err := q.db.Query(ctx, `SELECT `+overrideColumns+`, `+permissionColumns+`
FROM permission_overrides o JOIN permissions p ON p.id = o.permission_id
WHERE o.user_id = $1 AND o.is_active`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Override
	for rows.Next() {
		var o Override
		perm, err := scanPermission(rows, &o.ID, &o.UserID, &o.PermissionID, &o.Granted, &o.IsActive, &o.GrantedBy,
			&o.Reason, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, err
		}
		o.Permission = perm
		out = append(out, o)
	}
	return out, rows.Err()
}

func (q queries) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
}

func (q queries) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := q.db.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.level DESC, r.priority, r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (q queries) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(q.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions p WHERE p.id = $1`, id))
}

func (q queries) FindPermission(ctx context.Context, resource, action, scope string) (Permission, error) {
	return scanPermission(q.db.QueryRow(ctx, `SELECT `+permissionColumns+`
FROM permissions p WHERE p.resource = $1 AND p.action = $2 AND p.scope = $3 AND p.is_active`, resource, action, scope))
}

func (q queries) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "p.is_active")
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("p.category = $%d", len(args)))
	}
	if filter.Resource != "" {
		args = append(args, normalizeToken(filter.Resource))
		where = append(where, fmt.Sprintf("p.resource = $%d", len(args)))
	}
	sql := `SELECT ` + permissionColumns + ` FROM permissions p`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY p.category, p.resource, p.action, p.scope"
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) LockRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1 FOR UPDATE`, id))
}

func (q queries) RoleNameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	var taken bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (
SELECT 1 FROM roles WHERE UPPER(name) = UPPER($1) AND is_active AND id <> $2)`, name, excludeID).Scan(&taken)
	return taken, err
}

func (q queries) FindActiveAssignment(ctx context.Context, userID, roleID int64) (Assignment, error) {
	var a Assignment
	role, err := scanRole(q.db.QueryRow(ctx, `SELECT `+assignmentColumns+`, `+roleColumns+`
FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1 AND ur.role_id = $2 AND ur.is_active
FOR UPDATE OF ur`, userID, roleID),
		&a.ID, &a.UserID, &a.RoleID, &a.IsActive, &a.IsPrimary, &a.AssignedBy, &a.Reason, &a.ExpiresAt, &a.AssignedAt)
	if err != nil {
		return Assignment{}, err
	}
	a.Role = role
	return a, nil
}

func (q queries) CountValidAssignments(ctx context.Context, roleID int64, now time.Time) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles
WHERE role_id = $1 AND is_active AND (expires_at IS NULL OR expires_at > $2)`, roleID, now).Scan(&n)
	return n, err
}

func (q queries) InsertRole(ctx context.Context, role Role) (Role, error) {
	created, err := scanRole(q.db.QueryRow(ctx, `INSERT INTO roles AS r
(name, display_name, description, color, icon, level, priority, is_system, is_active, max_users, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+roleColumns,
		role.Name, role.DisplayName, role.Description, role.Color, role.Icon, role.Level, role.Priority,
		role.IsSystem, role.IsActive, role.MaxUsers, role.CreatedBy))
	if db.IsUniqueViolation(err, constraintRoleName) {
		return Role{}, &ConflictError{Reason: reasonRoleName}
	}
	return created, err
}

func (q queries) UpdateRole(ctx context.Context, role Role) (Role, error) {
	updated, err := scanRole(q.db.QueryRow(ctx, `UPDATE roles AS r SET
name = $2, display_name = $3, description = $4, color = $5, icon = $6, level = $7, priority = $8,
max_users = $9, updated_at = NOW()
WHERE r.id = $1
RETURNING `+roleColumns,
		role.ID, role.Name, role.DisplayName, role.Description, role.Color, role.Icon, role.Level, role.Priority,
		role.MaxUsers))
	if db.IsUniqueViolation(err, constraintRoleName) {
		return Role{}, &ConflictError{Reason: reasonRoleName}
	}
	return updated, err
}

func (q queries) DeactivateRole(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `UPDATE roles SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q queries) InsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	created, err := scanPermission(q.db.QueryRow(ctx, `INSERT INTO permissions AS p
(resource, action, scope, display_name, category, risk_level, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+permissionColumns,
		perm.Resource, perm.Action, perm.Scope, perm.DisplayName, perm.Category, int16(perm.RiskLevel), perm.IsActive))
	if db.IsUniqueViolation(err, constraintPermissionTriple) {
		return Permission{}, &ConflictError{Reason: "permission already exists"}
	}
	return created, err
}

func (q queries) DeactivatePermission(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `UPDATE permissions SET is_active = FALSE WHERE id = $1`, id)
	return err
}

func (q queries) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error {
	if _, err := q.db.Exec(ctx, `UPDATE role_permissions SET is_active = FALSE
WHERE role_id = $1 AND is_active AND NOT (permission_id = ANY($2))`, roleID, permissionIDs); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := q.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, is_active, granted_by)
SELECT $1, pid, TRUE, $3 FROM unnest($2::bigint[]) AS pid
ON CONFLICT (role_id, permission_id) DO UPDATE
SET is_active = TRUE, granted_by = EXCLUDED.granted_by, granted_at = NOW()
WHERE NOT role_permissions.is_active`, roleID, permissionIDs, grantedBy)
	return err
}

func (q queries) InsertAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	var out Assignment
	err := q.db.QueryRow(ctx, `INSERT INTO user_roles AS ur
(user_id, role_id, is_active, is_primary, assigned_by, reason, expires_at, assigned_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+assignmentColumns,
		a.UserID, a.RoleID, a.IsActive, a.IsPrimary, a.AssignedBy, a.Reason, a.ExpiresAt, a.AssignedAt).
		Scan(&out.ID, &out.UserID, &out.RoleID, &out.IsActive, &out.IsPrimary, &out.AssignedBy, &out.Reason,
			&out.ExpiresAt, &out.AssignedAt)
	switch {
	case db.IsUniqueViolation(err, constraintAssignment):
		return Assignment{}, &ConflictError{Reason: "role already assigned"}
	case db.IsUniqueViolation(err, constraintPrimary):
		return Assignment{}, &ConflictError{Reason: "user already has a primary role"}
	}
	return out, err
}

func (q queries) DemotePrimaryAssignments(ctx context.Context, userID int64) error {
	_, err := q.db.Exec(ctx, `UPDATE user_roles SET is_primary = FALSE
WHERE user_id = $1 AND is_active AND is_primary`, userID)
	return err
}

func (q queries) DeactivateAssignment(ctx context.Context, id int64) error {
	_, err := q.db.Exec(ctx, `UPDATE user_roles SET is_active = FALSE, is_primary = FALSE WHERE id = $1`, id)
	return err
}

func (q queries) DeactivateExpiredAssignments(ctx context.Context, roleID *int64, now time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE user_roles SET is_active = FALSE, is_primary = FALSE
WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1
AND ($2::bigint IS NULL OR role_id = $2)`, now, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q queries) UpsertOverride(ctx context.Context, o Override) (Override, error) {
	var out Override
	err := q.db.QueryRow(ctx, `INSERT INTO permission_overrides AS o
(user_id, permission_id, granted, is_active, granted_by, reason)
VALUES ($1, $2, $3, TRUE, $4, $5)
ON CONFLICT (user_id, permission_id) WHERE is_active DO UPDATE
SET granted = EXCLUDED.granted, granted_by = EXCLUDED.granted_by, reason = EXCLUDED.reason, updated_at = NOW()
RETURNING `+overrideColumns,
		o.UserID, o.PermissionID, o.Granted, o.GrantedBy, o.Reason).
		Scan(&out.ID, &out.UserID, &out.PermissionID, &out.Granted, &out.IsActive, &out.GrantedBy, &out.Reason,
			&out.CreatedAt, &out.UpdatedAt)
	return out, err
}

func (q queries) DeactivateOverride(ctx context.Context, userID, permissionID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `UPDATE permission_overrides SET is_active = FALSE, updated_at = NOW()
WHERE user_id = $1 AND permission_id = $2 AND is_active`, userID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

var (
	_ Store   = (*PGStore)(nil)
	_ TxStore = queries{}
)

package rbac

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var roleNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// Hierarchy stores roles and enforces level-based management rules.
type Hierarchy struct {
	authority
}

// CreateRoleInput describes a new custom role.
type CreateRoleInput struct {
	Name        string `json:"name" validate:"required,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=500"`
	Color       string `json:"color" validate:"omitempty,hexcolor"`
	Icon        string `json:"icon" validate:"max=64"`
	Level       *int   `json:"level" validate:"omitempty,gte=0"`
	Priority    *int   `json:"priority" validate:"omitempty,gte=0"`
	MaxUsers    *int   `json:"max_users" validate:"omitempty,gt=0"`
}

// RolePatch carries a partial update; nil fields are left untouched.
type RolePatch struct {
	Name        *string `json:"name" validate:"omitempty,max=64"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=128"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	Color       *string `json:"color" validate:"omitempty,hexcolor"`
	Icon        *string `json:"icon" validate:"omitempty,max=64"`
	Level       *int    `json:"level" validate:"omitempty,gte=0"`
	Priority    *int    `json:"priority" validate:"omitempty,gte=0"`
	MaxUsers    *int    `json:"max_users" validate:"omitempty,gt=0"`
}

// CanonicalRoleName upper-cases a role name and joins words with underscores.
func CanonicalRoleName(name string) string {
	name = strings.ToUpper(strings.TrimSpace(name))
	return strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// DisplayNameFor renders a canonical name for humans: HELP_DESK -> Help Desk.
func DisplayNameFor(name string) string {
	words := strings.ReplaceAll(strings.ToLower(name), "_", " ")
	return cases.Title(language.English).String(words)
}

// GetRoleHierarchy returns active roles, most authoritative first.
func (h *Hierarchy) GetRoleHierarchy(ctx context.Context) ([]Role, error) {
	roles, err := h.store.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	active := roles[:0]
	for _, r := range roles {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return roleLess(active[i], active[j]) })
	return active, nil
}

// GetRole fetches a role by ID.
func (h *Hierarchy) GetRole(ctx context.Context, id int64) (Role, error) {
	return lookupRole(ctx, h.store.GetRole, id)
}

// GetRoleWithPermissions fetches a role together with its active grants.
func (h *Hierarchy) GetRoleWithPermissions(ctx context.Context, id int64) (RoleWithPermissions, error) {
	role, err := h.GetRole(ctx, id)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	grants, err := h.store.ListRolePermissions(ctx, []int64{id})
	if err != nil {
		return RoleWithPermissions{}, err
	}
	perms := grants[id]
	if perms == nil {
		perms = []Permission{}
	}
	sortPermissions(perms)
	return RoleWithPermissions{Role: role, Permissions: perms}, nil
}

// CanManageRole reports whether actorID's highest role level is strictly
// greater than the target role's level. Equal levels, including the actor's
// own role, are never manageable.
func (h *Hierarchy) CanManageRole(ctx context.Context, actorID, targetRoleID int64) (bool, error) {
	target, err := h.GetRole(ctx, targetRoleID)
	if err != nil {
		return false, err
	}
	level, role, err := h.level(ctx, actorID)
	if err != nil {
		return false, err
	}
	if role == nil {
		return false, nil
	}
	return CanManageLevel(level, target.Level), nil
}

// CreateRole inserts a custom role below the actor's own level.
func (h *Hierarchy) CreateRole(ctx context.Context, actorID int64, in CreateRoleInput) (Role, error) {
	if err := validateStruct(in); err != nil {
		return Role{}, err
	}
	name := CanonicalRoleName(in.Name)
	if !roleNamePattern.MatchString(name) {
		return Role{}, newValidationError("name", "must start with a letter and contain only letters, digits and underscores")
	}
	role := Role{
		Name:        name,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Description: strings.TrimSpace(in.Description),
		Color:       in.Color,
		Icon:        strings.TrimSpace(in.Icon),
		Level:       h.cfg.DefaultLevel,
		Priority:    h.cfg.DefaultPriority,
		IsActive:    true,
		MaxUsers:    in.MaxUsers,
		CreatedBy:   &actorID,
	}
	if role.DisplayName == "" {
		role.DisplayName = DisplayNameFor(name)
	}
	if in.Level != nil {
		role.Level = *in.Level
	}
	if in.Priority != nil {
		role.Priority = *in.Priority
	}
	if err := h.requireLevel(ctx, actorID, role.Level, name); err != nil {
		return Role{}, err
	}

	var created Role
	err := h.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		taken, err := tx.RoleNameTaken(ctx, name, 0)
		if err != nil {
			return err
		}
		if taken {
			return newValidationError("name", "role "+name+" already exists")
		}
		created, err = tx.InsertRole(ctx, role)
		return err
	})
	if err != nil {
		return Role{}, nameConflictAsValidation(err, name)
	}
	return created, nil
}

// UpdateRole applies a partial update. System roles additionally require the
// actor to hold the top-tier role.
func (h *Hierarchy) UpdateRole(ctx context.Context, actorID, id int64, patch RolePatch) (Role, error) {
	if err := validateStruct(patch); err != nil {
		return Role{}, err
	}
	current, err := h.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if current.IsSystem {
		if err := h.requireTopTier(ctx, actorID, current.Name); err != nil {
			return Role{}, err
		}
	}
	if err := h.requireManage(ctx, actorID, current); err != nil {
		return Role{}, err
	}
	if patch.Level != nil && *patch.Level != current.Level {
		if err := h.requireLevel(ctx, actorID, *patch.Level, current.Name); err != nil {
			return Role{}, err
		}
	}
	var newName string
	if patch.Name != nil {
		newName = CanonicalRoleName(*patch.Name)
		if !roleNamePattern.MatchString(newName) {
			return Role{}, newValidationError("name", "must start with a letter and contain only letters, digits and underscores")
		}
		if current.IsSystem && newName != current.Name {
			return Role{}, &ForbiddenError{Role: current.Name, Reason: "system roles cannot be renamed"}
		}
	}

	var updated Role
	err = h.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := lookupRole(ctx, tx.LockRole, id)
		if err != nil {
			return err
		}
		if newName != "" && newName != role.Name {
			taken, err := tx.RoleNameTaken(ctx, newName, id)
			if err != nil {
				return err
			}
			if taken {
				return newValidationError("name", "role "+newName+" already exists")
			}
			role.Name = newName
		}
		applyRolePatch(&role, patch)
		updated, err = tx.UpdateRole(ctx, role)
		return err
	})
	if err != nil {
		return Role{}, nameConflictAsValidation(err, newName)
	}
	return updated, nil
}

// DeleteRole soft-deletes a custom role that no valid assignment references.
func (h *Hierarchy) DeleteRole(ctx context.Context, actorID, id int64) (Role, error) {
	role, err := h.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	if role.IsSystem {
		return Role{}, &ForbiddenError{Role: role.Name, Reason: "system roles cannot be deleted"}
	}
	if err := h.requireManage(ctx, actorID, role); err != nil {
		return Role{}, err
	}
	err = h.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if _, err := lookupRole(ctx, tx.LockRole, id); err != nil {
			return err
		}
		n, err := tx.CountValidAssignments(ctx, id, h.now())
		if err != nil {
			return err
		}
		if n > 0 {
			return &ConflictError{Reason: fmt.Sprintf("role %s has %d active assignment(s)", role.Name, n)}
		}
		if _, err := tx.DeactivateExpiredAssignments(ctx, &id, h.now()); err != nil {
			return err
		}
		return tx.DeactivateRole(ctx, id)
	})
	if err != nil {
		return Role{}, err
	}
	role.IsActive = false
	return role, nil
}

// SetRolePermissions replaces the active grant set of a role. Permissions the
// role does not already hold must be grantable by the actor.
func (h *Hierarchy) SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) (RoleWithPermissions, error) {
	role, err := h.GetRole(ctx, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	if role.IsSystem {
		if err := h.requireTopTier(ctx, actorID, role.Name); err != nil {
			return RoleWithPermissions{}, err
		}
	}
	if err := h.requireManage(ctx, actorID, role); err != nil {
		return RoleWithPermissions{}, err
	}
	current, err := h.GetRoleWithPermissions(ctx, roleID)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	held := make(map[int64]bool, len(current.Permissions))
	for _, p := range current.Permissions {
		held[p.ID] = true
	}
	ids := uniqueIDs(permissionIDs)
	var added []Permission
	for _, pid := range ids {
		perm, err := h.store.GetPermission(ctx, pid)
		if err != nil {
			if isNotFound(err) {
				return RoleWithPermissions{}, newValidationError("permission_ids", fmt.Sprintf("permission %d does not exist", pid))
			}
			return RoleWithPermissions{}, err
		}
		if !perm.IsActive {
			return RoleWithPermissions{}, newValidationError("permission_ids", fmt.Sprintf("permission %d is inactive", pid))
		}
		if !held[pid] {
			added = append(added, perm)
		}
	}
	if err := h.requireGrantable(ctx, actorID, added...); err != nil {
		return RoleWithPermissions{}, err
	}
	err = h.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if _, err := lookupRole(ctx, tx.LockRole, roleID); err != nil {
			return err
		}
		return tx.ReplaceRolePermissions(ctx, roleID, ids, actorID)
	})
	if err != nil {
		return RoleWithPermissions{}, err
	}
	return h.GetRoleWithPermissions(ctx, roleID)
}

func applyRolePatch(role *Role, patch RolePatch) {
	if patch.DisplayName != nil {
		role.DisplayName = strings.TrimSpace(*patch.DisplayName)
	}
	if patch.Description != nil {
		role.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Color != nil {
		role.Color = *patch.Color
	}
	if patch.Icon != nil {
		role.Icon = strings.TrimSpace(*patch.Icon)
	}
	if patch.Level != nil {
		role.Level = *patch.Level
	}
	if patch.Priority != nil {
		role.Priority = *patch.Priority
	}
	if patch.MaxUsers != nil {
		role.MaxUsers = patch.MaxUsers
	}
}

// nameConflictAsValidation turns a storage-level name collision into the
// validation failure callers expect from create and rename.
func nameConflictAsValidation(err error, name string) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) && conflict.Reason == reasonRoleName {
		return newValidationError("name", "role "+name+" already exists")
	}
	return err
}

// reasonRoleName is the ConflictError reason stores use for name collisions.
const reasonRoleName = "role name already exists"

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

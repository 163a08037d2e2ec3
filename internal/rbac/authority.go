package rbac

import (
	"context"
	"fmt"
	"time"
)

// authority resolves actor levels and enforces the management hierarchy. It
// is shared by every component that mutates roles, assignments or overrides
// so the strict level comparison is applied identically everywhere.
type authority struct {
	store Store
	cfg   HierarchyConfig
	now   func() time.Time
}

// highestRole returns the actor's most authoritative valid role, or nil.
func (a authority) highestRole(ctx context.Context, userID int64) (*Role, error) {
	rows, err := a.store.ListUserAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load assignments: %w", err)
	}
	valid := validAssignments(rows, a.now())
	if len(valid) == 0 {
		return nil, nil
	}
	role := valid[0].Role
	return &role, nil
}

// level returns the actor's highest level, or -1 when the actor holds no role.
func (a authority) level(ctx context.Context, userID int64) (int, *Role, error) {
	role, err := a.highestRole(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	if role == nil {
		return -1, nil, nil
	}
	return role.Level, role, nil
}

// CanManageLevel is the anti-escalation rule: strictly greater only.
func CanManageLevel(actorLevel, targetLevel int) bool {
	return actorLevel > targetLevel
}

// requireLevel fails unless the actor outranks targetLevel.
func (a authority) requireLevel(ctx context.Context, actorID int64, targetLevel int, subject string) error {
	level, role, err := a.level(ctx, actorID)
	if err != nil {
		return err
	}
	if role == nil || !CanManageLevel(level, targetLevel) {
		return &ForbiddenError{Role: subject, Reason: fmt.Sprintf("actor level %d does not exceed %d", level, targetLevel)}
	}
	return nil
}

// requireManage fails unless the actor may manage role.
func (a authority) requireManage(ctx context.Context, actorID int64, role Role) error {
	return a.requireLevel(ctx, actorID, role.Level, role.Name)
}

// requireTopTier fails unless the actor's highest role is the top tier.
func (a authority) requireTopTier(ctx context.Context, actorID int64, subject string) error {
	role, err := a.highestRole(ctx, actorID)
	if err != nil {
		return err
	}
	if role == nil || role.Name != a.cfg.TopTierRole {
		return &ForbiddenError{Role: subject, Reason: "system roles require " + a.cfg.TopTierRole}
	}
	return nil
}

// requireGrantable fails unless the actor may hand perms to a role or user.
// The actor must hold each permission; "*:*" and CRITICAL permissions are
// reserved to the top tier.
func (a authority) requireGrantable(ctx context.Context, actorID int64, perms ...Permission) error {
	if len(perms) == 0 {
		return nil
	}
	snap, err := (&Engine{store: a.store, now: a.now}).Snapshot(ctx, actorID)
	if err != nil {
		return err
	}
	highest := snap.HighestRole()
	topTier := highest != nil && highest.Name == a.cfg.TopTierRole
	for _, p := range perms {
		key := p.Key()
		if (key.isFullWildcard() || p.RiskLevel >= RiskCritical) && !topTier {
			return &ForbiddenError{Permission: key.String(), Reason: "granting requires " + a.cfg.TopTierRole}
		}
		if !snap.Allows(key) {
			return &ForbiddenError{Permission: key.String(), Reason: "actor cannot grant a permission it does not hold"}
		}
	}
	return nil
}

// lookupRole maps store misses to NotFoundError.
func lookupRole(ctx context.Context, get func(context.Context, int64) (Role, error), id int64) (Role, error) {
	role, err := get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return Role{}, notFound("role", id)
		}
		return Role{}, err
	}
	return role, nil
}

// lookupPermission maps store misses to NotFoundError.
func lookupPermission(ctx context.Context, get func(context.Context, int64) (Permission, error), id int64) (Permission, error) {
	perm, err := get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return Permission{}, notFound("permission", id)
		}
		return Permission{}, err
	}
	return perm, nil
}

package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine makes authorization decisions. It holds no state of its own: every
// decision re-reads assignments, grants and overrides through the Reader.
type Engine struct {
	store Reader
	now   func() time.Time
}

// NewEngine constructs an Engine over the given reader.
func NewEngine(store Reader) *Engine {
	return &Engine{store: store, now: time.Now}
}

// Snapshot is the resolved authority of one user at one instant.
type Snapshot struct {
	UserID int64
	// Assignments holds only valid assignments, most authoritative role first.
	Assignments []Assignment
	Overrides   []Override
	Permissions PermissionSet
}

// Roles returns the assigned roles in hierarchy order.
func (s *Snapshot) Roles() []Role {
	roles := make([]Role, len(s.Assignments))
	for i, a := range s.Assignments {
		roles[i] = a.Role
	}
	return roles
}

// HighestRole returns the most authoritative role or nil when none is held.
func (s *Snapshot) HighestRole() *Role {
	if s == nil || len(s.Assignments) == 0 {
		return nil
	}
	role := s.Assignments[0].Role
	return &role
}

// PrimaryRole returns the role flagged primary, if any.
func (s *Snapshot) PrimaryRole() *Role {
	for _, a := range s.Assignments {
		if a.IsPrimary {
			role := a.Role
			return &role
		}
	}
	return nil
}

// HasRole reports membership by canonical role name.
func (s *Snapshot) HasRole(names ...string) bool {
	if s == nil {
		return false
	}
	for _, a := range s.Assignments {
		for _, name := range names {
			if a.Role.Name == name {
				return true
			}
		}
	}
	return false
}

// Allows evaluates a single target against the resolved permissions.
func (s *Snapshot) Allows(t Target) bool {
	if s == nil {
		return false
	}
	return s.Permissions.Allows(t)
}

// Snapshot loads and resolves the authority of userID.
func (e *Engine) Snapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	var (
		assignments []Assignment
		overrides   []Override
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := e.store.ListUserAssignments(gctx, userID)
		if err != nil {
			return fmt.Errorf("load assignments: %w", err)
		}
		assignments = rows
		return nil
	})
	g.Go(func() error {
		rows, err := e.store.ListUserOverrides(gctx, userID)
		if err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
		overrides = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		UserID:      userID,
		Assignments: validAssignments(assignments, e.now()),
		Overrides:   activeOverrides(overrides),
		Permissions: NewPermissionSet(),
	}
	if len(snap.Assignments) == 0 {
		return snap, nil
	}

	roleIDs := make([]int64, len(snap.Assignments))
	for i, a := range snap.Assignments {
		roleIDs[i] = a.RoleID
	}
	grants, err := e.store.ListRolePermissions(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("load role permissions: %w", err)
	}
	for _, id := range roleIDs {
		for _, p := range grants[id] {
			if p.IsActive {
				snap.Permissions.add(p.Key())
			}
		}
	}
	applyOverrides(&snap.Permissions, snap.Overrides)
	return snap, nil
}

// HasPermission reports whether userID may perform target. Lacking permission
// is a normal false; an error means the decision could not be made.
func (e *Engine) HasPermission(ctx context.Context, userID int64, target Target) (bool, error) {
	snap, err := e.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return snap.Allows(target), nil
}

// HasAnyPermission is the OR of HasPermission over targets.
func (e *Engine) HasAnyPermission(ctx context.Context, userID int64, targets ...Target) (bool, error) {
	snap, err := e.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return allowsAny(snap, targets), nil
}

// HasAllPermissions is the AND of HasPermission over targets.
func (e *Engine) HasAllPermissions(ctx context.Context, userID int64, targets ...Target) (bool, error) {
	snap, err := e.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := allowsAll(snap, targets)
	return ok, nil
}

// HasRole reports whether userID holds a valid assignment to any named role.
// Names are compared exactly against the canonical upper-case form.
func (e *Engine) HasRole(ctx context.Context, userID int64, names ...string) (bool, error) {
	snap, err := e.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	return snap.HasRole(names...), nil
}

// EffectivePermissions returns the resolved permission set of userID.
func (e *Engine) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	snap, err := e.Snapshot(ctx, userID)
	if err != nil {
		return PermissionSet{}, err
	}
	return snap.Permissions, nil
}

// decider is satisfied by Snapshot and AuthContext.
type decider interface {
	Allows(t Target) bool
	HasRole(names ...string) bool
}

func allowsAny(snap decider, targets []Target) bool {
	for _, t := range targets {
		if snap.Allows(t) {
			return true
		}
	}
	return false
}

// allowsAll returns the first unsatisfied target when the check fails.
func allowsAll(snap decider, targets []Target) (Target, bool) {
	for _, t := range targets {
		if !snap.Allows(t) {
			return t, false
		}
	}
	return Target{}, true
}

// applyOverrides layers per-user exceptions on top of the role union. Grants
// are applied before revokes so the result does not depend on row order; a
// revoke wins if two overrides ever disagree on the same key, and partial
// wildcards do not re-grant a revoked key. While the "*:*" bypass is in place
// only a revoke of the wildcard itself is considered.
func applyOverrides(set *PermissionSet, overrides []Override) {
	if set.IsFull() {
		revoked := false
		for _, o := range overrides {
			if !o.Granted && o.Permission.Key().isFullWildcard() {
				revoked = true
				break
			}
		}
		if !revoked {
			return
		}
	}
	for _, o := range overrides {
		if o.Granted {
			set.add(o.Permission.Key())
		}
	}
	for _, o := range overrides {
		if !o.Granted {
			set.revoke(o.Permission.Key())
		}
	}
}

func validAssignments(rows []Assignment, now time.Time) []Assignment {
	out := make([]Assignment, 0, len(rows))
	for _, a := range rows {
		if a.ValidAt(now) && a.Role.IsActive {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return roleLess(out[i].Role, out[j].Role)
	})
	return out
}

func activeOverrides(rows []Override) []Override {
	out := make([]Override, 0, len(rows))
	for _, o := range rows {
		if o.IsActive && o.Permission.IsActive {
			out = append(out, o)
		}
	}
	return out
}

// roleLess orders roles by level desc, priority asc, name asc.
func roleLess(a, b Role) bool {
	if a.Level != b.Level {
		return a.Level > b.Level
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Name < b.Name
}

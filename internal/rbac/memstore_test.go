package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type rolePermRow struct {
	roleID, permID int64
	active         bool
}

type memState struct {
	roles       map[int64]Role
	perms       map[int64]Permission
	rolePerms   []rolePermRow
	assignments []Assignment
	overrides   []Override
	seq         int64
}

func (s memState) clone() memState {
	out := memState{
		roles:       make(map[int64]Role, len(s.roles)),
		perms:       make(map[int64]Permission, len(s.perms)),
		rolePerms:   append([]rolePermRow(nil), s.rolePerms...),
		assignments: append([]Assignment(nil), s.assignments...),
		overrides:   append([]Override(nil), s.overrides...),
		seq:         s.seq,
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for k, v := range s.perms {
		out.perms[k] = v
	}
	return out
}

// memStore is an in-memory Store. WithTx serialises writers and restores
// the previous state when fn fails, mirroring a rolled back transaction.
type memStore struct {
	mu    sync.Mutex
	state memState

	failReads error
}

func newMemStore() *memStore {
	return &memStore{state: memState{roles: map[int64]Role{}, perms: map[int64]Permission{}}}
}

func (m *memStore) next() int64 {
	m.state.seq++
	return m.state.seq
}

// seedPermission adds an active permission and returns it.
func (m *memStore) seedPermission(key string) Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := MustParseTarget(key)
	p := Permission{ID: m.next(), Resource: t.Resource, Action: t.Action, Scope: t.Scope, RiskLevel: RiskNormal, IsActive: true}
	p.Scope = p.Key().Scope
	m.state.perms[p.ID] = p
	return p
}

// seedCriticalPermission adds an active CRITICAL-risk permission.
func (m *memStore) seedCriticalPermission(key string) Permission {
	p := m.seedPermission(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	p.RiskLevel = RiskCritical
	m.state.perms[p.ID] = p
	return p
}

// seedRole adds an active role granting the given permission keys.
func (m *memStore) seedRole(name string, level int, system bool, keys ...string) Role {
	perms := make([]Permission, 0, len(keys))
	for _, k := range keys {
		perms = append(perms, m.permissionFor(k))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := Role{ID: m.next(), Name: name, DisplayName: DisplayNameFor(name), Level: level, Priority: 100, IsSystem: system, IsActive: true}
	m.state.roles[r.ID] = r
	for _, p := range perms {
		m.state.rolePerms = append(m.state.rolePerms, rolePermRow{roleID: r.ID, permID: p.ID, active: true})
	}
	return r
}

func (m *memStore) permissionFor(key string) Permission {
	t := MustParseTarget(key)
	want := Permission{Resource: t.Resource, Action: t.Action, Scope: t.Scope}.Key()
	m.mu.Lock()
	for _, p := range m.state.perms {
		if p.IsActive && p.Key() == want {
			m.mu.Unlock()
			return p
		}
	}
	m.mu.Unlock()
	return m.seedPermission(key)
}

// seedAssignment links user to role directly, bypassing hierarchy checks.
func (m *memStore) seedAssignment(userID int64, role Role, primary bool, expiresAt *time.Time) Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := Assignment{ID: m.next(), UserID: userID, RoleID: role.ID, IsActive: true, IsPrimary: primary, AssignedBy: 1, ExpiresAt: expiresAt, AssignedAt: time.Now()}
	m.state.assignments = append(m.state.assignments, a)
	return a
}

// seedOverride records an active override for userID.
func (m *memStore) seedOverride(userID int64, key string, granted bool) Override {
	p := m.permissionFor(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	o := Override{ID: m.next(), UserID: userID, PermissionID: p.ID, Granted: granted, IsActive: true, GrantedBy: 1}
	m.state.overrides = append(m.state.overrides, o)
	return o
}

func (m *memStore) ListUserAssignments(_ context.Context, userID int64) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	var out []Assignment
	for _, a := range m.state.assignments {
		if a.UserID == userID && a.IsActive {
			a.Role = m.state.roles[a.RoleID]
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ListRolePermissions(_ context.Context, roleIDs []int64) (map[int64][]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	want := make(map[int64]bool, len(roleIDs))
	for _, id := range roleIDs {
		want[id] = true
	}
	out := make(map[int64][]Permission)
	for _, rp := range m.state.rolePerms {
		p := m.state.perms[rp.permID]
		if want[rp.roleID] && rp.active && p.IsActive {
			out[rp.roleID] = append(out[rp.roleID], p)
		}
	}
	return out, nil
}

func (m *memStore) ListUserOverrides(_ context.Context, userID int64) ([]Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReads != nil {
		return nil, m.failReads
	}
	var out []Override
	for _, o := range m.state.overrides {
		if o.UserID == userID && o.IsActive {
			o.Permission = m.state.perms[o.PermissionID]
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) GetRole(_ context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tx().LockRole(context.Background(), id)
}

func (m *memStore) ListRoles(context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.state.roles))
	for _, r := range m.state.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetPermission(_ context.Context, id int64) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.perms[id]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) FindPermission(_ context.Context, resource, action, scope string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.perms {
		if p.IsActive && p.Resource == resource && p.Action == action && p.Scope == scope {
			return p, nil
		}
	}
	return Permission{}, ErrNotFound
}

func (m *memStore) ListPermissions(_ context.Context, filter PermissionFilter) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Permission
	for _, p := range m.state.perms {
		if !p.IsActive && !filter.IncludeInactive {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if filter.Resource != "" && p.Resource != strings.ToLower(filter.Resource) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := m.state.clone()
	if err := fn(ctx, m.tx()); err != nil {
		m.state = saved
		return err
	}
	return nil
}

func (m *memStore) tx() memTx { return memTx{m: m} }

// memTx operates on the store state; the caller holds m.mu.
type memTx struct {
	m *memStore
}

func (t memTx) LockRole(_ context.Context, id int64) (Role, error) {
	r, ok := t.m.state.roles[id]
	if !ok {
		return Role{}, ErrNotFound
	}
	return r, nil
}

func (t memTx) RoleNameTaken(_ context.Context, name string, excludeID int64) (bool, error) {
	for _, r := range t.m.state.roles {
		if r.IsActive && r.ID != excludeID && strings.EqualFold(r.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (t memTx) FindActiveAssignment(_ context.Context, userID, roleID int64) (Assignment, error) {
	for _, a := range t.m.state.assignments {
		if a.UserID == userID && a.RoleID == roleID && a.IsActive {
			a.Role = t.m.state.roles[a.RoleID]
			return a, nil
		}
	}
	return Assignment{}, ErrNotFound
}

func (t memTx) CountValidAssignments(_ context.Context, roleID int64, now time.Time) (int, error) {
	n := 0
	for _, a := range t.m.state.assignments {
		if a.RoleID == roleID && a.ValidAt(now) {
			n++
		}
	}
	return n, nil
}

func (t memTx) InsertRole(_ context.Context, role Role) (Role, error) {
	if taken, _ := t.RoleNameTaken(context.Background(), role.Name, 0); taken {
		return Role{}, &ConflictError{Reason: reasonRoleName}
	}
	role.ID = t.m.next()
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt
	t.m.state.roles[role.ID] = role
	return role, nil
}

func (t memTx) UpdateRole(_ context.Context, role Role) (Role, error) {
	if _, ok := t.m.state.roles[role.ID]; !ok {
		return Role{}, ErrNotFound
	}
	role.UpdatedAt = time.Now()
	t.m.state.roles[role.ID] = role
	return role, nil
}

func (t memTx) DeactivateRole(_ context.Context, id int64) error {
	r, ok := t.m.state.roles[id]
	if !ok {
		return ErrNotFound
	}
	r.IsActive = false
	t.m.state.roles[id] = r
	return nil
}

func (t memTx) InsertPermission(_ context.Context, perm Permission) (Permission, error) {
	for _, p := range t.m.state.perms {
		if p.IsActive && p.Key() == perm.Key() {
			return Permission{}, &ConflictError{Reason: "permission already exists"}
		}
	}
	perm.ID = t.m.next()
	t.m.state.perms[perm.ID] = perm
	return perm, nil
}

func (t memTx) DeactivatePermission(_ context.Context, id int64) error {
	p := t.m.state.perms[id]
	p.IsActive = false
	t.m.state.perms[id] = p
	return nil
}

func (t memTx) ReplaceRolePermissions(_ context.Context, roleID int64, permissionIDs []int64, _ int64) error {
	keep := make(map[int64]bool, len(permissionIDs))
	for _, id := range permissionIDs {
		keep[id] = true
	}
	for i, rp := range t.m.state.rolePerms {
		if rp.roleID != roleID {
			continue
		}
		t.m.state.rolePerms[i].active = keep[rp.permID]
		delete(keep, rp.permID)
	}
	for _, id := range permissionIDs {
		if keep[id] {
			t.m.state.rolePerms = append(t.m.state.rolePerms, rolePermRow{roleID: roleID, permID: id, active: true})
		}
	}
	return nil
}

func (t memTx) InsertAssignment(_ context.Context, a Assignment) (Assignment, error) {
	for _, cur := range t.m.state.assignments {
		if !cur.IsActive || cur.UserID != a.UserID {
			continue
		}
		if cur.RoleID == a.RoleID {
			return Assignment{}, &ConflictError{Reason: "role already assigned"}
		}
		if cur.IsPrimary && a.IsPrimary {
			return Assignment{}, &ConflictError{Reason: "user already has a primary role"}
		}
	}
	a.ID = t.m.next()
	t.m.state.assignments = append(t.m.state.assignments, a)
	return a, nil
}

func (t memTx) DemotePrimaryAssignments(_ context.Context, userID int64) error {
	for i, a := range t.m.state.assignments {
		if a.UserID == userID && a.IsActive {
			t.m.state.assignments[i].IsPrimary = false
		}
	}
	return nil
}

func (t memTx) DeactivateAssignment(_ context.Context, id int64) error {
	for i, a := range t.m.state.assignments {
		if a.ID == id {
			t.m.state.assignments[i].IsActive = false
			t.m.state.assignments[i].IsPrimary = false
		}
	}
	return nil
}

func (t memTx) DeactivateExpiredAssignments(_ context.Context, roleID *int64, now time.Time) (int64, error) {
	var n int64
	for i, a := range t.m.state.assignments {
		if !a.IsActive || a.ExpiresAt == nil || a.ExpiresAt.After(now) {
			continue
		}
		if roleID != nil && a.RoleID != *roleID {
			continue
		}
		t.m.state.assignments[i].IsActive = false
		t.m.state.assignments[i].IsPrimary = false
		n++
	}
	return n, nil
}

func (t memTx) UpsertOverride(_ context.Context, o Override) (Override, error) {
	for i, cur := range t.m.state.overrides {
		if cur.IsActive && cur.UserID == o.UserID && cur.PermissionID == o.PermissionID {
			cur.Granted = o.Granted
			cur.GrantedBy = o.GrantedBy
			cur.Reason = o.Reason
			cur.UpdatedAt = time.Now()
			t.m.state.overrides[i] = cur
			return cur, nil
		}
	}
	o.ID = t.m.next()
	o.IsActive = true
	o.CreatedAt = time.Now()
	o.UpdatedAt = o.CreatedAt
	t.m.state.overrides = append(t.m.state.overrides, o)
	return o, nil
}

func (t memTx) DeactivateOverride(_ context.Context, userID, permissionID int64) (bool, error) {
	for i, cur := range t.m.state.overrides {
		if cur.IsActive && cur.UserID == userID && cur.PermissionID == permissionID {
			t.m.state.overrides[i].IsActive = false
			return true, nil
		}
	}
	return false, nil
}

// activePrimaries counts active primary assignments for userID.
func (m *memStore) activePrimaries(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.state.assignments {
		if a.UserID == userID && a.IsActive && a.IsPrimary {
			n++
		}
	}
	return n
}

var (
	_ Store   = (*memStore)(nil)
	_ TxStore = memTx{}
)

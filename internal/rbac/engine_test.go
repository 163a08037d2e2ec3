package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memStore
	service *Service
	now     time.Time

	superAdmin Role
	admin      Role
	technician Role
	employee   Role
}

const (
	rootUser  int64 = 1
	adminUser int64 = 2
	techUser  int64 = 3
	plainUser int64 = 4
)

// newFixture seeds the built-in hierarchy used across tests.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	f := &fixture{store: store, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	f.superAdmin = store.seedRole("SUPER_ADMIN", 1000, true, "*:*")
	f.admin = store.seedRole("ADMIN", 100, true,
		"roles:view", "roles:create", "roles:edit", "roles:delete", "roles:assign",
		"permissions:view", "permissions:create", "permissions:delete", "permissions:override",
		"users:view", "tickets:view", "equipment:edit")
	f.technician = store.seedRole("TECHNICIAN", 50, true, "equipment:edit", "tickets:view")
	f.employee = store.seedRole("EMPLOYEE", 10, true, "tickets:create")
	store.seedAssignment(rootUser, f.superAdmin, true, nil)
	store.seedAssignment(adminUser, f.admin, true, nil)
	store.seedAssignment(techUser, f.technician, true, nil)
	f.service = NewService(store, DefaultHierarchyConfig(), nil, nil, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) allowed(t *testing.T, userID int64, perm string) bool {
	t.Helper()
	ok, err := f.service.Engine.HasPermission(context.Background(), userID, MustParseTarget(perm))
	require.NoError(t, err)
	return ok
}

func TestEngineNoAssignmentsDeniesEverything(t *testing.T) {
	f := newFixture(t)
	// Even a grant override does nothing without a valid role.
	f.store.seedOverride(plainUser, "tickets:view", true)

	for _, perm := range []string{"tickets:view", "equipment:edit", "*:*", "roles:delete"} {
		assert.False(t, f.allowed(t, plainUser, perm), perm)
	}
	set, err := f.service.Engine.EffectivePermissions(context.Background(), plainUser)
	require.NoError(t, err)
	assert.Zero(t, set.Len())
}

func TestEngineTechnicianScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lowRole := f.store.seedRole("INTERN", 10, false)

	assert.True(t, f.allowed(t, techUser, "equipment:edit"))
	assert.False(t, f.allowed(t, techUser, "roles:delete"))

	ok, err := f.service.Roles.CanManageRole(ctx, techUser, f.admin.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.service.Roles.CanManageRole(ctx, techUser, lowRole.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEngineRevokeOverrideBeatsRoleGrant(t *testing.T) {
	f := newFixture(t)
	const u2 int64 = 20
	f.store.seedAssignment(u2, f.technician, false, nil)
	f.store.seedOverride(u2, "tickets:view", false)

	assert.False(t, f.allowed(t, u2, "tickets:view"))
	assert.True(t, f.allowed(t, u2, "equipment:edit"))
	// Other holders of the role are unaffected.
	assert.True(t, f.allowed(t, techUser, "tickets:view"))
}

func TestEngineRevokeOverrideBeatsPartialWildcard(t *testing.T) {
	f := newFixture(t)
	lead := f.store.seedRole("HELPDESK_LEAD", 40, false, "tickets:*", "*:view")
	const u int64 = 21
	f.store.seedAssignment(u, lead, true, nil)
	f.store.seedOverride(u, "tickets:view", false)

	assert.False(t, f.allowed(t, u, "tickets:view"))
	assert.False(t, f.allowed(t, u, "tickets:view:own"))
	assert.True(t, f.allowed(t, u, "tickets:close"))
	assert.True(t, f.allowed(t, u, "equipment:view"))
}

func TestEngineNarrowRevokeKeepsOtherScopes(t *testing.T) {
	f := newFixture(t)
	lead := f.store.seedRole("HELPDESK_LEAD", 40, false, "tickets:*")
	const u int64 = 22
	f.store.seedAssignment(u, lead, true, nil)
	f.store.seedOverride(u, "tickets:view:own", false)

	assert.False(t, f.allowed(t, u, "tickets:view:own"))
	assert.True(t, f.allowed(t, u, "tickets:view:team"))
	assert.True(t, f.allowed(t, u, "tickets:view"))
}

func TestEngineGrantOverrideAddsPermission(t *testing.T) {
	f := newFixture(t)
	f.store.seedOverride(techUser, "backups:run", true)

	assert.True(t, f.allowed(t, techUser, "backups:run"))
	assert.False(t, f.allowed(t, techUser, "backups:view"))
}

func TestEngineOverridesAreOrderIndependent(t *testing.T) {
	build := func(revokeFirst bool) bool {
		f := newFixture(t)
		const u int64 = 30
		f.store.seedAssignment(u, f.employee, false, nil)
		if revokeFirst {
			f.store.seedOverride(u, "tickets:close", false)
			f.store.seedOverride(u, "tickets:close", true)
		} else {
			f.store.seedOverride(u, "tickets:close", true)
			f.store.seedOverride(u, "tickets:close", false)
		}
		return f.allowed(t, u, "tickets:close")
	}
	assert.Equal(t, build(true), build(false))
	assert.False(t, build(true))
}

func TestEngineExpiredAssignmentsIgnored(t *testing.T) {
	f := newFixture(t)
	const u int64 = 40
	past := f.now.Add(-time.Minute)
	future := f.now.Add(time.Hour)
	f.store.seedAssignment(u, f.admin, true, &past)
	f.store.seedAssignment(u, f.employee, false, &future)

	assert.False(t, f.allowed(t, u, "roles:view"))
	assert.True(t, f.allowed(t, u, "tickets:create"))

	roles, err := f.service.Assignments.GetUserRoles(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, f.employee.ID, roles[0].RoleID)

	// Advancing the clock past the second expiry removes all authority.
	f.now = future.Add(time.Second)
	assert.False(t, f.allowed(t, u, "tickets:create"))
}

func TestEngineWildcardBypass(t *testing.T) {
	f := newFixture(t)
	for _, perm := range []string{"roles:delete", "tickets:view:own", "made_up:thing"} {
		assert.True(t, f.allowed(t, rootUser, perm), perm)
	}
	// Narrow revokes do not punch holes in the bypass.
	f.store.seedOverride(rootUser, "tickets:view", false)
	assert.True(t, f.allowed(t, rootUser, "tickets:view"))
}

func TestEngineRevokingWildcardFallsBackToOtherGrants(t *testing.T) {
	f := newFixture(t)
	f.store.seedAssignment(rootUser, f.technician, false, nil)
	f.store.seedOverride(rootUser, "*:*", false)

	assert.False(t, f.allowed(t, rootUser, "roles:delete"))
	assert.True(t, f.allowed(t, rootUser, "equipment:edit"))
}

func TestEngineInactiveRoleContributesNothing(t *testing.T) {
	f := newFixture(t)
	ghost := f.store.seedRole("GHOST", 20, false, "backups:run")
	f.store.seedAssignment(plainUser, ghost, false, nil)
	f.store.mu.Lock()
	r := f.store.state.roles[ghost.ID]
	r.IsActive = false
	f.store.state.roles[ghost.ID] = r
	f.store.mu.Unlock()

	assert.False(t, f.allowed(t, plainUser, "backups:run"))
}

func TestEngineAnyAndAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.service.Engine.HasAnyPermission(ctx, techUser, MustParseTargets("roles:delete", "tickets:view")...)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.Engine.HasAllPermissions(ctx, techUser, MustParseTargets("equipment:edit", "tickets:view")...)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.Engine.HasAllPermissions(ctx, techUser, MustParseTargets("equipment:edit", "roles:delete")...)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineHasRoleIsExact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.service.Engine.HasRole(ctx, techUser, "TECHNICIAN")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.Engine.HasRole(ctx, techUser, "technician", "ADMIN")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineSnapshotOrdersRolesByAuthority(t *testing.T) {
	f := newFixture(t)
	f.store.seedAssignment(techUser, f.admin, false, nil)
	f.store.seedAssignment(techUser, f.employee, false, nil)

	snap, err := f.service.Engine.Snapshot(context.Background(), techUser)
	require.NoError(t, err)
	names := []string{}
	for _, r := range snap.Roles() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"ADMIN", "TECHNICIAN", "EMPLOYEE"}, names)
	assert.Equal(t, "ADMIN", snap.HighestRole().Name)
	assert.Equal(t, "TECHNICIAN", snap.PrimaryRole().Name)
}

func TestEngineStoreFailureIsAnError(t *testing.T) {
	f := newFixture(t)
	f.store.failReads = errors.New("connection refused")

	ok, err := f.service.Engine.HasPermission(context.Background(), techUser, MustParseTarget("tickets:view"))
	require.Error(t, err)
	assert.False(t, ok)
}

package users

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/itdesk/internal/rbac"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

// ============================================================================
// MOCK DEPENDENCIES
// ============================================================================

type mockRepo struct {
	users     map[int64]User
	lastLimit int
	lastOff   int
}

func newMockRepo() *mockRepo {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	return &mockRepo{users: map[int64]User{
		1: {ID: 1, Email: "root@itdesk.local", Username: "root", Name: "Root", IsActive: true, CreatedAt: now},
		2: {ID: 2, Email: "tech@itdesk.local", Username: "tech", Name: "Tech", IsActive: true, CreatedAt: now},
		3: {ID: 3, Email: "gone@itdesk.local", Username: "gone", Name: "Gone", IsActive: false, CreatedAt: now},
	}}
}

func (m *mockRepo) ListUsers(ctx context.Context, f ListFilter, limit, offset int) ([]User, int, error) {
	m.lastLimit, m.lastOff = limit, offset
	out := []User{}
	for _, id := range []int64{1, 2, 3} {
		out = append(out, m.users[id])
	}
	return out, len(out), nil
}

func (m *mockRepo) GetUser(ctx context.Context, id int64) (User, error) {
	u, ok := m.users[id]
	if !ok {
		return User{}, &rbac.NotFoundError{Entity: "user", Key: strconv.FormatInt(id, 10)}
	}
	return u, nil
}

type mockRBAC struct {
	assignments map[int64][]rbac.Assignment
	overrides   map[int64][]rbac.Override
	assignErr   error
	assignCalls int
	removed     [][2]int64
	cleared     [][2]int64
}

func newMockRBAC() *mockRBAC {
	tech := rbac.Role{ID: 3, Name: "TECHNICIAN", Level: 50, IsActive: true}
	return &mockRBAC{
		assignments: map[int64][]rbac.Assignment{
			2: {{ID: 1, UserID: 2, RoleID: 3, Role: tech, IsActive: true, IsPrimary: true}},
		},
		overrides: map[int64][]rbac.Override{},
	}
}

func (m *mockRBAC) GetUserRoles(ctx context.Context, userID int64) ([]rbac.Assignment, error) {
	return m.assignments[userID], nil
}

func (m *mockRBAC) GetHighestRole(ctx context.Context, userID int64) (*rbac.Role, error) {
	rows := m.assignments[userID]
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0].Role
	return &r, nil
}

func (m *mockRBAC) GetOverrides(ctx context.Context, userID int64) ([]rbac.Override, error) {
	return m.overrides[userID], nil
}

func (m *mockRBAC) EffectivePermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error) {
	if len(m.assignments[userID]) == 0 {
		return rbac.NewPermissionSet(), nil
	}
	return rbac.NewPermissionSet(rbac.MustParseTargets("tickets:view", "equipment:edit")...), nil
}

func (m *mockRBAC) AssignRole(ctx context.Context, actorID, userID, roleID int64, opts rbac.AssignOptions) (rbac.Assignment, error) {
	m.assignCalls++
	if m.assignErr != nil {
		return rbac.Assignment{}, m.assignErr
	}
	a := rbac.Assignment{ID: int64(10 + m.assignCalls), UserID: userID, RoleID: roleID, IsActive: true, IsPrimary: opts.IsPrimary, AssignedBy: actorID, Reason: opts.Reason}
	m.assignments[userID] = append(m.assignments[userID], a)
	return a, nil
}

func (m *mockRBAC) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	m.removed = append(m.removed, [2]int64{userID, roleID})
	return nil
}

func (m *mockRBAC) SetOverride(ctx context.Context, actorID, userID, permissionID int64, in rbac.OverrideInput) (rbac.Override, error) {
	o := rbac.Override{UserID: userID, PermissionID: permissionID, Granted: *in.Granted, IsActive: true, GrantedBy: actorID, Reason: in.Reason}
	m.overrides[userID] = append(m.overrides[userID], o)
	return o, nil
}

func (m *mockRBAC) ClearOverride(ctx context.Context, actorID, userID, permissionID int64) error {
	m.cleared = append(m.cleared, [2]int64{userID, permissionID})
	return nil
}

type memIdempotency struct {
	keys map[string]bool
}

func (m *memIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *memIdempotency) Delete(ctx context.Context, key, module string) error {
	delete(m.keys, module+":"+key)
	return nil
}

// ============================================================================
// SERVICE TESTS
// ============================================================================

func TestListUsersPaginates(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo, newMockRBAC(), nil, nil)

	page, err := svc.ListUsers(context.Background(), ListFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, repo.lastLimit)
	assert.Equal(t, 2, repo.lastOff)
	assert.Equal(t, shared.Pagination{Page: 2, PerPage: 2, Total: 3, TotalPages: 2}, page.Pagination)
}

func TestGetAccess(t *testing.T) {
	svc := NewService(newMockRepo(), newMockRBAC(), nil, nil)

	access, err := svc.GetAccess(context.Background(), 2)
	require.NoError(t, err)
	require.NotNil(t, access.HighestRole)
	assert.Equal(t, "TECHNICIAN", access.HighestRole.Name)
	assert.True(t, access.Permissions.Allows(rbac.MustParseTarget("tickets:view")))
	assert.NotNil(t, access.Overrides)
}

func TestGetAccessWithoutRoles(t *testing.T) {
	svc := NewService(newMockRepo(), newMockRBAC(), nil, nil)

	access, err := svc.GetAccess(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, access.HighestRole)
	assert.Empty(t, access.Roles)
	assert.Equal(t, 0, access.Permissions.Len())
}

func TestGetRolesUnknownUser(t *testing.T) {
	svc := NewService(newMockRepo(), newMockRBAC(), nil, nil)

	_, err := svc.GetRoles(context.Background(), 99)
	var nf *rbac.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestAssignRoleRejectsInactiveUser(t *testing.T) {
	port := newMockRBAC()
	svc := NewService(newMockRepo(), port, nil, nil)

	_, err := svc.AssignRole(context.Background(), 1, 3, 3, rbac.AssignOptions{}, "")
	var verr *rbac.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "user_id")
	assert.Zero(t, port.assignCalls)
}

func TestAssignRoleIdempotencyKey(t *testing.T) {
	port := newMockRBAC()
	idem := &memIdempotency{keys: map[string]bool{}}
	svc := NewService(newMockRepo(), port, idem, nil)
	ctx := context.Background()

	_, err := svc.AssignRole(ctx, 1, 1, 2, rbac.AssignOptions{}, "req-1")
	require.NoError(t, err)

	_, err = svc.AssignRole(ctx, 1, 1, 2, rbac.AssignOptions{}, "req-1")
	assert.ErrorIs(t, err, ErrDuplicateRequest)
	assert.Equal(t, 1, port.assignCalls)
}

func TestAssignRoleFailureReleasesKey(t *testing.T) {
	port := newMockRBAC()
	port.assignErr = errors.New("db down")
	idem := &memIdempotency{keys: map[string]bool{}}
	svc := NewService(newMockRepo(), port, idem, nil)

	_, err := svc.AssignRole(context.Background(), 1, 1, 2, rbac.AssignOptions{}, "req-2")
	require.Error(t, err)
	assert.Empty(t, idem.keys)
}

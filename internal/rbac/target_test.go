package rbac

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget(" Tickets:VIEW ")
	require.NoError(t, err)
	assert.Equal(t, Target{Resource: "tickets", Action: "view"}, got)

	got, err = ParseTarget("tickets:view:all")
	require.NoError(t, err)
	assert.Equal(t, ScopeAll, got.Scope)

	got, err = ParseTarget("tickets:view:OWN")
	require.NoError(t, err)
	assert.Equal(t, "own", got.Scope)

	for _, bad := range []string{"", "tickets", "tickets:", ":view", "a:b:c:d", "tickets:view:"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, bad)
	}
}

func TestMustParseTargetPanicsOnMalformed(t *testing.T) {
	assert.Panics(t, func() { MustParseTarget("nope") })
	assert.NotPanics(t, func() { MustParseTargets("a:b", "c:d:own") })
}

func TestTargetString(t *testing.T) {
	assert.Equal(t, "tickets:view", Target{Resource: "tickets", Action: "view", Scope: ScopeAll}.String())
	assert.Equal(t, "tickets:view", Target{Resource: "tickets", Action: "view"}.String())
	assert.Equal(t, "tickets:view:own", Target{Resource: "tickets", Action: "view", Scope: "own"}.String())
}

func TestPermissionSetScopeMatching(t *testing.T) {
	set := NewPermissionSet(
		MustParseTarget("tickets:view:ALL"),
		MustParseTarget("equipment:edit:own"),
	)

	// ALL satisfies any narrower request.
	assert.True(t, set.Allows(MustParseTarget("tickets:view")))
	assert.True(t, set.Allows(MustParseTarget("tickets:view:own")))
	assert.True(t, set.Allows(MustParseTarget("tickets:view:department")))

	// Omitted scope matches any recorded scope.
	assert.True(t, set.Allows(MustParseTarget("equipment:edit")))
	assert.True(t, set.Allows(MustParseTarget("equipment:edit:own")))
	// A narrow grant does not satisfy a broader request.
	assert.False(t, set.Allows(MustParseTarget("equipment:edit:all")))
	assert.False(t, set.Allows(MustParseTarget("equipment:edit:department")))

	assert.False(t, set.Allows(MustParseTarget("equipment:delete")))
}

func TestPermissionSetAllScopeDominatesNarrowGrant(t *testing.T) {
	set := NewPermissionSet(MustParseTarget("tickets:edit:own"), MustParseTarget("tickets:edit"))
	assert.True(t, set.Allows(MustParseTarget("tickets:edit:department")))
	assert.Equal(t, 2, set.Len())
}

func TestPermissionSetWildcards(t *testing.T) {
	resourceWide := NewPermissionSet(MustParseTarget("tickets:*"))
	assert.True(t, resourceWide.Allows(MustParseTarget("tickets:close")))
	assert.False(t, resourceWide.Allows(MustParseTarget("equipment:view")))
	assert.False(t, resourceWide.IsFull())

	actionWide := NewPermissionSet(MustParseTarget("*:view"))
	assert.True(t, actionWide.Allows(MustParseTarget("backups:view")))
	assert.False(t, actionWide.Allows(MustParseTarget("backups:run")))

	full := NewPermissionSet(MustParseTarget("*:*"))
	assert.True(t, full.IsFull())
	assert.True(t, full.Allows(MustParseTarget("anything:at_all:own")))
}

func TestPermissionSetRemoveClearsBypass(t *testing.T) {
	set := NewPermissionSet(MustParseTarget("*:*"), MustParseTarget("tickets:view"))
	set.remove(MustParseTarget("*:*"))
	assert.False(t, set.IsFull())
	assert.True(t, set.Allows(MustParseTarget("tickets:view")))
	assert.False(t, set.Allows(MustParseTarget("roles:delete")))
}

func TestPermissionSetEmpty(t *testing.T) {
	var set PermissionSet
	assert.False(t, set.Allows(MustParseTarget("tickets:view")))
	assert.Empty(t, set.Strings())
}

func TestPermissionSetMarshalJSONSorted(t *testing.T) {
	set := NewPermissionSet(MustParseTarget("tickets:view"), MustParseTarget("equipment:edit:own"))
	raw, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["equipment:edit:own","tickets:view"]`, string(raw))
}

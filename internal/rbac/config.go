package rbac

// Defaults applied to custom roles created without explicit ordering. They
// slot new roles below every built-in tier.
const (
	DefaultRoleLevel    = 10
	DefaultRolePriority = 500
	DefaultTopTierRole  = "SUPER_ADMIN"
)

// HierarchyConfig controls role defaults and the top administrative tier.
type HierarchyConfig struct {
	DefaultLevel    int
	DefaultPriority int
	// TopTierRole is the canonical name of the only role allowed to edit system roles.
	TopTierRole string
}

// DefaultHierarchyConfig returns the documented defaults.
func DefaultHierarchyConfig() HierarchyConfig {
	return HierarchyConfig{
		DefaultLevel:    DefaultRoleLevel,
		DefaultPriority: DefaultRolePriority,
		TopTierRole:     DefaultTopTierRole,
	}
}

func (c HierarchyConfig) withDefaults() HierarchyConfig {
	if c.DefaultLevel == 0 {
		c.DefaultLevel = DefaultRoleLevel
	}
	if c.DefaultPriority == 0 {
		c.DefaultPriority = DefaultRolePriority
	}
	if c.TopTierRole == "" {
		c.TopTierRole = DefaultTopTierRole
	}
	return c
}

package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Reserved permission tokens.
const (
	// ScopeAll is the default scope; it satisfies any narrower requested scope.
	ScopeAll = "ALL"
	// Wildcard matches any resource or action.
	Wildcard = "*"
)

// RiskLevel ranks how dangerous granting a permission is.
type RiskLevel int

// Risk levels in ascending order.
const (
	RiskLow RiskLevel = iota + 1
	RiskNormal
	RiskHigh
	RiskCritical
)

var riskNames = map[RiskLevel]string{
	RiskLow:      "LOW",
	RiskNormal:   "NORMAL",
	RiskHigh:     "HIGH",
	RiskCritical: "CRITICAL",
}

func (r RiskLevel) String() string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return fmt.Sprintf("RiskLevel(%d)", int(r))
}

// Valid reports whether r is one of the declared levels.
func (r RiskLevel) Valid() bool {
	_, ok := riskNames[r]
	return ok
}

// ParseRiskLevel converts a case-insensitive name into a RiskLevel. Empty input
// yields RiskNormal.
func ParseRiskLevel(s string) (RiskLevel, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return RiskNormal, nil
	}
	for level, name := range riskNames {
		if name == s {
			return level, nil
		}
	}
	return 0, fmt.Errorf("rbac: unknown risk level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (r RiskLevel) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("rbac: invalid risk level %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RiskLevel) UnmarshalText(b []byte) error {
	level, err := ParseRiskLevel(string(b))
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// Permission is a grantable (resource, action, scope) triple from the catalog.
type Permission struct {
	ID          int64     `json:"id"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Scope       string    `json:"scope"`
	DisplayName string    `json:"display_name"`
	Category    string    `json:"category"`
	RiskLevel   RiskLevel `json:"risk_level"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the normalized triple identifying the permission.
func (p Permission) Key() Target {
	scope := normalizeScope(p.Scope)
	if scope == "" {
		scope = ScopeAll
	}
	return Target{Resource: normalizeToken(p.Resource), Action: normalizeToken(p.Action), Scope: scope}
}

// PermissionFilter narrows catalog listings.
type PermissionFilter struct {
	Category        string
	Resource        string
	IncludeInactive bool
}

// Role groups permissions and carries a numeric authority level.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description"`
	Color       string    `json:"color"`
	Icon        string    `json:"icon"`
	Level       int       `json:"level"`
	Priority    int       `json:"priority"`
	IsSystem    bool      `json:"is_system"`
	IsActive    bool      `json:"is_active"`
	MaxUsers    *int      `json:"max_users,omitempty"`
	CreatedBy   *int64    `json:"created_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleWithPermissions is a role together with its active grants.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// Assignment links a user to a role.
type Assignment struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	Role       Role       `json:"role"`
	IsActive   bool       `json:"is_active"`
	IsPrimary  bool       `json:"is_primary"`
	AssignedBy int64      `json:"assigned_by"`
	Reason     string     `json:"reason,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
}

// ValidAt reports whether the assignment grants authority at the given instant.
// Expiry is evaluated here rather than by a sweep, so a stored is_active flag
// is not sufficient on its own.
func (a Assignment) ValidAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// Override is a per-user grant or revoke of a single permission.
type Override struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	PermissionID int64      `json:"permission_id"`
	Permission   Permission `json:"permission"`
	Granted      bool       `json:"granted"`
	IsActive     bool       `json:"is_active"`
	GrantedBy    int64      `json:"granted_by"`
	Reason       string     `json:"reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Identity is the authenticated actor behind a request.
type Identity struct {
	UserID   int64
	Username string
}

package users

import (
	"time"

	"github.com/odyssey-erp/itdesk/internal/rbac"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

// User represents a user account for management.
type User struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Username    string     `json:"username"`
	Name        string     `json:"name"`
	IsActive    bool       `json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ListFilter narrows the user listing.
type ListFilter struct {
	Search  string
	Page    int
	PerPage int
}

// Page is one slice of the user listing.
type Page struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

// Access is a user's resolved authority.
type Access struct {
	User        User              `json:"user"`
	Roles       []rbac.Assignment `json:"roles"`
	HighestRole *rbac.Role        `json:"highest_role,omitempty"`
	Permissions rbac.PermissionSet `json:"permissions"`
	Overrides   []rbac.Override   `json:"overrides"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id"`
	rbac.AssignOptions
}

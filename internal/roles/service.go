package roles

import (
	"context"

	"github.com/odyssey-erp/itdesk/internal/rbac"
)

// RBACPort is the slice of the RBAC service role management needs.
type RBACPort interface {
	GetRoleHierarchy(ctx context.Context) ([]rbac.Role, error)
	GetRoleWithPermissions(ctx context.Context, id int64) (rbac.RoleWithPermissions, error)
	GetHighestRole(ctx context.Context, userID int64) (*rbac.Role, error)
	CreateRole(ctx context.Context, actorID int64, in rbac.CreateRoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, actorID, id int64, patch rbac.RolePatch) (rbac.Role, error)
	DeleteRole(ctx context.Context, actorID, id int64) error
	SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) (rbac.RoleWithPermissions, error)
}

// Service handles role business logic.
type Service struct {
	rbac RBACPort
}

// NewService builds Service instance.
func NewService(port RBACPort) *Service {
	return &Service{rbac: port}
}

// ListRoles returns the hierarchy annotated for actorID.
func (s *Service) ListRoles(ctx context.Context, actorID int64) ([]RoleView, error) {
	roles, err := s.rbac.GetRoleHierarchy(ctx)
	if err != nil {
		return nil, err
	}
	level, err := s.actorLevel(ctx, actorID)
	if err != nil {
		return nil, err
	}
	views := make([]RoleView, len(roles))
	for i, r := range roles {
		views[i] = RoleView{Role: r, Manageable: rbac.CanManageLevel(level, r.Level)}
	}
	return views, nil
}

// GetRole returns one role with its grants.
func (s *Service) GetRole(ctx context.Context, actorID, id int64) (RoleDetail, error) {
	role, err := s.rbac.GetRoleWithPermissions(ctx, id)
	if err != nil {
		return RoleDetail{}, err
	}
	return s.detail(ctx, actorID, role)
}

// CreateRole creates a custom role.
func (s *Service) CreateRole(ctx context.Context, actorID int64, in rbac.CreateRoleInput) (RoleView, error) {
	role, err := s.rbac.CreateRole(ctx, actorID, in)
	if err != nil {
		return RoleView{}, err
	}
	return RoleView{Role: role, Manageable: true}, nil
}

// UpdateRole applies a partial update.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, patch rbac.RolePatch) (RoleView, error) {
	role, err := s.rbac.UpdateRole(ctx, actorID, id, patch)
	if err != nil {
		return RoleView{}, err
	}
	return RoleView{Role: role, Manageable: true}, nil
}

// DeleteRole soft-deletes a custom role.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	return s.rbac.DeleteRole(ctx, actorID, id)
}

// SetPermissions replaces the role's grants.
func (s *Service) SetPermissions(ctx context.Context, actorID, id int64, permissionIDs []int64) (RoleDetail, error) {
	role, err := s.rbac.SetRolePermissions(ctx, actorID, id, permissionIDs)
	if err != nil {
		return RoleDetail{}, err
	}
	return s.detail(ctx, actorID, role)
}

func (s *Service) detail(ctx context.Context, actorID int64, role rbac.RoleWithPermissions) (RoleDetail, error) {
	level, err := s.actorLevel(ctx, actorID)
	if err != nil {
		return RoleDetail{}, err
	}
	return RoleDetail{
		RoleView:    RoleView{Role: role.Role, Manageable: rbac.CanManageLevel(level, role.Level)},
		Permissions: role.Permissions,
	}, nil
}

func (s *Service) actorLevel(ctx context.Context, actorID int64) (int, error) {
	top, err := s.rbac.GetHighestRole(ctx, actorID)
	if err != nil {
		return 0, err
	}
	if top == nil {
		return -1, nil
	}
	return top.Level, nil
}

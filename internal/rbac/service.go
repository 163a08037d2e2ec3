package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/itdesk/internal/shared"
)

// AuditRecorder persists access-control changes.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Generic permissions checked before any hierarchy rule.
var (
	permRolesCreate         = MustParseTarget(shared.PermRolesCreate)
	permRolesEdit           = MustParseTarget(shared.PermRolesEdit)
	permRolesDelete         = MustParseTarget(shared.PermRolesDelete)
	permRolesAssign         = MustParseTarget(shared.PermRolesAssign)
	permPermissionsCreate   = MustParseTarget(shared.PermPermissionsCreate)
	permPermissionsDelete   = MustParseTarget(shared.PermPermissionsDelete)
	permPermissionsOverride = MustParseTarget(shared.PermPermissionsOverride)
)

// Service is the entry point handlers use for administrative RBAC operations.
// Every mutation checks the actor's generic permission, then the hierarchy
// rule for the specific role or user, and finally records an audit entry.
type Service struct {
	Catalog     *Catalog
	Roles       *Hierarchy
	Assignments *Ledger
	Overrides   *OverrideLayer
	Engine      *Engine

	audit  AuditRecorder
	logger *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for expiry evaluation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.Engine.now = now
		s.Roles.now = now
		s.Assignments.now = now
		s.Overrides.now = now
	}
}

// NewService wires the RBAC components over a single store.
func NewService(store Store, cfg HierarchyConfig, audit AuditRecorder, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	auth := authority{store: store, cfg: cfg.withDefaults(), now: time.Now}
	s := &Service{
		Catalog:     NewCatalog(store),
		Roles:       &Hierarchy{authority: auth},
		Assignments: &Ledger{authority: auth},
		Overrides:   &OverrideLayer{authority: auth},
		Engine:      NewEngine(store),
		audit:       audit,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// require fails with ForbiddenError unless actorID holds target.
func (s *Service) require(ctx context.Context, actorID int64, target Target) error {
	ok, err := s.Engine.HasPermission(ctx, actorID, target)
	if err != nil {
		return err
	}
	if !ok {
		return &ForbiddenError{Permission: target.String()}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Error("rbac audit", slog.String("action", action), slog.Int64("entity_id", id), slog.Any("error", err))
	}
}

// CreatePermission adds a catalog entry.
func (s *Service) CreatePermission(ctx context.Context, actorID int64, in CreatePermissionInput) (Permission, error) {
	if err := s.require(ctx, actorID, permPermissionsCreate); err != nil {
		return Permission{}, err
	}
	perm, err := s.Catalog.CreatePermission(ctx, in)
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, shared.AuditPermissionCreated, "permission", perm.ID, map[string]any{"key": perm.Key().String(), "risk": perm.RiskLevel.String()})
	return perm, nil
}

// DeactivatePermission soft-deletes a catalog entry.
func (s *Service) DeactivatePermission(ctx context.Context, actorID, id int64) (Permission, error) {
	if err := s.require(ctx, actorID, permPermissionsDelete); err != nil {
		return Permission{}, err
	}
	perm, err := s.Catalog.DeactivatePermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, actorID, shared.AuditPermissionDisabled, "permission", id, map[string]any{"key": perm.Key().String()})
	return perm, nil
}

// CreateRole creates a custom role.
func (s *Service) CreateRole(ctx context.Context, actorID int64, in CreateRoleInput) (Role, error) {
	if err := s.require(ctx, actorID, permRolesCreate); err != nil {
		return Role{}, err
	}
	role, err := s.Roles.CreateRole(ctx, actorID, in)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditRoleCreated, "role", role.ID, map[string]any{"name": role.Name, "level": role.Level})
	return role, nil
}

// UpdateRole applies a partial update to a role.
func (s *Service) UpdateRole(ctx context.Context, actorID, id int64, patch RolePatch) (Role, error) {
	if err := s.require(ctx, actorID, permRolesEdit); err != nil {
		return Role{}, err
	}
	role, err := s.Roles.UpdateRole(ctx, actorID, id, patch)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actorID, shared.AuditRoleUpdated, "role", id, map[string]any{"name": role.Name, "level": role.Level})
	return role, nil
}

// DeleteRole soft-deletes a custom role.
func (s *Service) DeleteRole(ctx context.Context, actorID, id int64) error {
	if err := s.require(ctx, actorID, permRolesDelete); err != nil {
		return err
	}
	role, err := s.Roles.DeleteRole(ctx, actorID, id)
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRoleDeleted, "role", id, map[string]any{"name": role.Name})
	return nil
}

// SetRolePermissions replaces a role's grants.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) (RoleWithPermissions, error) {
	if err := s.require(ctx, actorID, permRolesEdit); err != nil {
		return RoleWithPermissions{}, err
	}
	role, err := s.Roles.SetRolePermissions(ctx, actorID, roleID, permissionIDs)
	if err != nil {
		return RoleWithPermissions{}, err
	}
	keys := make([]string, len(role.Permissions))
	for i, p := range role.Permissions {
		keys[i] = p.Key().String()
	}
	s.record(ctx, actorID, shared.AuditRolePermissionsSet, "role", roleID, map[string]any{"name": role.Name, "permissions": keys})
	return role, nil
}

// AssignRole gives userID the role on behalf of actorID.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64, opts AssignOptions) (Assignment, error) {
	if err := s.require(ctx, actorID, permRolesAssign); err != nil {
		return Assignment{}, err
	}
	a, err := s.Assignments.AssignRole(ctx, actorID, userID, roleID, opts)
	if err != nil {
		return Assignment{}, err
	}
	meta := map[string]any{"role": a.Role.Name, "primary": a.IsPrimary}
	if a.ExpiresAt != nil {
		meta["expires_at"] = a.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if a.Reason != "" {
		meta["reason"] = a.Reason
	}
	s.record(ctx, actorID, shared.AuditRoleAssigned, "user", userID, meta)
	return a, nil
}

// RemoveRole revokes a role assignment.
func (s *Service) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.require(ctx, actorID, permRolesAssign); err != nil {
		return err
	}
	a, err := s.Assignments.RemoveRole(ctx, actorID, userID, roleID)
	if err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditRoleRemoved, "user", userID, map[string]any{"role": a.Role.Name})
	return nil
}

// SetOverride grants or revokes one permission for a user.
func (s *Service) SetOverride(ctx context.Context, actorID, userID, permissionID int64, in OverrideInput) (Override, error) {
	if err := s.require(ctx, actorID, permPermissionsOverride); err != nil {
		return Override{}, err
	}
	o, err := s.Overrides.SetOverride(ctx, actorID, userID, permissionID, in)
	if err != nil {
		return Override{}, err
	}
	s.record(ctx, actorID, shared.AuditOverrideSet, "user", userID, map[string]any{"permission": o.Permission.Key().String(), "granted": o.Granted})
	return o, nil
}

// ClearOverride removes a user's override so role inference applies again.
func (s *Service) ClearOverride(ctx context.Context, actorID, userID, permissionID int64) error {
	if err := s.require(ctx, actorID, permPermissionsOverride); err != nil {
		return err
	}
	if err := s.Overrides.ClearOverride(ctx, actorID, userID, permissionID); err != nil {
		return err
	}
	s.record(ctx, actorID, shared.AuditOverrideCleared, "user", userID, map[string]any{"permission_id": permissionID})
	return nil
}

// PurgeExpiredAssignments deactivates assignments past their expiry.
func (s *Service) PurgeExpiredAssignments(ctx context.Context) (int64, error) {
	n, err := s.Assignments.PurgeExpired(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge expired assignments: %w", err)
	}
	if n > 0 {
		s.record(ctx, 0, shared.AuditAssignmentsRetained, "user_roles", 0, map[string]any{"deactivated": n})
	}
	return n, nil
}

// GetRoleHierarchy lists active roles, most authoritative first.
func (s *Service) GetRoleHierarchy(ctx context.Context) ([]Role, error) {
	return s.Roles.GetRoleHierarchy(ctx)
}

// GetRoleWithPermissions fetches a role with its grants.
func (s *Service) GetRoleWithPermissions(ctx context.Context, id int64) (RoleWithPermissions, error) {
	return s.Roles.GetRoleWithPermissions(ctx, id)
}

// CanManageRole reports whether actorID strictly outranks the role.
func (s *Service) CanManageRole(ctx context.Context, actorID, roleID int64) (bool, error) {
	return s.Roles.CanManageRole(ctx, actorID, roleID)
}

// GetUserRoles lists the user's valid assignments.
func (s *Service) GetUserRoles(ctx context.Context, userID int64) ([]Assignment, error) {
	return s.Assignments.GetUserRoles(ctx, userID)
}

// GetHighestRole returns the user's top role or nil.
func (s *Service) GetHighestRole(ctx context.Context, userID int64) (*Role, error) {
	return s.Assignments.GetHighestRole(ctx, userID)
}

// GetOverrides lists the user's active overrides.
func (s *Service) GetOverrides(ctx context.Context, userID int64) ([]Override, error) {
	return s.Overrides.GetOverrides(ctx, userID)
}

// EffectivePermissions resolves the user's permission set.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) (PermissionSet, error) {
	return s.Engine.EffectivePermissions(ctx, userID)
}

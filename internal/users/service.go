package users

import (
	"context"
	"errors"
	"log/slog"

	"github.com/odyssey-erp/itdesk/internal/rbac"
	"github.com/odyssey-erp/itdesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, f ListFilter, limit, offset int) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
}

// RBACPort is the slice of the RBAC service user administration needs.
type RBACPort interface {
	GetUserRoles(ctx context.Context, userID int64) ([]rbac.Assignment, error)
	GetHighestRole(ctx context.Context, userID int64) (*rbac.Role, error)
	GetOverrides(ctx context.Context, userID int64) ([]rbac.Override, error)
	EffectivePermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error)
	AssignRole(ctx context.Context, actorID, userID, roleID int64, opts rbac.AssignOptions) (rbac.Assignment, error)
	RemoveRole(ctx context.Context, actorID, userID, roleID int64) error
	SetOverride(ctx context.Context, actorID, userID, permissionID int64, in rbac.OverrideInput) (rbac.Override, error)
	ClearOverride(ctx context.Context, actorID, userID, permissionID int64) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

const idempotencyModule = "user_roles"

// ErrDuplicateRequest reports a replayed Idempotency-Key.
var ErrDuplicateRequest = &rbac.ConflictError{Reason: "duplicate request"}

// Service handles user business logic.
type Service struct {
	repo        RepositoryPort
	rbac        RBACPort
	idempotency IdempotencyPort
	logger      *slog.Logger
}

// NewService builds Service instance. idem may be nil.
func NewService(repo RepositoryPort, port RBACPort, idem IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, rbac: port, idempotency: idem, logger: logger}
}

// ListUsers returns one page of users.
func (s *Service) ListUsers(ctx context.Context, f ListFilter) (Page, error) {
	p := shared.NewPagination(f.Page, f.PerPage, 0)
	users, total, err := s.repo.ListUsers(ctx, f, p.PerPage, p.Offset())
	if err != nil {
		return Page{}, err
	}
	return Page{Users: users, Pagination: shared.NewPagination(p.Page, p.PerPage, total)}, nil
}

// GetAccess returns the user together with roles, overrides and effective permissions.
func (s *Service) GetAccess(ctx context.Context, userID int64) (Access, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	roles, err := s.rbac.GetUserRoles(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	top, err := s.rbac.GetHighestRole(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	perms, err := s.rbac.EffectivePermissions(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	overrides, err := s.rbac.GetOverrides(ctx, userID)
	if err != nil {
		return Access{}, err
	}
	return Access{User: user, Roles: nonNil(roles), HighestRole: top, Permissions: perms, Overrides: nonNil(overrides)}, nil
}

// GetRoles lists the user's valid assignments.
func (s *Service) GetRoles(ctx context.Context, userID int64) ([]rbac.Assignment, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	roles, err := s.rbac.GetUserRoles(ctx, userID)
	return nonNil(roles), err
}

// GetPermissions returns the user's effective permission set.
func (s *Service) GetPermissions(ctx context.Context, userID int64) (rbac.PermissionSet, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return rbac.PermissionSet{}, err
	}
	return s.rbac.EffectivePermissions(ctx, userID)
}

// GetOverrides lists the user's active overrides.
func (s *Service) GetOverrides(ctx context.Context, userID int64) ([]rbac.Override, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	overrides, err := s.rbac.GetOverrides(ctx, userID)
	return nonNil(overrides), err
}

// AssignRole assigns a role. A non-empty key makes the call idempotent: a
// replay returns ErrDuplicateRequest and a failed attempt releases the key.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64, opts rbac.AssignOptions, key string) (rbac.Assignment, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return rbac.Assignment{}, err
	}
	if !user.IsActive {
		return rbac.Assignment{}, &rbac.ValidationError{Fields: map[string]string{"user_id": "user is inactive"}}
	}
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return rbac.Assignment{}, ErrDuplicateRequest
			}
			return rbac.Assignment{}, err
		}
	}
	a, err := s.rbac.AssignRole(ctx, actorID, userID, roleID, opts)
	if err != nil && key != "" && s.idempotency != nil {
		if derr := s.idempotency.Delete(ctx, key, idempotencyModule); derr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
		}
	}
	return a, err
}

// RemoveRole revokes one of the user's roles.
func (s *Service) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	return s.rbac.RemoveRole(ctx, actorID, userID, roleID)
}

// SetOverride grants or revokes a single permission for the user.
func (s *Service) SetOverride(ctx context.Context, actorID, userID, permissionID int64, in rbac.OverrideInput) (rbac.Override, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return rbac.Override{}, err
	}
	return s.rbac.SetOverride(ctx, actorID, userID, permissionID, in)
}

// ClearOverride drops the user's override for permissionID.
func (s *Service) ClearOverride(ctx context.Context, actorID, userID, permissionID int64) error {
	return s.rbac.ClearOverride(ctx, actorID, userID, permissionID)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

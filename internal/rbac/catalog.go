package rbac

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// Catalog is the universe of grantable permissions.
type Catalog struct {
	store Store
}

// NewCatalog constructs a Catalog.
func NewCatalog(store Store) *Catalog {
	return &Catalog{store: store}
}

// CreatePermissionInput describes a new catalog entry.
type CreatePermissionInput struct {
	Resource    string    `json:"resource" validate:"required,max=64,excludesrune=:"`
	Action      string    `json:"action" validate:"required,max=64,excludesrune=:"`
	Scope       string    `json:"scope" validate:"max=32,excludesrune=:"`
	DisplayName string    `json:"display_name" validate:"max=128"`
	Category    string    `json:"category" validate:"max=64"`
	RiskLevel   RiskLevel `json:"risk_level"`
}

// ListPermissions returns permissions ordered by category, resource, action, scope.
func (c *Catalog) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	perms, err := c.store.ListPermissions(ctx, filter)
	if err != nil {
		return nil, err
	}
	sortPermissions(perms)
	return perms, nil
}

// GetPermission fetches a permission by ID.
func (c *Catalog) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return lookupPermission(ctx, c.store.GetPermission, id)
}

// FindPermission looks up an active permission by its triple. An empty scope means ALL.
func (c *Catalog) FindPermission(ctx context.Context, resource, action, scope string) (Permission, error) {
	key := Permission{Resource: resource, Action: action, Scope: scope}.Key()
	perm, err := c.store.FindPermission(ctx, key.Resource, key.Action, key.Scope)
	if err != nil {
		if isNotFound(err) {
			return Permission{}, &NotFoundError{Entity: "permission", Key: key.Resource + ":" + key.Action + ":" + key.Scope}
		}
		return Permission{}, err
	}
	return perm, nil
}

// CreatePermission adds a catalog entry. A duplicate active triple is a conflict.
func (c *Catalog) CreatePermission(ctx context.Context, in CreatePermissionInput) (Permission, error) {
	if err := validateStruct(in); err != nil {
		return Permission{}, err
	}
	if in.RiskLevel == 0 {
		in.RiskLevel = RiskNormal
	}
	if !in.RiskLevel.Valid() {
		return Permission{}, newValidationError("risk_level", "is invalid")
	}
	key := Permission{Resource: in.Resource, Action: in.Action, Scope: in.Scope}.Key()
	perm := Permission{
		Resource:    key.Resource,
		Action:      key.Action,
		Scope:       key.Scope,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Category:    strings.TrimSpace(in.Category),
		RiskLevel:   in.RiskLevel,
		IsActive:    true,
	}
	if perm.DisplayName == "" {
		perm.DisplayName = key.String()
	}
	var created Permission
	err := c.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		created, err = tx.InsertPermission(ctx, perm)
		return err
	})
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return Permission{}, &ConflictError{Reason: "permission " + key.String() + " already exists"}
		}
		return Permission{}, err
	}
	return created, nil
}

// DeactivatePermission soft-deletes a permission. Grant rows stay for audit
// history but stop contributing to decisions.
func (c *Catalog) DeactivatePermission(ctx context.Context, id int64) (Permission, error) {
	perm, err := c.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if !perm.IsActive {
		return perm, nil
	}
	err = c.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.DeactivatePermission(ctx, id)
	})
	if err != nil {
		return Permission{}, err
	}
	perm.IsActive = false
	return perm, nil
}

func sortPermissions(perms []Permission) {
	sort.SliceStable(perms, func(i, j int) bool {
		a, b := perms[i], perms[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Scope < b.Scope
	})
}

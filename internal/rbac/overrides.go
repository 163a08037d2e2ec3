package rbac

import (
	"context"
	"fmt"
	"strings"
)

// OverrideLayer owns per-user permission exceptions.
type OverrideLayer struct {
	authority
}

// OverrideInput sets or replaces the override of one permission.
type OverrideInput struct {
	Granted *bool  `json:"granted" validate:"required"`
	Reason  string `json:"reason" validate:"max=500"`
}

// GetOverrides returns the user's active overrides.
func (o *OverrideLayer) GetOverrides(ctx context.Context, userID int64) ([]Override, error) {
	rows, err := o.store.ListUserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	return activeOverrides(rows), nil
}

// SetOverride upserts the single active override for (userID, permissionID).
// The actor must outrank the target user's highest role, and a grant also
// requires the actor to be able to grant the permission.
func (o *OverrideLayer) SetOverride(ctx context.Context, actorID, userID, permissionID int64, in OverrideInput) (Override, error) {
	if err := validateStruct(in); err != nil {
		return Override{}, err
	}
	perm, err := lookupPermission(ctx, o.store.GetPermission, permissionID)
	if err != nil {
		return Override{}, err
	}
	if !perm.IsActive {
		return Override{}, newValidationError("permission_id", "permission "+perm.Key().String()+" is inactive")
	}
	if err := o.requireOutrankUser(ctx, actorID, userID); err != nil {
		return Override{}, err
	}
	if *in.Granted {
		if err := o.requireGrantable(ctx, actorID, perm); err != nil {
			return Override{}, err
		}
	}
	var saved Override
	err = o.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		saved, err = tx.UpsertOverride(ctx, Override{
			UserID:       userID,
			PermissionID: permissionID,
			Granted:      *in.Granted,
			IsActive:     true,
			GrantedBy:    actorID,
			Reason:       strings.TrimSpace(in.Reason),
		})
		return err
	})
	if err != nil {
		return Override{}, err
	}
	saved.Permission = perm
	return saved, nil
}

// ClearOverride deactivates the override so role inference applies again.
func (o *OverrideLayer) ClearOverride(ctx context.Context, actorID, userID, permissionID int64) error {
	if _, err := lookupPermission(ctx, o.store.GetPermission, permissionID); err != nil {
		return err
	}
	if err := o.requireOutrankUser(ctx, actorID, userID); err != nil {
		return err
	}
	return o.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		ok, err := tx.DeactivateOverride(ctx, userID, permissionID)
		if err != nil {
			return err
		}
		if !ok {
			return &NotFoundError{Entity: "override", Key: fmt.Sprintf("user %d permission %d", userID, permissionID)}
		}
		return nil
	})
}

func (o *OverrideLayer) requireOutrankUser(ctx context.Context, actorID, userID int64) error {
	target, _, err := o.level(ctx, userID)
	if err != nil {
		return err
	}
	return o.requireLevel(ctx, actorID, target, fmt.Sprintf("user %d", userID))
}

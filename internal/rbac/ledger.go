package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Ledger owns user-role assignments.
type Ledger struct {
	authority
}

// AssignOptions qualify a new assignment.
type AssignOptions struct {
	ExpiresAt *time.Time `json:"expires_at"`
	Reason    string     `json:"reason" validate:"max=500"`
	IsPrimary bool       `json:"is_primary"`
}

// GetUserRoles returns valid assignments, highest role level first.
func (l *Ledger) GetUserRoles(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := l.store.ListUserAssignments(ctx, userID)
	if err != nil {
		return nil, err
	}
	return validAssignments(rows, l.now()), nil
}

// GetHighestRole returns the user's most authoritative role. A nil role means
// the user holds no authority; it is not an error.
func (l *Ledger) GetHighestRole(ctx context.Context, userID int64) (*Role, error) {
	return l.highestRole(ctx, userID)
}

// AssignRole links userID to roleID on behalf of actorID. The actor must
// outrank the role. Requesting IsPrimary demotes any other primary assignment
// in the same transaction.
func (l *Ledger) AssignRole(ctx context.Context, actorID, userID, roleID int64, opts AssignOptions) (Assignment, error) {
	if err := validateStruct(opts); err != nil {
		return Assignment{}, err
	}
	now := l.now()
	if opts.ExpiresAt != nil && !opts.ExpiresAt.After(now) {
		return Assignment{}, newValidationError("expires_at", "must be in the future")
	}
	role, err := lookupRole(ctx, l.store.GetRole, roleID)
	if err != nil {
		return Assignment{}, err
	}
	if !role.IsActive {
		return Assignment{}, newValidationError("role_id", "role "+role.Name+" is inactive")
	}
	if err := l.requireManage(ctx, actorID, role); err != nil {
		return Assignment{}, err
	}

	var created Assignment
	err = l.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		role, err := lookupRole(ctx, tx.LockRole, roleID)
		if err != nil {
			return err
		}
		existing, err := tx.FindActiveAssignment(ctx, userID, roleID)
		switch {
		case err == nil:
			if existing.ValidAt(now) {
				return &ConflictError{Reason: fmt.Sprintf("user %d already holds role %s", userID, role.Name)}
			}
			// Stale row: expired but still flagged active.
			if err := tx.DeactivateAssignment(ctx, existing.ID); err != nil {
				return err
			}
		case !isNotFound(err):
			return err
		}
		if role.MaxUsers != nil {
			n, err := tx.CountValidAssignments(ctx, roleID, now)
			if err != nil {
				return err
			}
			if n >= *role.MaxUsers {
				return &ConflictError{Reason: fmt.Sprintf("role %s is limited to %d user(s)", role.Name, *role.MaxUsers)}
			}
		}
		if opts.IsPrimary {
			if err := tx.DemotePrimaryAssignments(ctx, userID); err != nil {
				return err
			}
		}
		created, err = tx.InsertAssignment(ctx, Assignment{
			UserID:     userID,
			RoleID:     roleID,
			IsActive:   true,
			IsPrimary:  opts.IsPrimary,
			AssignedBy: actorID,
			Reason:     strings.TrimSpace(opts.Reason),
			ExpiresAt:  opts.ExpiresAt,
			AssignedAt: now,
		})
		if err != nil {
			return err
		}
		created.Role = role
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return created, nil
}

// RemoveRole deactivates the user's valid assignment to roleID. Removing an
// assignment that does not exist is a NotFoundError.
func (l *Ledger) RemoveRole(ctx context.Context, actorID, userID, roleID int64) (Assignment, error) {
	role, err := lookupRole(ctx, l.store.GetRole, roleID)
	if err != nil {
		return Assignment{}, err
	}
	if err := l.requireManage(ctx, actorID, role); err != nil {
		return Assignment{}, err
	}
	var removed Assignment
	err = l.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		existing, err := tx.FindActiveAssignment(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !existing.ValidAt(l.now()) {
			return ErrNotFound
		}
		if err := tx.DeactivateAssignment(ctx, existing.ID); err != nil {
			return err
		}
		removed = existing
		removed.IsActive = false
		removed.Role = role
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Assignment{}, &NotFoundError{Entity: "assignment", Key: fmt.Sprintf("user %d role %s", userID, role.Name)}
		}
		return Assignment{}, err
	}
	return removed, nil
}

// PurgeExpired flips is_active on assignments whose expiry has passed.
// Decisions never depend on it; it only keeps storage tidy.
func (l *Ledger) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := l.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		n, err = tx.DeactivateExpiredAssignments(ctx, nil, l.now())
		return err
	})
	return n, err
}

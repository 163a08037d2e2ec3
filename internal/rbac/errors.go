package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/itdesk/internal/platform/httpx"
)

// Machine-readable reason codes carried by rejections and typed errors.
const (
	CodeUnauthenticated = "UNAUTHENTICATED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeValidation      = "VALIDATION_FAILED"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)

// UnauthenticatedError reports a request without a resolvable identity.
type UnauthenticatedError struct {
	Reason string
}

func (e *UnauthenticatedError) Error() string {
	if e.Reason == "" {
		return "rbac: unauthenticated"
	}
	return "rbac: unauthenticated: " + e.Reason
}

func (e *UnauthenticatedError) Unwrap() error         { return httpx.ErrUnauthorized }
func (e *UnauthenticatedError) ErrorCode() string     { return CodeUnauthenticated }
func (e *UnauthenticatedError) PublicMessage() string { return "authentication required" }

// ForbiddenError reports missing permission or a failed hierarchy check. The
// required permission or role is kept for operators; end users only see the
// public message.
type ForbiddenError struct {
	Permission string
	Role       string
	Reason     string
}

func (e *ForbiddenError) Error() string {
	var b strings.Builder
	b.WriteString("rbac: forbidden")
	if e.Permission != "" {
		b.WriteString(": requires permission " + e.Permission)
	}
	if e.Role != "" {
		b.WriteString(": role " + e.Role)
	}
	if e.Reason != "" {
		b.WriteString(": " + e.Reason)
	}
	return b.String()
}

func (e *ForbiddenError) Unwrap() error         { return httpx.ErrForbidden }
func (e *ForbiddenError) ErrorCode() string     { return CodeForbidden }
func (e *ForbiddenError) PublicMessage() string { return "insufficient permission" }

// NotFoundError reports a missing role, permission or assignment.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rbac: %s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error     { return httpx.ErrNotFound }
func (e *NotFoundError) ErrorCode() string { return CodeNotFound }

// ConflictError reports a duplicate assignment or a blocked deletion.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string     { return "rbac: conflict: " + e.Reason }
func (e *ConflictError) Unwrap() error     { return httpx.ErrConflict }
func (e *ConflictError) ErrorCode() string { return CodeConflict }

// ValidationError reports malformed input, keyed by field.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "rbac: validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error                  { return httpx.ErrValidation }
func (e *ValidationError) ErrorCode() string              { return CodeValidation }
func (e *ValidationError) FieldErrors() map[string]string { return e.Fields }

func notFound(entity string, id int64) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprintf("%d", id)}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

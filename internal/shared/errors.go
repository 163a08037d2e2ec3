package shared

import "errors"

// Sentinel errors shared by the auth and admin handlers.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrCSRFTokenMissing  = errors.New("csrf token missing")
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")

	// ErrIdempotencyConflict is returned when an idempotency key was already
	// claimed for the same module.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

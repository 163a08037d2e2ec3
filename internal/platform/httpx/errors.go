// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Coded is implemented by errors carrying a machine-readable reason code.
type Coded interface {
	ErrorCode() string
}

// Public is implemented by errors whose message differs for end users.
type Public interface {
	PublicMessage() string
}

// Fielded is implemented by validation errors keyed by request field.
type Fielded interface {
	FieldErrors() map[string]string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	code := ""
	var coded Coded
	if errors.As(err, &coded) {
		code = coded.ErrorCode()
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	var public Public
	if errors.As(err, &public) {
		detail = public.PublicMessage()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", detail, code)
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", detail, code)
	case errors.Is(err, ErrValidation):
		p := ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: detail, Code: code}
		var fielded Fielded
		if errors.As(err, &fielded) {
			p.Errors = fielded.FieldErrors()
		}
		WriteProblem(w, p)
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", detail, code)
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", detail, code)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "", "")
	}
}

// IsInternal reports whether err maps to a 500 response.
func IsInternal(err error) bool {
	for _, known := range []error{ErrNotFound, ErrDuplicate, ErrConflict, ErrValidation, ErrForbidden, ErrUnauthorized} {
		if errors.Is(err, known) {
			return false
		}
	}
	return err != nil
}

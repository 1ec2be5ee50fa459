// Package poerr defines the error taxonomy shared across the issuance and
// verification pipeline. Every component surfaces exactly one class; the API
// layer maps classes to HTTP status codes.
package poerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Class identifies the failure category of a pipeline error.
type Class string

const (
	ClassInput            Class = "input"
	ClassSchemaInvalid    Class = "schema_invalid"
	ClassExpired          Class = "expired"
	ClassSignatureInvalid Class = "signature_invalid"
	ClassEvidenceMismatch Class = "evidence_mismatch"
	ClassScopeViolation   Class = "scope_violation"
	ClassPolicyViolation  Class = "policy_violation"
	ClassResolution       Class = "resolution_error"
	ClassConflict         Class = "conflict"
	ClassInternal         Class = "internal"
)

// Error is a classified pipeline error.
type Error struct {
	Class Class
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(class Class, msg string) *Error {
	return &Error{Class: class, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a class to an underlying error.
func Wrap(class Class, msg string, err error) *Error {
	return &Error{Class: class, Msg: msg, Err: err}
}

// ClassOf extracts the class of err, defaulting to internal.
func ClassOf(err error) Class {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassInternal
}

// HTTPStatus maps an error class to the HTTP status the API surfaces.
func HTTPStatus(class Class) int {
	switch class {
	case ClassInput, ClassSchemaInvalid:
		return http.StatusBadRequest
	case ClassExpired, ClassSignatureInvalid, ClassScopeViolation:
		return http.StatusUnauthorized
	case ClassEvidenceMismatch, ClassPolicyViolation:
		return http.StatusUnprocessableEntity
	case ClassResolution:
		return http.StatusBadGateway
	case ClassConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Package domainerrors defines coded errors shared across services and the
// HTTP layer. Services return these; transport translates codes to statuses
// without inspecting error strings.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure independent of its message.
type Code string

const (
	CodeBadRequest           Code = "bad_request"
	CodeUnauthorized         Code = "unauthorized"
	CodeForbidden            Code = "forbidden"
	CodeNotFound             Code = "not_found"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeNotReviewed          Code = "not_reviewed"
	CodeAlreadyFinalized     Code = "already_finalized"
	CodeDuplicateNumber      Code = "duplicate_document_number"
	CodeAllocationContention Code = "allocation_contention"
	CodeTimeout              Code = "timeout"
	CodeInternal             Code = "internal"
)

// Error carries a code for transport mapping and wraps an underlying cause
// when one exists.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a coded error preserving the underlying cause for errors.Is.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Is reports whether err (or anything it wraps) carries the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps domain error codes to HTTP statuses. Kept here so every
// handler reports the same status for the same class of failure.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeNotReviewed:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidTransition, CodeAlreadyFinalized, CodeDuplicateNumber:
		return http.StatusConflict
	case CodeAllocationContention:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

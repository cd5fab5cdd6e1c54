// Package apperr defines the request-scoped errors raised by the signup,
// team and scoring logic, and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Signup errors
	CodeEventFull       Code = "EVENT_FULL"
	CodeAlreadySignedUp Code = "ALREADY_SIGNED_UP"
	CodeStudentBusy     Code = "STUDENT_BUSY"
	CodeWrongSignupType Code = "WRONG_SIGNUP_TYPE"
	CodeSignupClosed    Code = "SIGNUP_CLOSED"

	// State errors
	CodeNotAllowed      Code = "NOT_ALLOWED"
	CodeResourceMissing Code = "RESOURCE_MISSING"

	// Team errors
	CodeNotTeamMember Code = "NOT_TEAM_MEMBER"
	CodeTeamExists    Code = "TEAM_EXISTS"

	// Input errors
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeInvalidE5Code   Code = "INVALID_E5CODE"

	// Access errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
)

// HTTPStatus maps a code to the status the request boundary answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument,
		CodeInvalidE5Code,
		CodeWrongSignupType,
		CodeNotTeamMember:
		return http.StatusBadRequest

	case CodeEventFull,
		CodeAlreadySignedUp,
		CodeStudentBusy,
		CodeSignupClosed,
		CodeTeamExists:
		return http.StatusConflict

	case CodeNotAllowed, CodeForbidden:
		return http.StatusForbidden

	case CodeResourceMissing:
		return http.StatusNotFound

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code and a user-facing message.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// Sentinels for errors.Is comparisons. Only the code is compared.
var (
	ErrEventFull       = &Error{Code: CodeEventFull, Message: "event is full"}
	ErrAlreadySignedUp = &Error{Code: CodeAlreadySignedUp, Message: "already signed up for this event"}
	ErrStudentBusy     = &Error{Code: CodeStudentBusy, Message: "student is busy at the time of this event"}
	ErrWrongSignupType = &Error{Code: CodeWrongSignupType, Message: "this kind of signup is not accepted by the event"}
	ErrSignupClosed    = &Error{Code: CodeSignupClosed, Message: "signup for this event is closed"}
	ErrNotAllowed      = &Error{Code: CodeNotAllowed, Message: "action is not allowed"}
	ErrResourceMissing = &Error{Code: CodeResourceMissing, Message: "resource does not exist"}
	ErrNotTeamMember   = &Error{Code: CodeNotTeamMember, Message: "user is not in the team"}
	ErrTeamExists      = &Error{Code: CodeTeamExists, Message: "team already exists"}
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "authentication required"}
	ErrForbidden       = &Error{Code: CodeForbidden, Message: "forbidden"}
)

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Missing reports a resource that does not exist, naming what was looked up.
func Missing(what string) *Error {
	return &Error{Code: CodeResourceMissing, Message: what + " does not exist"}
}

// Invalid reports a validation failure.
func Invalid(message string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: message}
}

// GetCode extracts the code from err, or CodeUnknown.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// As returns the domain error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

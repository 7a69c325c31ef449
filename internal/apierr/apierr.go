package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error carries an HTTP status and a machine-readable code alongside the
// underlying error. Services return it; handlers unwrap it into a response.
type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// Validation marks malformed or out-of-range client input. Not retryable.
func Validation(format string, args ...any) *Error {
	return New(http.StatusBadRequest, "validation_error", fmt.Errorf(format, args...))
}

// Quota marks a hard resource cap (sessions, messages, questions).
func Quota(format string, args ...any) *Error {
	return New(http.StatusForbidden, "quota_exceeded", fmt.Errorf(format, args...))
}

// Upstream marks a failed search, page fetch or completion call.
func Upstream(err error) *Error {
	return New(http.StatusBadGateway, "upstream_failure", err)
}

// Parse marks model output that could not be repaired into JSON. From the
// caller's viewpoint it is indistinguishable from an upstream failure.
func Parse(err error) *Error {
	return New(http.StatusBadGateway, "parse_failure", err)
}

// NotFound covers both missing ids and other users' resources, so an
// ownership failure never leaks that the resource exists.
func NotFound(resource string) *Error {
	return New(http.StatusNotFound, "not_found", fmt.Errorf("%s not found", resource))
}

// From extracts an *Error, or wraps unknown errors as an internal 500.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(http.StatusInternalServerError, "internal_error", err)
}

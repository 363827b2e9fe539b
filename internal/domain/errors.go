// Package domain provides shared domain-level sentinel errors and the
// coded error type used for machine-readable API failures.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the entity is in the wrong state for the
// requested transition.
var ErrConflict = errors.New("conflict: resource is in the wrong state")

// ErrValidation indicates a malformed or incomplete request.
var ErrValidation = errors.New("validation failed")

// ErrGone indicates the entity existed but has expired and is now
// unusable by design. Distinguished from ErrNotFound on the wire (410 vs 404).
var ErrGone = errors.New("gone: resource has expired")

// Coded is an error carrying a stable machine-readable code and the HTTP
// status it maps to. Bots branch on Code; humans read Message.
type Coded struct {
	Code    string
	Status  int
	Message string
	Err     error
}

func (e *Coded) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Coded) Unwrap() error { return e.Err }

// NewCoded creates a Coded error.
func NewCoded(code string, status int, message string) *Coded {
	return &Coded{Code: code, Status: status, Message: message}
}

// Wire codes shared across handlers. Subsystem-specific codes (intent
// verification verdicts, claim states) live next to their state machines.
const (
	CodeInvalidRequest = "invalid_request"
	CodeUnauthorized   = "unauthorized"
	CodeForbidden      = "forbidden"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeGone           = "gone"
	CodeScopeMissing   = "scope_missing"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

// AsCoded extracts a *Coded from err, or wraps a sentinel into the
// matching generic coded error. Unknown errors become internal_error.
func AsCoded(err error) *Coded {
	var coded *Coded
	if errors.As(err, &coded) {
		return coded
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return &Coded{Code: CodeNotFound, Status: http.StatusNotFound, Message: "not found", Err: err}
	case errors.Is(err, ErrGone):
		return &Coded{Code: CodeGone, Status: http.StatusGone, Message: "expired", Err: err}
	case errors.Is(err, ErrConflict):
		return &Coded{Code: CodeConflict, Status: http.StatusConflict, Message: "wrong state for requested transition", Err: err}
	case errors.Is(err, ErrValidation):
		return &Coded{Code: CodeInvalidRequest, Status: http.StatusBadRequest, Message: err.Error(), Err: err}
	default:
		return &Coded{Code: CodeInternal, Status: http.StatusInternalServerError, Message: "internal server error", Err: err}
	}
}

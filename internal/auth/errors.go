package auth

import "net/http"

// Error is a gate rejection. Status is the HTTP status the rejection maps to.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrMissingCredentials = &Error{
		Status:  http.StatusUnauthorized,
		Code:    "missing_credentials",
		Message: "missing Authorization header",
	}
	ErrInvalidCredentials = &Error{
		Status:  http.StatusUnauthorized,
		Code:    "invalid_credentials",
		Message: "invalid or expired token",
	}
	ErrForbidden = &Error{
		Status:  http.StatusForbidden,
		Code:    "insufficient_scope",
		Message: "insufficient permissions for this resource",
	}
)

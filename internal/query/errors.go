package query

import (
	"errors"
	"net/http"

	"github.com/vesaa/fleetscope/internal/auth"
	"github.com/vesaa/fleetscope/internal/store"
)

// Kind tags the outcome of a query.
type Kind int

const (
	KindOK Kind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindFault
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	default:
		return "fault"
	}
}

// Status maps the kind onto an HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindOK:
		return http.StatusOK
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// ErrNotAuthorized is returned when a verified token carries no username.
var ErrNotAuthorized = errors.New("not authorized")

// Error is the only error type the Service returns. Message is safe to
// show to callers; Err keeps the cause for logs and errors.Is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf classifies err. nil is KindOK; anything unrecognised is a fault.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var qe *Error
	if errors.As(err, &qe) {
		return qe.Kind
	}
	var ae *auth.Error
	if errors.As(err, &ae) {
		if ae.Status == http.StatusForbidden {
			return KindForbidden
		}
		return KindUnauthorized
	}
	if errors.Is(err, store.ErrNotFound) {
		return KindNotFound
	}
	return KindFault
}

func notFound(msg string, cause error) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Err: cause}
}

func gateError(err error) *Error {
	var ae *auth.Error
	if errors.As(err, &ae) {
		return &Error{Kind: KindOf(ae), Message: ae.Message, Err: ae}
	}
	return &Error{Kind: KindUnauthorized, Message: auth.ErrInvalidCredentials.Message, Err: err}
}

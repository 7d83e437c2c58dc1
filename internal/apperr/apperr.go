// Package apperr defines the error taxonomy shared by all identity and
// activation components. Every business-rule failure carries a stable,
// machine-checkable Kind plus a human message; only Transient errors are
// worth retrying.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// KindValidation: malformed/missing input or a violated business precondition.
	KindValidation Kind = "validation"
	// KindNotFound: a referenced entity is absent.
	KindNotFound Kind = "not_found"
	// KindConflict: a uniqueness violation (duplicate username/email/device activation).
	KindConflict Kind = "conflict"
	// KindBusiness: valid request disallowed by current state (expired invite, deactivated account).
	KindBusiness Kind = "business"
	// KindAuthentication: credential or token invalid.
	KindAuthentication Kind = "authentication"
	// KindTransient: I/O or timeout failure; safe to retry.
	KindTransient Kind = "transient"
	// KindCrypto: hashing subsystem failure, fatal.
	KindCrypto Kind = "crypto"
	// KindInternal: an untagged error escaped the taxonomy; a bug, not retryable.
	KindInternal Kind = "internal"
)

// Error is a kind-tagged error. Matchable with errors.As, and by Kind via Is:
// errors.Is(err, apperr.New(apperr.KindConflict, "")) is true for any conflict.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so sentinel values created with
// New(kind, "") act as kind matchers.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New returns a kind-tagged error with the given message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf returns a kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags an underlying error with a kind and message.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ErrInvalidToken marks every failure mode of a single-use verification
// credential (malformed, wrong purpose, unknown, consumed, expired). Callers
// match it with errors.Is; it carries the authentication kind.
var ErrInvalidToken = &Error{Kind: KindAuthentication, Message: "invalid verification token"}

// KindOf extracts the Kind from err. Context cancellation maps to
// KindTransient; any other untagged error reports KindInternal so that bugs
// surface as 500s instead of masquerading as retryable I/O failures (the repo
// layer tags its own I/O errors transient).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the failed operation.
func Retryable(err error) bool {
	return err != nil && KindOf(err) == KindTransient
}

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindBusiness:
		return http.StatusUnprocessableEntity
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package platform provides the ambient stack shared by every control-plane
// component: logging, error kinds, configuration, and HTTP middleware.
package platform

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP status mapping and retry decisions.
// These are the error kinds named in the job lifecycle engine's error design:
// validation, conflict, not-found, forbidden, transient, internal.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindTransient  Kind = "transient"
	KindInternal   Kind = "internal"
)

// Error is a structured, wrappable error carrying enough context for both
// logging and the HTTP status mapping in HTTPStatus.
type Error struct {
	Op      string // operation that failed, e.g. "scheduler.Tick"
	Kind    Kind
	Entity  string // entity type involved, e.g. "run", "queue_entry"
	ID      string // id of the entity involved, if any
	Message string
	Reason  string // machine-readable reason for forbidden/conflict (quota, approval, ...)
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s: %s[%s]: %s", e.Op, e.Entity, e.ID, msg)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an Error with the given op/kind/message.
func NewError(op string, kind Kind, message string) *Error {
	return &Error{Op: op, Kind: kind, Message: message}
}

// Wrap annotates err with operation and kind context.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// WithEntity attaches entity type/id context and returns the receiver for chaining.
func (e *Error) WithEntity(entity, id string) *Error {
	e.Entity = entity
	e.ID = id
	return e
}

// WithReason attaches a machine-readable reason code (used for quota/approval denials).
func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

// Sentinel errors for comparison via errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrLeaseHeld       = errors.New("run is leased by another agent")
	ErrLeaseLost       = errors.New("lease no longer held")
	ErrBudgetExhausted = errors.New("retry budget exhausted")
	ErrQuotaExceeded   = errors.New("project quota exceeded")
	ErrApprovalPending = errors.New("approval gate not satisfied")
)

// KindOf extracts the Kind from err if it (or something it wraps) is an *Error.
// Falls back to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrLeaseHeld), errors.Is(err, ErrLeaseLost):
		return KindConflict
	case errors.Is(err, ErrBudgetExhausted), errors.Is(err, ErrQuotaExceeded), errors.Is(err, ErrApprovalPending):
		return KindForbidden
	}
	return KindInternal
}

// HTTPStatus maps an error's Kind to the HTTP status conventions in the
// control plane's error design: validation->400, conflict->409,
// not-found->404, forbidden->403 (quota/approval->409 with a reason),
// transient->503, internal->500. 429 is reserved for the edge rate limiter.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if e.Kind == KindForbidden && e.Reason != "" {
			return http.StatusConflict
		}
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsRetryable reports whether err represents a transient condition worth
// retrying locally with bounded attempts.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

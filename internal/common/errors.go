package common

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds surfaced by the session manager. Match them with errors.Is.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrConcurrencyLimit  = errors.New("concurrent session limit exceeded")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrQuotaExceeded     = errors.New("storage quota exceeded")
	ErrLockTimeout       = errors.New("file lock timeout")
	ErrStorage           = errors.New("storage error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrCanceled          = errors.New("request canceled")
)

// Error carries the failing operation and session alongside one of the kinds above
type Error struct {
	Op        string
	SessionID string
	Kind      error
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.SessionID != "" {
		msg += " (session " + e.SessionID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an Error of the given kind
func NewError(op, sessionID string, kind, cause error) *Error {
	return &Error{Op: op, SessionID: sessionID, Kind: kind, Err: cause}
}

// StorageErr wraps a filesystem failure. Errors that already carry a kind are returned unchanged.
func StorageErr(op, sessionID string, cause error) error {
	if cause == nil {
		return nil
	}
	if KindOf(cause) != nil {
		return cause
	}
	return NewError(op, sessionID, ErrStorage, cause)
}

// Canceled wraps a context error so the caller's cancellation keeps its own kind
func Canceled(op, sessionID string, cause error) error {
	return NewError(op, sessionID, ErrCanceled, cause)
}

// NotFound reports an unknown or expired session
func NotFound(op, sessionID string) error {
	return NewError(op, sessionID, ErrSessionNotFound, nil)
}

// InvalidInput reports rejected caller input
func InvalidInput(op, sessionID, format string, args ...interface{}) error {
	return NewError(op, sessionID, ErrInvalidInput, fmt.Errorf(format, args...))
}

var kinds = []error{
	ErrSessionNotFound,
	ErrConcurrencyLimit,
	ErrInvalidTransition,
	ErrQuotaExceeded,
	ErrLockTimeout,
	ErrStorage,
	ErrInvalidInput,
}

// KindOf returns the kind carried by err, or nil. Cancellation wins over
// any kind it was wrapped in.
func KindOf(err error) error {
	if errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsRetryable reports whether the caller may retry after backoff
func IsRetryable(err error) bool {
	return errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConcurrencyLimit)
}

// Code returns a stable machine-readable code for an error kind
func Code(err error) string {
	switch KindOf(err) {
	case ErrSessionNotFound:
		return "SESSION_NOT_FOUND"
	case ErrConcurrencyLimit:
		return "CONCURRENCY_LIMIT_EXCEEDED"
	case ErrInvalidTransition:
		return "INVALID_TRANSITION"
	case ErrQuotaExceeded:
		return "STORAGE_QUOTA_EXCEEDED"
	case ErrLockTimeout:
		return "LOCK_TIMEOUT"
	case ErrStorage:
		return "STORAGE_ERROR"
	case ErrInvalidInput:
		return "INVALID_INPUT"
	case ErrCanceled:
		return "REQUEST_CANCELED"
	default:
		return "INTERNAL_ERROR"
	}
}

package engine

import (
	"errors"
	"fmt"
)

// ScopeErrorCode categorizes scope resolution failures.
type ScopeErrorCode string

const (
	// ErrCodeDeletedTarget indicates the directive references a group or
	// client that no longer exists (or an archived group). Callers treat
	// this as "directive should be deactivated", not a fatal error.
	ErrCodeDeletedTarget ScopeErrorCode = "DELETED_TARGET"
)

// ScopeError reports a scope resolution failure for a directive.
type ScopeError struct {
	Code        ScopeErrorCode
	DirectiveID string
	TargetID    string
	Message     string
}

// Error implements the error interface.
func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s: %s (directive=%s, target=%s)", e.Code, e.Message, e.DirectiveID, e.TargetID)
}

// IsDeletedTarget reports whether err is a deleted-target scope error.
// Uses errors.As to handle wrapped errors.
func IsDeletedTarget(err error) bool {
	var se *ScopeError
	if errors.As(err, &se) {
		return se.Code == ErrCodeDeletedTarget
	}
	return false
}

// DispatchErrorCode categorizes dispatch failures.
type DispatchErrorCode string

const (
	// ErrCodeDeliveryUnavailable indicates the delivery channel failed for
	// every attempt in the retry budget. A failed firing record is written
	// and the cooldown is not consumed.
	ErrCodeDeliveryUnavailable DispatchErrorCode = "DELIVERY_UNAVAILABLE"

	// ErrCodeDuplicateSuppressed indicates the cooldown window was already
	// consumed for this (directive, client) pair. Logged, never surfaced
	// to mentors, and not an error state.
	ErrCodeDuplicateSuppressed DispatchErrorCode = "DUPLICATE_SUPPRESSED"
)

// DispatchError reports a dispatch failure for a (directive, client) pair.
type DispatchError struct {
	Code        DispatchErrorCode
	DirectiveID string
	ClientID    string
	Attempts    int
	Err         error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%s: directive=%s client=%s", e.Code, e.DirectiveID, e.ClientID)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying delivery error.
func (e *DispatchError) Unwrap() error { return e.Err }

// IsDuplicateSuppressed reports whether err is a cooldown suppression.
func IsDuplicateSuppressed(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == ErrCodeDuplicateSuppressed
	}
	return false
}

// IsDeliveryUnavailable reports whether err is a delivery exhaustion.
func IsDeliveryUnavailable(err error) bool {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code == ErrCodeDeliveryUnavailable
	}
	return false
}

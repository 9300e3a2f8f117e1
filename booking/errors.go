/*
errors.go - Error kinds surfaced by the synchronization engine

ERROR CATEGORIES:
  1. Session errors - no wallet connected (ErrNotConnected)
  2. Gating errors - an operation is already in flight (ErrAlreadyPending)
  3. Validation errors - rejected locally before any network call
     (ErrInvalidTransition, ErrInvalidRange, ErrUnauthorized, ...)
  4. Ledger errors - reverted by the contract (ErrRejectedOperation)
  5. Render errors - a booking references a property not in the cache
     (ErrStaleReference), non-fatal

REJECTIONS:
  Local validation failures and ledger reverts are both returned as a
  *RejectedOperationError, so callers can test a single kind:

    if errors.Is(err, booking.ErrRejectedOperation) { ... }

  A local rejection also matches its specific sentinel:

    errors.Is(err, booking.ErrInvalidTransition) // true for a local rejection

  Nothing is retried automatically.
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotConnected is returned when an action needs a session and none is active.
	ErrNotConnected = errors.New("no wallet connected")

	// ErrAlreadyPending is returned by Tracker.Begin when a conflicting
	// operation is already in flight for the same entity.
	ErrAlreadyPending = errors.New("operation already in progress")

	// ErrInvalidTransition is returned for lifecycle moves out of a terminal state.
	ErrInvalidTransition = errors.New("invalid booking transition")

	// ErrInvalidRange is returned when check-out is not after check-in.
	ErrInvalidRange = errors.New("invalid stay range")

	// ErrRejectedOperation is matched by every rejected operation, local or ledger-side.
	ErrRejectedOperation = errors.New("operation rejected")

	// ErrStaleReference is returned when a booking's property is missing from the cache.
	ErrStaleReference = errors.New("stale property reference")

	ErrNotFound            = errors.New("entity not found")
	ErrUnauthorized        = errors.New("caller not permitted")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrUnavailable         = errors.New("dates unavailable")
	ErrInactiveProperty    = errors.New("property is inactive")
	ErrUnknownCurrency     = errors.New("unknown currency")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidListing      = errors.New("invalid listing")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// AlreadyPendingError names the operation that blocked Begin.
type AlreadyPendingError struct {
	Ref       EntityRef
	Requested OpKind
	InFlight  OpKind
}

func (e *AlreadyPendingError) Error() string {
	return fmt.Sprintf("%s on %s blocked: %s already in progress", e.Requested, e.Ref, e.InFlight)
}

func (e *AlreadyPendingError) Unwrap() error { return ErrAlreadyPending }

// TransitionError is a lifecycle move the state machine does not allow.
type TransitionError struct {
	BookingID BookingID
	From      BookingState
	Action    Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking %d: cannot %s from %s", e.BookingID, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StaleReferenceError is a booking whose property is not in the cache yet.
type StaleReferenceError struct {
	BookingID  BookingID
	PropertyID PropertyID
}

func (e *StaleReferenceError) Error() string {
	return fmt.Sprintf("booking %d references property %d which is not cached", e.BookingID, e.PropertyID)
}

func (e *StaleReferenceError) Unwrap() error { return ErrStaleReference }

// RejectedOperationError is an operation refused either by local validation
// (Local, Cause set) or by the ledger (Reason holds the revert reason).
type RejectedOperationError struct {
	Op     OpKind
	Ref    EntityRef
	Local  bool
	Reason string
	TxHash string
	Cause  error
}

func (e *RejectedOperationError) Error() string {
	if e.Local {
		return fmt.Sprintf("%s on %s rejected: %v", e.Op, e.Ref, e.Cause)
	}
	return fmt.Sprintf("%s on %s reverted (tx %s): %s", e.Op, e.Ref, e.TxHash, e.Reason)
}

func (e *RejectedOperationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrRejectedOperation}
	}
	return []error{ErrRejectedOperation, e.Cause}
}

func rejectLocally(op OpKind, ref EntityRef, cause error) error {
	return &RejectedOperationError{Op: op, Ref: ref, Local: true, Cause: cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrInsufficientPayment) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrInactiveProperty) ||
		errors.Is(err, ErrUnknownCurrency) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidListing)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleReference)
}

package purchase

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the session and its collaborators.
var (
	// ErrInvalidTransition is returned when an action is attempted in a
	// state that does not permit it (e.g. editing quantity after the
	// selection step).
	ErrInvalidTransition = errors.New("action not allowed in current state")

	// ErrRequestInFlight is returned when a forward transition is
	// re-triggered while its network call is still pending.  The
	// reservation endpoint is not idempotent, so the session refuses to
	// issue a second call.
	ErrRequestInFlight = errors.New("request already in flight")

	// ErrClosed is returned from any action on a closed session.
	ErrClosed = errors.New("session closed")

	// ErrStatusNotReady signals that the payment status endpoint has no
	// record of the transaction yet (HTTP 404).  It is transient: the
	// push was sent but the gateway has not reported back.  Pollers and
	// manual checks retry it silently.
	ErrStatusNotReady = errors.New("payment status not available yet")
)

// ValidationError reports a bad user input caught before any network
// call: malformed phone number, guest name or email.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg) }

// ReservationError reports a failed reservation attempt with the
// server-supplied reason (or a generic fallback).
type ReservationError struct {
	Reason string
}

func (e *ReservationError) Error() string { return "reservation failed: " + e.Reason }

// InitiationError reports a failed STK-push initiation with the
// server-supplied reason (or a generic fallback).
type InitiationError struct {
	Reason string
}

func (e *InitiationError) Error() string { return "payment initiation failed: " + e.Reason }

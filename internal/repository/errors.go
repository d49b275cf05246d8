// Package repository defines error types that are reused across
// multiple repositories.  These sentinel values allow higher layers
// such as handlers to distinguish between different failure scenarios:
// ErrForbidden indicates the caller does not own the resource,
// ErrSoldOut signals that a reservation cannot proceed because the
// requested tier has too few admissions left.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers should translate this into an
// HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrSoldOut is returned when a reservation requests more admissions
// than the ticket type has available.  Handlers should translate this
// into an HTTP 409 response.
var ErrSoldOut = errors.New("not enough tickets available")

// ErrEventNotFound is returned when an event does not exist or is not
// published.
var ErrEventNotFound = errors.New("event not found")

// ErrTicketNotFound is returned when a ticket does not exist.
var ErrTicketNotFound = errors.New("ticket not found")

package model

import "time"

// Ticket statuses.  A ticket is created as PENDING_PAYMENT by the
// purchase endpoint (this is the server-side reservation: inventory is
// already decremented), becomes PAID when the gateway confirms the STK
// push, and CANCELLED when the reservation lapses unpaid.
const (
	TicketPendingPayment = "PENDING_PAYMENT"
	TicketPaid           = "PAID"
	TicketCancelled      = "CANCELLED"
)

// Ticket records one purchase (a reservation plus, once paid, the final
// ticket).  Either UserID or the guest name/email pair is set, never
// both.  CheckoutRequestID links the ticket to the in-flight STK push.
//
// Fields:
//
//	ID                – primary key identifier.
//	Code              – opaque ticket code printed on the PDF (UUID).
//	EventID           – event being attended.
//	TicketTypeID      – priced tier purchased.
//	UserID            – purchasing account, nil for guest checkout.
//	GuestName         – guest purchaser name, nil for account checkout.
//	GuestEmail        – guest purchaser email, nil for account checkout.
//	Quantity          – number of admissions, 1..10.
//	TotalCents        – quantity × unit price at purchase time.
//	Status            – PENDING_PAYMENT, PAID or CANCELLED.
//	PhoneNumber       – canonical MSISDN the push was sent to, if any.
//	CheckoutRequestID – Daraja checkout request id of the latest push.
//	CreatedAt         – creation timestamp.
//	UpdatedAt         – last update timestamp.
type Ticket struct {
	ID                uint64    // tickets.id
	Code              string    // tickets.code
	EventID           uint64    // tickets.event_id
	TicketTypeID      uint64    // tickets.ticket_type_id
	UserID            *uint64   // tickets.user_id (nullable)
	GuestName         *string   // tickets.guest_name (nullable)
	GuestEmail        *string   // tickets.guest_email (nullable)
	Quantity          uint32    // tickets.quantity
	TotalCents        uint32    // tickets.total_cents
	Status            string    // tickets.status
	PhoneNumber       *string   // tickets.phone_number (nullable)
	CheckoutRequestID *string   // tickets.checkout_request_id (nullable)
	CreatedAt         time.Time // tickets.created_at
	UpdatedAt         time.Time // tickets.updated_at
}

// Package queue defines message payloads exchanged over the message broker.
package queue

// PaymentConfirmedEvent is published when the gateway confirms an STK
// push and the ticket flips to PAID.  It contains enough information
// for downstream consumers to log, notify, or trigger analytics without
// querying the primary database.
type PaymentConfirmedEvent struct {
	TicketID          uint64 `json:"ticket_id"`
	TicketCode        string `json:"ticket_code"`
	EventID           uint64 `json:"event_id"`
	EventTitle        string `json:"event_title"`
	CheckoutRequestID string `json:"checkout_request_id"`
	ReceiptNumber     string `json:"receipt_number"`
	AmountCents       uint32 `json:"amount_cents"`
	PhoneNumber       string `json:"phone_number"`
	BuyerEmail        string `json:"buyer_email"`
	Quantity          uint32 `json:"quantity"`
	ConfirmedAt       string `json:"confirmed_at"`
}

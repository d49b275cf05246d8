package model

import "time"

// M-Pesa transaction statuses as exposed by the status endpoints.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
	TxCancelled = "cancelled"
)

// MpesaTransaction is the recorded outcome of one STK push, written
// when the Daraja callback (or a gateway query fallback) reports a
// result.  Until this row exists the status endpoints return 404 so
// clients treat the payment as still in flight.
//
// Fields:
//
//	ID                – primary key identifier.
//	TicketID          – ticket the push pays for.
//	CheckoutRequestID – Daraja checkout request id (unique).
//	MerchantRequestID – Daraja merchant request id.
//	Status            – pending, completed, failed or cancelled.
//	ResultCode        – numeric gateway result code (0 = success).
//	ResultDesc        – human-readable gateway result description.
//	ReceiptNumber     – M-Pesa receipt, set on success.
//	AmountCents       – amount confirmed by the gateway, in cents.
//	CreatedAt         – creation timestamp.
//	UpdatedAt         – last update timestamp.
type MpesaTransaction struct {
	ID                uint64    // mpesa_transactions.id
	TicketID          uint64    // mpesa_transactions.ticket_id
	CheckoutRequestID string    // mpesa_transactions.checkout_request_id
	MerchantRequestID string    // mpesa_transactions.merchant_request_id
	Status            string    // mpesa_transactions.status
	ResultCode        int       // mpesa_transactions.result_code
	ResultDesc        string    // mpesa_transactions.result_desc
	ReceiptNumber     *string   // mpesa_transactions.receipt_number (nullable)
	AmountCents       uint32    // mpesa_transactions.amount_cents
	CreatedAt         time.Time // mpesa_transactions.created_at
	UpdatedAt         time.Time // mpesa_transactions.updated_at
}

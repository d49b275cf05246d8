package repository

import (
	"context"
	"database/sql"

	"github.com/tikiti-ke/tikiti/internal/model"
)

// TransactionRepo persists M-Pesa transaction outcomes.  A row only
// exists once the gateway has reported a result for a checkout request;
// status endpoints treat its absence as "not found yet".
type TransactionRepo struct {
	db *sql.DB
}

// NewTransactionRepo returns a new TransactionRepo bound to the given
// database.
func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

// Upsert records the outcome of an STK push.  Replayed callbacks for
// the same checkout request overwrite the row with identical data, so
// the operation is idempotent.
func (r *TransactionRepo) Upsert(ctx context.Context, tx *sql.Tx, t *model.MpesaTransaction) error {
	const q = `INSERT INTO mpesa_transactions
	           (ticket_id, checkout_request_id, merchant_request_id, status, result_code, result_desc, receipt_number, amount_cents)
	           VALUES (?,?,?,?,?,?,?,?)
	           ON DUPLICATE KEY UPDATE
	             status = VALUES(status), result_code = VALUES(result_code),
	             result_desc = VALUES(result_desc), receipt_number = VALUES(receipt_number),
	             amount_cents = VALUES(amount_cents)`
	_, err := tx.ExecContext(ctx, q,
		t.TicketID, t.CheckoutRequestID, t.MerchantRequestID, t.Status,
		t.ResultCode, t.ResultDesc, t.ReceiptNumber, t.AmountCents)
	return err
}

// GetByCheckoutRequestID returns the recorded transaction for a
// checkout request.  sql.ErrNoRows is returned while the gateway has
// not reported back; status handlers map that to HTTP 404.
func (r *TransactionRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.MpesaTransaction, error) {
	const q = `SELECT id, ticket_id, checkout_request_id, merchant_request_id, status,
	                  result_code, result_desc, receipt_number, amount_cents, created_at, updated_at
	           FROM mpesa_transactions WHERE checkout_request_id = ?`
	var t model.MpesaTransaction
	var receipt sql.NullString
	err := r.db.QueryRowContext(ctx, q, checkoutRequestID).Scan(
		&t.ID, &t.TicketID, &t.CheckoutRequestID, &t.MerchantRequestID, &t.Status,
		&t.ResultCode, &t.ResultDesc, &receipt, &t.AmountCents, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if receipt.Valid {
		t.ReceiptNumber = &receipt.String
	}
	return &t, nil
}

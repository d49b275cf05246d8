package repository

import (
	"context"
	"database/sql"

	"github.com/tikiti-ke/tikiti/internal/model"
)

// TicketRepo provides persistence for tickets (pending reservations and
// paid tickets alike).
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo returns a new TicketRepo bound to the given database.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

// DB exposes the underlying handle for cross-repository transactions.
func (r *TicketRepo) DB() *sql.DB { return r.db }

// CreateTx inserts a PENDING_PAYMENT ticket within an existing
// transaction and populates the generated id on the ticket.
func (r *TicketRepo) CreateTx(ctx context.Context, tx *sql.Tx, t *model.Ticket) error {
	const q = `INSERT INTO tickets
	           (code, event_id, ticket_type_id, user_id, guest_name, guest_email, quantity, total_cents, status)
	           VALUES (?,?,?,?,?,?,?,?, 'PENDING_PAYMENT')`
	res, err := tx.ExecContext(ctx, q,
		t.Code, t.EventID, t.TicketTypeID, t.UserID, t.GuestName, t.GuestEmail, t.Quantity, t.TotalCents)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	t.Status = model.TicketPendingPayment
	return nil
}

const ticketColumns = `id, code, event_id, ticket_type_id, user_id, guest_name, guest_email,
	quantity, total_cents, status, phone_number, checkout_request_id, created_at, updated_at`

// scanTicket scans one ticket row.
func scanTicket(row *sql.Row) (*model.Ticket, error) {
	var t model.Ticket
	var userID sql.NullInt64
	var guestName, guestEmail, phoneNumber, checkoutID sql.NullString
	err := row.Scan(&t.ID, &t.Code, &t.EventID, &t.TicketTypeID, &userID, &guestName, &guestEmail,
		&t.Quantity, &t.TotalCents, &t.Status, &phoneNumber, &checkoutID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		uid := uint64(userID.Int64)
		t.UserID = &uid
	}
	if guestName.Valid {
		t.GuestName = &guestName.String
	}
	if guestEmail.Valid {
		t.GuestEmail = &guestEmail.String
	}
	if phoneNumber.Valid {
		t.PhoneNumber = &phoneNumber.String
	}
	if checkoutID.Valid {
		t.CheckoutRequestID = &checkoutID.String
	}
	return &t, nil
}

// GetByID returns a ticket by id, or ErrTicketNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	return scanTicket(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id))
}

// GetByCode returns a ticket by its printed code, or ErrTicketNotFound.
func (r *TicketRepo) GetByCode(ctx context.Context, code string) (*model.Ticket, error) {
	return scanTicket(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE code = ?`, code))
}

// GetByCheckoutRequestID returns the ticket whose latest STK push used
// the given checkout request id.
func (r *TicketRepo) GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*model.Ticket, error) {
	return scanTicket(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE checkout_request_id = ?`, checkoutRequestID))
}

// SetCheckout records the phone number and checkout request id of the
// latest STK push for a ticket.  A retried payment overwrites the
// previous attempt's ids.
func (r *TicketRepo) SetCheckout(ctx context.Context, ticketID uint64, msisdn, checkoutRequestID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tickets SET phone_number = ?, checkout_request_id = ? WHERE id = ?`,
		msisdn, checkoutRequestID, ticketID)
	return err
}

// MarkPaidTx transitions a pending ticket to PAID within a transaction.
// Already-paid tickets are left untouched so a replayed gateway
// callback stays idempotent.
func (r *TicketRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, ticketID uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE tickets SET status = 'PAID' WHERE id = ? AND status = 'PENDING_PAYMENT'`,
		ticketID)
	return err
}

// ExpirePending cancels unpaid reservations older than the given age
// and returns the cancelled tickets so the caller can restore
// availability.  Executed in one transaction.
func (r *TicketRepo) ExpirePending(ctx context.Context, olderThanMinutes int) ([]model.Ticket, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const sel = `SELECT id, ticket_type_id, quantity FROM tickets
	             WHERE status = 'PENDING_PAYMENT'
	             AND created_at < (UTC_TIMESTAMP() - INTERVAL ? MINUTE)
	             FOR UPDATE`
	rows, err := tx.QueryContext(ctx, sel, olderThanMinutes)
	if err != nil {
		return nil, err
	}
	expired := make([]model.Ticket, 0)
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.TicketTypeID, &t.Quantity); err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, t := range expired {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tickets SET status = 'CANCELLED' WHERE id = ?`, t.ID); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ticket_types SET available = available + ? WHERE id = ?`,
			t.Quantity, t.TicketTypeID); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return expired, nil
}

// TicketDetail joins a ticket with its event for display and PDF
// rendering.
type TicketDetail struct {
	Ticket     model.Ticket
	EventTitle string
	EventVenue string
	StartsAt   string
	TierName   string
}

// GetDetail returns a ticket with its event and tier information.
func (r *TicketRepo) GetDetail(ctx context.Context, ticketID uint64) (*TicketDetail, error) {
	t, err := r.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	const q = `SELECT e.title, e.venue, e.starts_at, tt.name
	           FROM events e
	           JOIN ticket_types tt ON tt.event_id = e.id
	           WHERE e.id = ? AND tt.id = ?`
	var d TicketDetail
	var starts sql.NullTime
	err = r.db.QueryRowContext(ctx, q, t.EventID, t.TicketTypeID).Scan(
		&d.EventTitle, &d.EventVenue, &starts, &d.TierName)
	if err != nil {
		return nil, err
	}
	if starts.Valid {
		d.StartsAt = starts.Time.UTC().Format("2006-01-02 15:04")
	}
	d.Ticket = *t
	return &d, nil
}

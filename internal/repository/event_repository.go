package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tikiti-ke/tikiti/internal/model"
)

// EventRepo provides persistence for events and their ticket types.
type EventRepo struct {
	db *sql.DB
}

// NewEventRepo returns a new EventRepo bound to the given database.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// DB exposes the underlying handle so handlers can open transactions
// that span multiple repositories.
func (r *EventRepo) DB() *sql.DB { return r.db }

// TicketTypeInput describes one tier supplied at event creation.
type TicketTypeInput struct {
	Name       string
	PriceCents uint32
	Available  uint32
}

// Create inserts a published event together with its ticket types in a
// single transaction and returns the new event id.
func (r *EventRepo) Create(ctx context.Context, organizerID uint64, title, venue string, startsAt time.Time, types []TicketTypeInput) (uint64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (organizer_id, title, venue, starts_at, status) VALUES (?,?,?,?, 'PUBLISHED')`,
		organizerID, title, venue, startsAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return 0, err
	}
	eventID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, tt := range types {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ticket_types (event_id, name, price_cents, available) VALUES (?,?,?,?)`,
			eventID, tt.Name, tt.PriceCents, tt.Available); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return uint64(eventID), nil
}

// EventDetail is an event with its ticket types, shaped for API
// responses.
type EventDetail struct {
	ID          uint64           `json:"id"`
	Title       string           `json:"title"`
	Venue       string           `json:"venue"`
	StartsAt    string           `json:"starts_at"`
	TicketTypes []TicketTypeItem `json:"ticket_types"`
}

// TicketTypeItem is one tier of an event in API shape.
type TicketTypeItem struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	PriceCents uint32 `json:"price_cents"`
	Available  uint32 `json:"available"`
}

// ListPublished returns all published upcoming events with their ticket
// types, newest first.
func (r *EventRepo) ListPublished(ctx context.Context) ([]EventDetail, error) {
	const q = `SELECT id, title, venue, starts_at FROM events
	           WHERE status = 'PUBLISHED' AND starts_at > UTC_TIMESTAMP()
	           ORDER BY starts_at ASC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	details := make([]EventDetail, 0)
	index := make(map[uint64]int)
	for rows.Next() {
		var d EventDetail
		var starts time.Time
		if err := rows.Scan(&d.ID, &d.Title, &d.Venue, &starts); err != nil {
			return nil, err
		}
		d.StartsAt = starts.UTC().Format(time.RFC3339)
		d.TicketTypes = []TicketTypeItem{}
		index[d.ID] = len(details)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return details, nil
	}
	// Populate ticket types for all listed events in one query.
	const ttQ = `SELECT tt.event_id, tt.id, tt.name, tt.price_cents, tt.available
	             FROM ticket_types tt
	             JOIN events e ON e.id = tt.event_id
	             WHERE e.status = 'PUBLISHED' AND e.starts_at > UTC_TIMESTAMP()
	             ORDER BY tt.event_id, tt.price_cents`
	trows, err := r.db.QueryContext(ctx, ttQ)
	if err != nil {
		return nil, err
	}
	defer trows.Close()
	for trows.Next() {
		var eventID uint64
		var item TicketTypeItem
		if err := trows.Scan(&eventID, &item.ID, &item.Name, &item.PriceCents, &item.Available); err != nil {
			return nil, err
		}
		if idx, ok := index[eventID]; ok {
			details[idx].TicketTypes = append(details[idx].TicketTypes, item)
		}
	}
	return details, trows.Err()
}

// GetPublished returns one published event with its ticket types.  It
// returns ErrEventNotFound when the event does not exist or is not
// published.
func (r *EventRepo) GetPublished(ctx context.Context, eventID uint64) (*EventDetail, error) {
	const q = `SELECT id, title, venue, starts_at FROM events WHERE id = ? AND status = 'PUBLISHED'`
	var d EventDetail
	var starts time.Time
	err := r.db.QueryRowContext(ctx, q, eventID).Scan(&d.ID, &d.Title, &d.Venue, &starts)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	d.StartsAt = starts.UTC().Format(time.RFC3339)
	d.TicketTypes = []TicketTypeItem{}
	const ttQ = `SELECT id, name, price_cents, available FROM ticket_types WHERE event_id = ? ORDER BY price_cents`
	rows, err := r.db.QueryContext(ctx, ttQ, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item TicketTypeItem
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceCents, &item.Available); err != nil {
			return nil, err
		}
		d.TicketTypes = append(d.TicketTypes, item)
	}
	return &d, rows.Err()
}

// GetTicketTypeForUpdateTx loads a ticket type row with a row lock so
// the caller can check and decrement availability atomically.  The
// type must belong to the given published event.
func (r *EventRepo) GetTicketTypeForUpdateTx(ctx context.Context, tx *sql.Tx, eventID, ticketTypeID uint64) (*model.TicketType, error) {
	const q = `SELECT tt.id, tt.event_id, tt.name, tt.price_cents, tt.available, tt.created_at
	           FROM ticket_types tt
	           JOIN events e ON e.id = tt.event_id
	           WHERE tt.id = ? AND tt.event_id = ? AND e.status = 'PUBLISHED'
	           FOR UPDATE`
	var tt model.TicketType
	err := tx.QueryRowContext(ctx, q, ticketTypeID, eventID).Scan(
		&tt.ID, &tt.EventID, &tt.Name, &tt.PriceCents, &tt.Available, &tt.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tt, nil
}

// DecrementAvailableTx reduces a ticket type's availability by qty.
// The caller must hold the row lock (GetTicketTypeForUpdateTx) and have
// verified the quantity bound; the guard here is a final consistency
// check.
func (r *EventRepo) DecrementAvailableTx(ctx context.Context, tx *sql.Tx, ticketTypeID uint64, qty uint32) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE ticket_types SET available = available - ? WHERE id = ? AND available >= ?`,
		qty, ticketTypeID, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSoldOut
	}
	return nil
}

// RestoreAvailableTx returns qty admissions to a ticket type, used when
// a pending reservation is cancelled.
func (r *EventRepo) RestoreAvailableTx(ctx context.Context, tx *sql.Tx, ticketTypeID uint64, qty uint32) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ticket_types SET available = available + ? WHERE id = ?`,
		qty, ticketTypeID)
	return err
}

package model

import "time"

// Event represents a listed event on the marketplace.  Each event is
// owned by an organizer and offers one or more ticket types.
//
// Fields:
//
//	ID          – primary key identifier.
//	OrganizerID – user who created the event.
//	Title       – display title.
//	Venue       – free-text venue name.
//	StartsAt    – when the event begins.
//	Status      – current state (DRAFT, PUBLISHED, CANCELLED).
//	CreatedAt   – creation timestamp.
//	UpdatedAt   – last update timestamp.
type Event struct {
	ID          uint64    // events.id
	OrganizerID uint64    // events.organizer_id
	Title       string    // events.title
	Venue       string    // events.venue
	StartsAt    time.Time // events.starts_at
	Status      string    // events.status
	CreatedAt   time.Time // events.created_at
	UpdatedAt   time.Time // events.updated_at
}

// TicketType is one priced tier of an event ("Regular", "VIP", ...).
// Available counts down as tickets are reserved and is restored when a
// pending reservation lapses.
//
// Fields:
//
//	ID         – primary key identifier.
//	EventID    – event this tier belongs to.
//	Name       – display name of the tier.
//	PriceCents – unit price in cents (KES).
//	Available  – remaining purchasable count.
//	CreatedAt  – creation timestamp.
type TicketType struct {
	ID         uint64    // ticket_types.id
	EventID    uint64    // ticket_types.event_id
	Name       string    // ticket_types.name
	PriceCents uint32    // ticket_types.price_cents
	Available  uint32    // ticket_types.available
	CreatedAt  time.Time // ticket_types.created_at
}

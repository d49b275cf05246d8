package model

import "time"

// User is a registered account on the marketplace.  Attendees buy
// tickets, organizers create events.  Guests are not represented here;
// a guest purchase carries its identity on the ticket row instead.
//
// Fields:
//
//	ID           – primary key identifier.
//	Email        – unique login email, stored lower-cased.
//	PasswordHash – bcrypt hash of the password.
//	Role         – ATTENDEE or ORGANIZER.
//	CreatedAt    – creation timestamp.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	CreatedAt    time.Time // users.created_at
}

// Package purchase implements the client-side lifecycle of one ticket
// purchase attempt: tier selection, guest details, STK-push initiation
// and asynchronous payment confirmation.  The Session owns all workflow
// state; network work is delegated to the Reserver, Initiator and
// StatusChecker interfaces so the same machine runs against the live
// API or test fakes.
package purchase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tikiti-ke/tikiti/internal/phone"
)

// State names the step a purchase session is currently on.
type State string

const (
	StateSelection  State = "selection"  // choosing ticket type and quantity
	StateDetails    State = "details"    // guest name/email entry
	StatePayment    State = "payment"    // phone number entry
	StateProcessing State = "processing" // push sent, awaiting confirmation
	StateSuccess    State = "success"    // payment confirmed
	StateError      State = "error"      // terminal failure, retry available
)

// MaxQuantity caps admissions per purchase regardless of availability.
const MaxQuantity = 10

// TicketType is the session's view of one offered tier.  The json tags
// match the event listing endpoint so API clients can decode tiers
// directly into it.
type TicketType struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	PriceCents uint32 `json:"price_cents"`
	Available  uint32 `json:"available"`
}

// Identity describes who is buying.  Authenticated purchases skip the
// details step; guest purchases collect Name and Email there.
type Identity struct {
	Authenticated bool
	Name          string
	Email         string
}

// ReserveRequest is the input to a reservation call.
type ReserveRequest struct {
	EventID      uint64
	TicketTypeID uint64
	Quantity     uint32
	GuestName    string // guest checkout only
	GuestEmail   string // guest checkout only
}

// Reservation is a successful reservation: the pending ticket id and,
// for guests, the opaque access token for later status/download calls.
type Reservation struct {
	TicketID   uint64
	GuestToken string
}

// Reserver creates the server-side ticket reservation.  Not idempotent;
// the session guarantees at most one call per purchase attempt.
type Reserver interface {
	Reserve(ctx context.Context, req ReserveRequest) (Reservation, error)
}

// Initiator triggers the STK push against a reserved ticket and returns
// the checkout request id used for polling.
type Initiator interface {
	Initiate(ctx context.Context, ticketID uint64, msisdn, guestToken string) (string, error)
}

// StatusResult is a payment status response.  Neither flag set means
// the push is still pending.
type StatusResult struct {
	Completed bool
	Failed    bool
	Reason    string
}

// StatusChecker queries payment status for a checkout request.  It
// returns ErrStatusNotReady while the transaction record has not
// materialized server-side.
type StatusChecker interface {
	Status(ctx context.Context, checkoutRequestID, guestToken string) (StatusResult, error)
}

// CredentialStore persists guest access tokens keyed by ticket id so a
// restarted view within the same session can still authorize status and
// download calls.
type CredentialStore interface {
	SaveGuestToken(ticketID uint64, token string)
	GuestToken(ticketID uint64) (string, bool)
}

// Config tunes the session's timers.  Zero values select the production
// defaults; tests inject short intervals.
type Config struct {
	PollInterval      time.Duration // cadence between status checks (default 5s)
	PollMaxAttempts   int           // soft attempt cap (default 24)
	PollDeadline      time.Duration // authoritative wall-clock bound (default 125s)
	CountdownWindow   time.Duration // push prompt countdown shown to the user (default 60s)
	SuccessCloseDelay time.Duration // auto-close delay after success (default 5s)
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollMaxAttempts <= 0 {
		c.PollMaxAttempts = 24
	}
	if c.PollDeadline <= 0 {
		c.PollDeadline = 125 * time.Second
	}
	if c.CountdownWindow <= 0 {
		c.CountdownWindow = 60 * time.Second
	}
	if c.SuccessCloseDelay <= 0 {
		c.SuccessCloseDelay = 5 * time.Second
	}
	return c
}

// Session is the aggregate for one purchase attempt.  All mutation goes
// through its methods; transitions from timer and poller callbacks are
// re-validated under the lock against the session generation, so a
// response that arrives after cancellation or close is a no-op.
type Session struct {
	mu sync.Mutex

	cfg       Config
	reserver  Reserver
	initiator Initiator
	checker   StatusChecker
	store     CredentialStore
	onClose   func() // invoked after the post-success delay

	eventID  uint64
	types    []TicketType
	identity Identity

	state    State
	selected *TicketType
	quantity uint32
	msisdn   string // canonical wire format, retained across retries

	ticketID          uint64
	guestToken        string
	checkoutRequestID string
	lastError         string

	reserveInFlight bool
	closed          bool
	gen             int // bumped on every poller teardown; stale callbacks compare against it

	poller         *Poller
	successTimer   *time.Timer
	countdownUntil time.Time

	updates chan State
}

// NewSession opens a purchase session for an event.  The session starts
// in the selection state with quantity 1 and the first tier that still
// has availability pre-selected.  onClose may be nil; when set it fires
// once after a confirmed payment's close delay.
func NewSession(eventID uint64, types []TicketType, identity Identity,
	reserver Reserver, initiator Initiator, checker StatusChecker,
	store CredentialStore, cfg Config, onClose func()) *Session {

	s := &Session{
		cfg:       cfg.withDefaults(),
		reserver:  reserver,
		initiator: initiator,
		checker:   checker,
		store:     store,
		onClose:   onClose,
		eventID:   eventID,
		types:     types,
		identity:  identity,
		state:     StateSelection,
		quantity:  1,
		updates:   make(chan State, 8),
	}
	for i := range types {
		if types[i].Available > 0 {
			s.selected = &types[i]
			break
		}
	}
	return s
}

// Updates delivers the state after each transition.  The channel is
// buffered and lossy in favor of the latest value; views should re-read
// Snapshot on receive.
func (s *Session) Updates() <-chan State { return s.updates }

// Snapshot is an immutable view of the session for rendering.
type Snapshot struct {
	State             State
	Selected          *TicketType
	Quantity          uint32
	TotalCents        uint32
	Identity          Identity
	Phone             string
	TicketID          uint64
	GuestToken        string
	CheckoutRequestID string
	LastError         string
	CountdownSeconds  int
}

// Snapshot returns a copy of the rendering-relevant session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:             s.state,
		Quantity:          s.quantity,
		Identity:          s.identity,
		Phone:             s.msisdn,
		TicketID:          s.ticketID,
		GuestToken:        s.guestToken,
		CheckoutRequestID: s.checkoutRequestID,
		LastError:         s.lastError,
	}
	if s.selected != nil {
		tt := *s.selected
		snap.Selected = &tt
		snap.TotalCents = tt.PriceCents * s.quantity
	}
	if s.state == StateProcessing {
		if rem := time.Until(s.countdownUntil); rem > 0 {
			snap.CountdownSeconds = int(rem.Seconds() + 0.5)
		}
	}
	return snap
}

// SelectTicketType picks a tier by id.  Permitted only during
// selection.  Switching to a tier with fewer remaining admissions than
// the current quantity resets the quantity to 1.
func (s *Session) SelectTicketType(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StateSelection {
		return ErrInvalidTransition
	}
	for i := range s.types {
		if s.types[i].ID == id {
			s.selected = &s.types[i]
			if s.quantity > s.maxQuantityLocked() {
				s.quantity = 1
			}
			return nil
		}
	}
	return &ValidationError{Field: "ticket_type", Msg: "unknown ticket type"}
}

// SetQuantity sets the number of admissions.  Permitted only during
// selection; bounded by 1..min(10, available).
func (s *Session) SetQuantity(n uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StateSelection {
		return ErrInvalidTransition
	}
	if n < 1 || n > s.maxQuantityLocked() {
		return &ValidationError{Field: "quantity", Msg: fmt.Sprintf("must be between 1 and %d", s.maxQuantityLocked())}
	}
	s.quantity = n
	return nil
}

// maxQuantityLocked returns the current upper quantity bound.  Caller
// holds the lock.
func (s *Session) maxQuantityLocked() uint32 {
	if s.selected == nil {
		return 1
	}
	max := s.selected.Available
	if max > MaxQuantity {
		max = MaxQuantity
	}
	if max < 1 {
		max = 1
	}
	return max
}

// Confirm leaves the selection step.  Guests move to the details step
// with no side effect; authenticated buyers reserve immediately and
// move to payment.
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateSelection {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	if s.selected == nil || s.selected.Available == 0 {
		s.lastError = "select a ticket type"
		s.mu.Unlock()
		return &ValidationError{Field: "ticket_type", Msg: "no ticket type selected"}
	}
	if !s.identity.Authenticated {
		s.lastError = ""
		s.setStateLocked(StateDetails)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.reserveAndAdvance(ctx, "", "")
}

// SubmitDetails records the guest purchaser's identity, reserves the
// ticket and moves to payment.  Validation failures keep the session on
// the details step with lastError set and no network call made.
func (s *Session) SubmitDetails(ctx context.Context, name, email string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateDetails {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	if !phone.ValidGuestName(name) {
		s.lastError = "name must be at least 2 characters"
		s.mu.Unlock()
		return &ValidationError{Field: "name", Msg: "must be at least 2 characters"}
	}
	if !phone.ValidEmail(email) {
		s.lastError = "enter a valid email address"
		s.mu.Unlock()
		return &ValidationError{Field: "email", Msg: "malformed address"}
	}
	s.identity.Name = name
	s.identity.Email = email
	s.mu.Unlock()
	return s.reserveAndAdvance(ctx, name, email)
}

// reserveAndAdvance performs the single reservation call for this
// session and, on success, advances to the payment step.  The
// reservation endpoint is not idempotent: an in-flight or already
// completed reservation short-circuits.
func (s *Session) reserveAndAdvance(ctx context.Context, guestName, guestEmail string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.reserveInFlight {
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	if s.ticketID != 0 {
		// already reserved (e.g. back-navigation); just advance
		s.setStateLocked(StatePayment)
		s.mu.Unlock()
		return nil
	}
	s.reserveInFlight = true
	gen := s.gen
	req := ReserveRequest{
		EventID:      s.eventID,
		TicketTypeID: s.selected.ID,
		Quantity:     s.quantity,
		GuestName:    guestName,
		GuestEmail:   guestEmail,
	}
	s.mu.Unlock()

	res, err := s.reserver.Reserve(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserveInFlight = false
	if s.closed || gen != s.gen {
		return ErrClosed // response arrived after close; discard
	}
	if err != nil {
		s.lastError = reasonOf(err, "failed to reserve ticket")
		return err
	}
	s.ticketID = res.TicketID
	if res.GuestToken != "" {
		s.guestToken = res.GuestToken
		if s.store != nil {
			s.store.SaveGuestToken(res.TicketID, res.GuestToken)
		}
	}
	s.lastError = ""
	s.setStateLocked(StatePayment)
	return nil
}

// SubmitPhone canonicalizes the subscriber number, triggers the STK
// push and, on success, enters processing: the poller starts and the
// prompt countdown resets.  Initiation failure keeps the session on the
// payment step with lastError set.
func (s *Session) SubmitPhone(ctx context.Context, raw string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StatePayment {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	msisdn, err := phone.Canonicalize(raw)
	if err != nil {
		s.lastError = "enter a valid M-Pesa number (07XXXXXXXX)"
		s.mu.Unlock()
		return &ValidationError{Field: "phone", Msg: err.Error()}
	}
	if s.ticketID == 0 {
		s.mu.Unlock()
		return ErrInvalidTransition // reservation must precede initiation
	}
	s.msisdn = msisdn
	ticketID, guestToken := s.ticketID, s.guestToken
	gen := s.gen
	s.mu.Unlock()

	checkoutID, err := s.initiator.Initiate(ctx, ticketID, msisdn, guestToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return ErrClosed
	}
	if err != nil {
		s.lastError = reasonOf(err, "failed to start payment")
		return err
	}
	s.checkoutRequestID = checkoutID
	s.lastError = ""
	s.countdownUntil = time.Now().Add(s.cfg.CountdownWindow)
	s.startPollerLocked(checkoutID, guestToken)
	s.setStateLocked(StateProcessing)
	return nil
}

// startPollerLocked tears down any previous poll cycle and starts a
// fresh one.  Exactly one poller is active per session.  Caller holds
// the lock.
func (s *Session) startPollerLocked(checkoutID, guestToken string) {
	s.stopPollerLocked()
	p := NewPoller(s.checker, s.cfg.PollInterval, s.cfg.PollMaxAttempts, s.cfg.PollDeadline)
	s.poller = p
	gen := s.gen
	p.Start(context.Background(), checkoutID, guestToken, func(o Outcome) {
		s.applyPollOutcome(gen, o)
	})
}

// stopPollerLocked cancels the active poll cycle, if any, and bumps the
// generation so its late callbacks are discarded.  Caller holds the lock.
func (s *Session) stopPollerLocked() {
	if s.poller != nil {
		s.poller.Stop()
		s.poller = nil
	}
	s.gen++
}

// applyPollOutcome maps a poller emission onto a state transition.
// First terminal response wins: the outcome is dropped unless the
// session is still processing under the same generation.
func (s *Session) applyPollOutcome(gen int, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.state != StateProcessing {
		return
	}
	switch o.Kind {
	case OutcomeSuccess:
		s.completeLocked()
	case OutcomeFailure:
		s.failLocked(o.Reason)
	case OutcomeTimeout:
		s.stopPollerLocked()
		s.lastError = "we could not confirm your payment in time — if you completed the prompt, tap Check Status, otherwise try again"
		s.setStateLocked(StatePayment)
	}
}

// completeLocked finalizes a confirmed payment and schedules the
// auto-close.  Caller holds the lock.
func (s *Session) completeLocked() {
	s.stopPollerLocked()
	s.lastError = ""
	s.setStateLocked(StateSuccess)
	if s.onClose != nil {
		gen := s.gen
		s.successTimer = time.AfterFunc(s.cfg.SuccessCloseDelay, func() {
			s.mu.Lock()
			ok := !s.closed && gen == s.gen
			s.mu.Unlock()
			if ok {
				s.onClose()
			}
		})
	}
}

// failLocked records a terminal gateway failure.  Caller holds the lock.
func (s *Session) failLocked(reason string) {
	s.stopPollerLocked()
	if reason == "" {
		reason = "payment was not completed"
	}
	s.lastError = reason
	s.setStateLocked(StateError)
}

// CheckStatus performs a one-shot status query independent of the
// poller's cadence.  A pending or not-yet-materialized status leaves
// the session processing; a terminal status resolves it immediately.
// If the automatic poller resolves first, this result is dropped.
func (s *Session) CheckStatus(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateProcessing {
		s.mu.Unlock()
		return ErrInvalidTransition
	}
	checkoutID, guestToken, gen := s.checkoutRequestID, s.guestToken, s.gen
	s.mu.Unlock()

	res, err := s.checker.Status(ctx, checkoutID, guestToken)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen || s.state != StateProcessing {
		return nil
	}
	switch {
	case err != nil:
		// transient (including not-ready); the poller keeps going
		return nil
	case res.Completed:
		s.completeLocked()
	case res.Failed:
		s.failLocked(res.Reason)
	}
	return nil
}

// Cancel abandons the in-flight confirmation and returns to the payment
// step so the user can retry.  The entered phone number is retained.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StateProcessing {
		return ErrInvalidTransition
	}
	s.stopPollerLocked()
	s.lastError = "payment cancelled"
	s.setStateLocked(StatePayment)
	return nil
}

// Retry leaves the error state back to payment with the failure
// cleared.  Ticket selection, guest details and phone number all
// survive the round trip.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.state != StateError {
		return ErrInvalidTransition
	}
	s.lastError = ""
	s.setStateLocked(StatePayment)
	return nil
}

// Close destroys the session.  Any in-flight poller, timer or network
// response becomes a no-op; no events are delivered afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopPollerLocked()
	if s.successTimer != nil {
		s.successTimer.Stop()
		s.successTimer = nil
	}
}

// setStateLocked records a transition and notifies the view.  When the
// buffer is full the oldest pending state is dropped so the newest one
// always gets through.  Caller holds the lock.
func (s *Session) setStateLocked(st State) {
	s.state = st
	for {
		select {
		case s.updates <- st:
			return
		default:
		}
		select {
		case <-s.updates: // view is behind; shed the oldest update
		default:
		}
	}
}

// reasonOf extracts the server-supplied reason from a typed flow error,
// falling back to a generic message for transport-level failures.
func reasonOf(err error, fallback string) string {
	switch e := err.(type) {
	case *ReservationError:
		return e.Reason
	case *InitiationError:
		return e.Reason
	default:
		return fallback
	}
}

package purchase

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tikiti-ke/tikiti/internal/store"
)

type fakeReserver struct {
	res   Reservation
	err   error
	delay time.Duration
	calls int32
}

func (f *fakeReserver) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.res, f.err
}

type fakeInitiator struct {
	mu     sync.Mutex
	id     string
	err    error
	calls  int
	msisdn string
	token  string
}

func (f *fakeInitiator) Initiate(ctx context.Context, ticketID uint64, msisdn, guestToken string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.msisdn = msisdn
	f.token = guestToken
	return f.id, f.err
}

// pendingChecker never resolves; sessions under test stay processing
// until something else intervenes.
type pendingChecker struct{}

func (pendingChecker) Status(ctx context.Context, checkoutRequestID, guestToken string) (StatusResult, error) {
	return StatusResult{}, ErrStatusNotReady
}

func testTypes() []TicketType {
	return []TicketType{
		{ID: 1, Name: "Early Bird", PriceCents: 50000, Available: 0},
		{ID: 2, Name: "Regular", PriceCents: 100000, Available: 3},
		{ID: 3, Name: "VIP", PriceCents: 250000, Available: 50},
	}
}

func fastConfig() Config {
	return Config{
		PollInterval:      10 * time.Millisecond,
		PollMaxAttempts:   24,
		PollDeadline:      time.Second,
		CountdownWindow:   time.Second,
		SuccessCloseDelay: 10 * time.Millisecond,
	}
}

func guestSession(checker StatusChecker) (*Session, *fakeReserver, *fakeInitiator) {
	r := &fakeReserver{res: Reservation{TicketID: 42, GuestToken: "tok-guest"}}
	i := &fakeInitiator{id: "ws_CO_1"}
	s := NewSession(7, testTypes(), Identity{}, r, i, checker, store.NewMemory(), fastConfig(), nil)
	return s, r, i
}

// waitState blocks until the session reaches the wanted state.
func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().State == want
	}, 2*time.Second, 5*time.Millisecond, "never reached state %q", want)
}

func TestNewSessionPicksFirstAvailableTier(t *testing.T) {
	s, _, _ := guestSession(pendingChecker{})
	defer s.Close()
	snap := s.Snapshot()
	assert.Equal(t, StateSelection, snap.State)
	require.NotNil(t, snap.Selected)
	assert.Equal(t, uint64(2), snap.Selected.ID) // first tier is sold out
	assert.Equal(t, uint32(1), snap.Quantity)
}

func TestQuantityBounds(t *testing.T) {
	s, _, _ := guestSession(pendingChecker{})
	defer s.Close()

	// Regular has 3 left: 1..3 allowed.
	require.NoError(t, s.SetQuantity(3))
	var ve *ValidationError
	require.ErrorAs(t, s.SetQuantity(4), &ve)
	require.ErrorAs(t, s.SetQuantity(0), &ve)

	// VIP has 50 left but the per-purchase cap is 10.
	require.NoError(t, s.SelectTicketType(3))
	require.NoError(t, s.SetQuantity(10))
	require.ErrorAs(t, s.SetQuantity(11), &ve)
}

func TestSwitchingTierClampsQuantity(t *testing.T) {
	s, _, _ := guestSession(pendingChecker{})
	defer s.Close()

	require.NoError(t, s.SelectTicketType(3))
	require.NoError(t, s.SetQuantity(8))
	require.NoError(t, s.SelectTicketType(2)) // only 3 left
	snap := s.Snapshot()
	assert.Equal(t, uint32(1), snap.Quantity)
}

func TestTotalFollowsSelection(t *testing.T) {
	s, _, _ := guestSession(pendingChecker{})
	defer s.Close()
	require.NoError(t, s.SetQuantity(2))
	assert.Equal(t, uint32(200000), s.Snapshot().TotalCents)
	require.NoError(t, s.SelectTicketType(3))
	require.NoError(t, s.SetQuantity(2))
	assert.Equal(t, uint32(500000), s.Snapshot().TotalCents)
}

func TestGuestConfirmGoesToDetailsWithoutReserving(t *testing.T) {
	s, r, _ := guestSession(pendingChecker{})
	defer s.Close()
	require.NoError(t, s.Confirm(context.Background()))
	assert.Equal(t, StateDetails, s.Snapshot().State)
	assert.Zero(t, atomic.LoadInt32(&r.calls))
}

func TestAuthenticatedConfirmReservesImmediately(t *testing.T) {
	r := &fakeReserver{res: Reservation{TicketID: 42}}
	i := &fakeInitiator{id: "ws_CO_1"}
	s := NewSession(7, testTypes(), Identity{Authenticated: true, Email: "jane@example.com"},
		r, i, pendingChecker{}, store.NewMemory(), fastConfig(), nil)
	defer s.Close()

	require.NoError(t, s.Confirm(context.Background()))
	snap := s.Snapshot()
	assert.Equal(t, StatePayment, snap.State)
	assert.Equal(t, uint64(42), snap.TicketID)
	assert.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
}

func TestSubmitDetailsValidation(t *testing.T) {
	s, r, _ := guestSession(pendingChecker{})
	defer s.Close()
	require.NoError(t, s.Confirm(context.Background()))

	var ve *ValidationError
	require.ErrorAs(t, s.SubmitDetails(context.Background(), "J", "jane@example.com"), &ve)
	require.ErrorAs(t, s.SubmitDetails(context.Background(), "Jane", "not-an-email"), &ve)
	assert.Equal(t, StateDetails, s.Snapshot().State)
	assert.NotEmpty(t, s.Snapshot().LastError)
	assert.Zero(t, atomic.LoadInt32(&r.calls), "validation failures must not hit the network")
}

func TestSubmitDetailsReservesAndStoresToken(t *testing.T) {
	r := &fakeReserver{res: Reservation{TicketID: 42, GuestToken: "tok-guest"}}
	i := &fakeInitiator{id: "ws_CO_1"}
	creds := store.NewMemory()
	s := NewSession(7, testTypes(), Identity{}, r, i, pendingChecker{}, creds, fastConfig(), nil)
	defer s.Close()

	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))

	snap := s.Snapshot()
	assert.Equal(t, StatePayment, snap.State)
	assert.Equal(t, "tok-guest", snap.GuestToken)
	tok, ok := creds.GuestToken(42)
	require.True(t, ok)
	assert.Equal(t, "tok-guest", tok)
}

func TestReservationIsSingleFlight(t *testing.T) {
	r := &fakeReserver{res: Reservation{TicketID: 42}, delay: 80 * time.Millisecond}
	i := &fakeInitiator{id: "ws_CO_1"}
	s := NewSession(7, testTypes(), Identity{}, r, i, pendingChecker{}, store.NewMemory(), fastConfig(), nil)
	defer s.Close()
	require.NoError(t, s.Confirm(context.Background()))

	errs := make(chan error, 1)
	go func() {
		errs <- s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com")
	}()
	time.Sleep(20 * time.Millisecond) // first call is now in flight
	err := s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com")
	assert.ErrorIs(t, err, ErrRequestInFlight)

	require.NoError(t, <-errs)
	assert.Equal(t, int32(1), atomic.LoadInt32(&r.calls))
}

func TestReservationFailureStaysOnDetails(t *testing.T) {
	r := &fakeReserver{err: &ReservationError{Reason: "not enough tickets available"}}
	s := NewSession(7, testTypes(), Identity{}, r, &fakeInitiator{}, pendingChecker{}, store.NewMemory(), fastConfig(), nil)
	defer s.Close()
	require.NoError(t, s.Confirm(context.Background()))

	err := s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com")
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, StateDetails, snap.State)
	assert.Equal(t, "not enough tickets available", snap.LastError)
}

func TestSubmitPhoneValidation(t *testing.T) {
	s, _, i := guestSession(pendingChecker{})
	defer s.Close()
	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))

	var ve *ValidationError
	require.ErrorAs(t, s.SubmitPhone(context.Background(), "12345"), &ve)
	assert.Equal(t, StatePayment, s.Snapshot().State)
	i.mu.Lock()
	assert.Zero(t, i.calls)
	i.mu.Unlock()
}

func TestSubmitPhoneCanonicalizesAndStartsProcessing(t *testing.T) {
	s, _, i := guestSession(pendingChecker{})
	defer s.Close()
	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712 345 678"))

	snap := s.Snapshot()
	assert.Equal(t, StateProcessing, snap.State)
	assert.Equal(t, "254712345678", snap.Phone)
	assert.Equal(t, "ws_CO_1", snap.CheckoutRequestID)
	assert.Positive(t, snap.CountdownSeconds)
	i.mu.Lock()
	assert.Equal(t, "254712345678", i.msisdn)
	assert.Equal(t, "tok-guest", i.token)
	i.mu.Unlock()
}

func TestInitiationFailureStaysOnPayment(t *testing.T) {
	r := &fakeReserver{res: Reservation{TicketID: 42, GuestToken: "tok-guest"}}
	i := &fakeInitiator{err: &InitiationError{Reason: "too many payment attempts, try again shortly"}}
	s := NewSession(7, testTypes(), Identity{}, r, i, pendingChecker{}, store.NewMemory(), fastConfig(), nil)
	defer s.Close()
	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))

	err := s.SubmitPhone(context.Background(), "0712345678")
	require.Error(t, err)
	snap := s.Snapshot()
	assert.Equal(t, StatePayment, snap.State)
	assert.Equal(t, "too many payment attempts, try again shortly", snap.LastError)
}

func TestGuestPurchaseConfirmed(t *testing.T) {
	checker := &scriptedChecker{steps: []scriptStep{
		{err: ErrStatusNotReady},
		{res: StatusResult{Completed: true}},
	}}
	s, _, _ := guestSession(checker)
	defer s.Close()

	require.NoError(t, s.SetQuantity(2))
	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))

	waitState(t, s, StateSuccess)
	assert.Empty(t, s.Snapshot().LastError)
}

func TestGatewayFailureThenRetryKeepsData(t *testing.T) {
	checker := &scriptedChecker{steps: []scriptStep{
		{res: StatusResult{Failed: true, Reason: "Request cancelled by user"}},
	}}
	s, _, _ := guestSession(checker)
	defer s.Close()

	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))

	waitState(t, s, StateError)
	snap := s.Snapshot()
	assert.Equal(t, "Request cancelled by user", snap.LastError)

	require.NoError(t, s.Retry())
	snap = s.Snapshot()
	assert.Equal(t, StatePayment, snap.State)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, "254712345678", snap.Phone, "phone survives the retry round trip")
	assert.Equal(t, uint64(42), snap.TicketID, "reservation survives the retry round trip")
}

func TestTimeoutReturnsToPaymentWithGuidance(t *testing.T) {
	cfg := fastConfig()
	cfg.PollMaxAttempts = 2
	r := &fakeReserver{res: Reservation{TicketID: 42, GuestToken: "tok-guest"}}
	s := NewSession(7, testTypes(), Identity{}, r, &fakeInitiator{id: "ws_CO_1"},
		pendingChecker{}, store.NewMemory(), cfg, nil)
	defer s.Close()

	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))

	waitState(t, s, StatePayment)
	assert.Contains(t, s.Snapshot().LastError, "could not confirm your payment in time")
}

func TestCheckStatusResolvesAheadOfPoller(t *testing.T) {
	cfg := fastConfig()
	cfg.PollInterval = time.Minute // poller effectively idle
	checker := &scriptedChecker{steps: []scriptStep{{res: StatusResult{Completed: true}}}}
	r := &fakeReserver{res: Reservation{TicketID: 42, GuestToken: "tok-guest"}}
	s := NewSession(7, testTypes(), Identity{}, r, &fakeInitiator{id: "ws_CO_1"},
		checker, store.NewMemory(), cfg, nil)
	defer s.Close()

	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))

	require.NoError(t, s.CheckStatus(context.Background()))
	assert.Equal(t, StateSuccess, s.Snapshot().State)
}

func TestCancelReturnsToPaymentAndSilencesPoller(t *testing.T) {
	checker := &scriptedChecker{steps: []scriptStep{
		{err: ErrStatusNotReady},
		{res: StatusResult{Completed: true}},
	}}
	cfg := fastConfig()
	cfg.PollInterval = 30 * time.Millisecond
	r := &fakeReserver{res: Reservation{TicketID: 42, GuestToken: "tok-guest"}}
	s := NewSession(7, testTypes(), Identity{}, r, &fakeInitiator{id: "ws_CO_1"},
		checker, store.NewMemory(), cfg, nil)
	defer s.Close()

	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))
	require.NoError(t, s.Cancel())

	snap := s.Snapshot()
	assert.Equal(t, StatePayment, snap.State)
	assert.Equal(t, "payment cancelled", snap.LastError)
	assert.Equal(t, "254712345678", snap.Phone)

	// The poller's success response, had it landed, would now be stale.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatePayment, s.Snapshot().State)
}

func TestSuccessSchedulesClose(t *testing.T) {
	checker := &scriptedChecker{steps: []scriptStep{{res: StatusResult{Completed: true}}}}
	closed := make(chan struct{})
	r := &fakeReserver{res: Reservation{TicketID: 42, GuestToken: "tok-guest"}}
	s := NewSession(7, testTypes(), Identity{}, r, &fakeInitiator{id: "ws_CO_1"},
		checker, store.NewMemory(), fastConfig(), func() { close(closed) })
	defer s.Close()

	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))

	waitState(t, s, StateSuccess)
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("onClose never fired")
	}
}

func TestClosedSessionIsSilent(t *testing.T) {
	checker := &scriptedChecker{steps: []scriptStep{
		{err: ErrStatusNotReady},
		{res: StatusResult{Completed: true}},
	}}
	s, _, _ := guestSession(checker)

	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))
	s.Close()

	// Drain anything delivered before the close, then verify silence.
	for {
		select {
		case <-s.Updates():
			continue
		default:
		}
		break
	}
	select {
	case st := <-s.Updates():
		t.Fatalf("update %q delivered after Close", st)
	case <-time.After(100 * time.Millisecond):
	}

	assert.ErrorIs(t, s.Confirm(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.SetQuantity(2), ErrClosed)
	assert.ErrorIs(t, s.Cancel(), ErrClosed)
	assert.ErrorIs(t, s.Retry(), ErrClosed)
}

func TestSessionStaysResponsiveAfterPollResolution(t *testing.T) {
	cases := []struct {
		name  string
		steps []scriptStep
		want  State
	}{
		{"confirmed", []scriptStep{{res: StatusResult{Completed: true}}}, StateSuccess},
		{"failed", []scriptStep{{res: StatusResult{Failed: true, Reason: "Request cancelled by user"}}}, StateError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := guestSession(&scriptedChecker{steps: tc.steps})
			defer s.Close()
			require.NoError(t, s.Confirm(context.Background()))
			require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
			require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))
			waitState(t, s, tc.want)

			// The lock must be free again after the poller's outcome
			// lands; a wedged callback would block every method here.
			done := make(chan struct{})
			go func() {
				_ = s.Snapshot()
				s.Close()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("session blocked after the poller delivered its outcome")
			}
		})
	}
}

func TestUpdatesKeepNewestWhenViewLags(t *testing.T) {
	s, _, _ := guestSession(pendingChecker{})
	defer s.Close()

	// Never read updates; overflow the buffer with nine transitions and
	// end on processing.
	require.NoError(t, s.Confirm(context.Background()))
	require.NoError(t, s.SubmitDetails(context.Background(), "Jane Doe", "jane@example.com"))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))
		require.NoError(t, s.Cancel())
	}
	require.NoError(t, s.SubmitPhone(context.Background(), "0712345678"))

	var last State
	for {
		select {
		case st := <-s.Updates():
			last = st
			continue
		default:
		}
		break
	}
	assert.Equal(t, StateProcessing, last, "most recent transition must survive the overflow")
}

func TestActionsRejectedOutsideTheirState(t *testing.T) {
	s, _, _ := guestSession(pendingChecker{})
	defer s.Close()

	assert.ErrorIs(t, s.SubmitDetails(context.Background(), "Jane", "jane@example.com"), ErrInvalidTransition)
	assert.ErrorIs(t, s.SubmitPhone(context.Background(), "0712345678"), ErrInvalidTransition)
	assert.ErrorIs(t, s.Cancel(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Retry(), ErrInvalidTransition)

	require.NoError(t, s.Confirm(context.Background()))
	assert.ErrorIs(t, s.SetQuantity(2), ErrInvalidTransition)
	assert.ErrorIs(t, s.SelectTicketType(3), ErrInvalidTransition)
}

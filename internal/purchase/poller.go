package purchase

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// OutcomeKind classifies the single terminal emission of a poll cycle.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota // gateway reported the payment completed
	OutcomeFailure                    // gateway reported failed / cancelled
	OutcomeTimeout                    // no terminal status within the attempt or wall-clock bound
)

// Outcome is what a Poller reports back exactly once per cycle.
type Outcome struct {
	Kind   OutcomeKind
	Reason string // gateway result description for failures
}

// Poller repeatedly queries payment status for one checkout request
// until a terminal state, the attempt cap or the wall-clock deadline is
// reached.  Attempts are strictly sequential: each tick waits for the
// previous response before the next is scheduled.  A "not found yet"
// response is transient and retried within the same bounds, as are
// transport-level failures.
//
// The wall-clock deadline is the authoritative upper bound; the attempt
// cap is a soft guide that normally fires first.  Stop suppresses any
// emission that has not started yet; the emission callback itself runs
// outside the poller's lock and may call Stop on its own poller.
type Poller struct {
	checker     StatusChecker
	interval    time.Duration
	maxAttempts int
	deadline    time.Duration

	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
	emitted bool
	done    chan struct{}
}

// NewPoller builds a poller with the given cadence and bounds.
func NewPoller(checker StatusChecker, interval time.Duration, maxAttempts int, deadline time.Duration) *Poller {
	return &Poller{
		checker:     checker,
		interval:    interval,
		maxAttempts: maxAttempts,
		deadline:    deadline,
		done:        make(chan struct{}),
	}
}

// Start begins polling in the background.  emit is invoked at most once
// with the terminal outcome.  The first attempt fires one interval
// after Start: the subscriber needs a moment to see the push prompt
// before a status query can mean anything.
func (p *Poller) Start(ctx context.Context, checkoutRequestID, guestToken string, emit func(Outcome)) {
	ctx, p.cancel = context.WithCancel(ctx)
	hardStop := time.Now().Add(p.deadline)

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for attempt := 1; ; attempt++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if time.Now().After(hardStop) {
				p.emit(emit, Outcome{Kind: OutcomeTimeout})
				return
			}

			res, err := p.status(ctx, checkoutRequestID, guestToken)
			switch {
			case err != nil && ctx.Err() != nil:
				return // cancelled mid-request
			case errors.Is(err, ErrStatusNotReady):
				// record not materialized on the server yet
			case err != nil:
				log.Printf("poller: status check %d failed: %v", attempt, err)
			case res.Completed:
				p.emit(emit, Outcome{Kind: OutcomeSuccess})
				return
			case res.Failed:
				p.emit(emit, Outcome{Kind: OutcomeFailure, Reason: res.Reason})
				return
			}

			if attempt >= p.maxAttempts {
				p.emit(emit, Outcome{Kind: OutcomeTimeout})
				return
			}
		}
	}()
}

// status performs one bounded status request.
func (p *Poller) status(ctx context.Context, checkoutRequestID, guestToken string) (StatusResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	return p.checker.Status(reqCtx, checkoutRequestID, guestToken)
}

// emit claims the single emission slot and delivers the terminal
// outcome.  The slot is claimed under the lock but fn runs outside it,
// so a callback that tears the poller down via Stop does not deadlock.
func (p *Poller) emit(fn func(Outcome), o Outcome) {
	p.mu.Lock()
	if p.stopped || p.emitted {
		p.mu.Unlock()
		return
	}
	p.emitted = true
	p.mu.Unlock()
	fn(o)
}

// Stop cancels the poll cycle.  Any emission that has not started yet
// is discarded.  Safe to call from inside the emission callback.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}

// Done is closed when the polling goroutine has fully exited.  Tests
// use it to wait for quiescence.
func (p *Poller) Done() <-chan struct{} { return p.done }

// Package store persists guest access credentials keyed by ticket id.
// Two implementations exist: an in-process Memory store used by the
// checkout client (the stand-in for browser sessionStorage — the
// credential lives as long as the process), and a Redis-backed store
// the server uses to validate guest tokens on status and download
// calls.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// key builds the shared credential key for a ticket.
func key(ticketID uint64) string { return fmt.Sprintf("guest_token_%d", ticketID) }

// Memory is a session-scoped credential store.  Write-once per ticket,
// read-many; safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	tokens map[string]string
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]string)}
}

// SaveGuestToken records the credential for a ticket.  The first write
// wins; a reservation id is produced by exactly one reservation call,
// so conflicting writers do not exist.
func (m *Memory) SaveGuestToken(ticketID uint64, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[key(ticketID)]; !ok {
		m.tokens[key(ticketID)] = token
	}
}

// GuestToken returns the stored credential for a ticket, if any.
func (m *Memory) GuestToken(ticketID uint64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[key(ticketID)]
	return t, ok
}

// Redis validates and issues guest tokens server-side.  Tokens expire
// after the configured TTL so abandoned guest purchases do not
// accumulate credentials.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis wraps an existing client.  rdb may be nil, in which case
// every operation fails and guest checkout is effectively disabled.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

// Issue stores a freshly generated token for a ticket.
func (r *Redis) Issue(ctx context.Context, ticketID uint64, token string) error {
	if r.rdb == nil {
		return redis.ErrClosed
	}
	return r.rdb.Set(ctx, key(ticketID), token, r.ttl).Err()
}

// Validate reports whether the presented token matches the one issued
// for the ticket.
func (r *Redis) Validate(ctx context.Context, ticketID uint64, token string) (bool, error) {
	if r.rdb == nil || token == "" {
		return false, nil
	}
	stored, err := r.rdb.Get(ctx, key(ticketID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored == token, nil
}

// Package ratelimit throttles STK push initiations per subscriber
// number.  The push prompt lives for about a minute on the subscriber's
// phone, so hammering the gateway with repeat pushes only cancels
// earlier prompts; a small fixed window per MSISDN is enough.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// STKLimiter counts payment initiations per MSISDN in a fixed redis
// window.  A nil redis client disables limiting (the limiter always
// allows) so payments keep working when redis is down.
type STKLimiter struct {
	rdb    *redis.Client
	max    int
	window time.Duration
}

// NewSTKLimiter allows max pushes per MSISDN within each window.
func NewSTKLimiter(rdb *redis.Client, max int, window time.Duration) *STKLimiter {
	return &STKLimiter{rdb: rdb, max: max, window: window}
}

// Allow reports whether another push may be sent to msisdn now.  When
// denied, retryAfter carries the remaining window.
func (l *STKLimiter) Allow(ctx context.Context, msisdn string) (allowed bool, retryAfter time.Duration) {
	if l.rdb == nil {
		return true, 0
	}
	key := fmt.Sprintf("stklimit:%s", msisdn)
	// Fixed window: INCR then set the expiry on the first increment.
	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return true, 0 // redis error; do not block payments
	}
	if n == 1 {
		_ = l.rdb.Expire(ctx, key, l.window).Err()
	}
	if n > int64(l.max) {
		ttl, err := l.rdb.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = l.window
		}
		return false, ttl
	}
	return true, 0
}

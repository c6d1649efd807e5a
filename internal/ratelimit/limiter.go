// Package ratelimit implements fixed-window request counting per
// (client key, operation).
//
// Windows are discrete and non-overlapping: the first request after a
// window has ended opens a fresh window starting at that request. A client
// can therefore send up to 2*limit requests in a short span straddling a
// window boundary. That burst is accepted policy for abuse deterrence.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/kv"
)

// Policy is the limit applied to one operation.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Count      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Err converts a denied decision into a RateLimited error.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return apperr.RateLimited(d.RetryAfter)
}

type bucket struct {
	Count       int   `json:"c"`
	WindowStart int64 `json:"ws"` // unix nanoseconds
}

// Limiter counts requests in a shared kv.Store. Buckets carry a TTL equal to
// the rest of their window so the store reclaims them on its own.
type Limiter struct {
	store   kv.Store
	clock   clock.Clock
	timeout time.Duration
}

// New returns a Limiter. timeout bounds each store round-trip; zero means
// the caller's context alone bounds it.
func New(store kv.Store, c clock.Clock, timeout time.Duration) *Limiter {
	if c == nil {
		c = clock.System{}
	}
	return &Limiter{store: store, clock: c, timeout: timeout}
}

// BucketKey is the store key for a (key, operation) pair.
func BucketKey(key, operation string) string {
	return "rl:" + operation + ":" + key
}

// Allow counts one request for (key, operation) and reports whether it is
// within limit for the current window. A store failure is returned as an
// Unavailable error and must be treated as a rejection.
func (l *Limiter) Allow(ctx context.Context, key, operation string, limit int, window time.Duration) (Decision, error) {
	if limit < 1 || window <= 0 {
		return Decision{}, fmt.Errorf("ratelimit: invalid policy limit=%d window=%s", limit, window)
	}
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	now := l.clock.Now()
	var d Decision
	_, err := l.store.Update(ctx, BucketKey(key, operation), func(cur []byte, found bool) ([]byte, time.Duration, error) {
		var b bucket
		if found && json.Unmarshal(cur, &b) != nil {
			found = false
		}
		start := time.Unix(0, b.WindowStart)
		if !found || !now.Before(start.Add(window)) {
			b = bucket{WindowStart: now.UnixNano()}
			start = now
		}
		b.Count++

		end := start.Add(window)
		d = Decision{Limit: limit, Count: b.Count, ResetAt: end}
		if b.Count > limit {
			d.RetryAfter = end.Sub(now)
		} else {
			d.Allowed = true
			d.Remaining = limit - b.Count
		}

		raw, err := json.Marshal(b)
		if err != nil {
			return nil, 0, err
		}
		return raw, end.Sub(now), nil
	})
	if err != nil {
		return Decision{}, apperr.Unavailable(err, "rate limit store")
	}
	return d, nil
}

// Check applies p and folds a denial into a RateLimited error.
func (l *Limiter) Check(ctx context.Context, key, operation string, p Policy) (Decision, error) {
	d, err := l.Allow(ctx, key, operation, p.Limit, p.Window)
	if err != nil {
		return d, err
	}
	return d, d.Err()
}

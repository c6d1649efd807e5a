// Package lockout tracks consecutive authentication failures per login
// identifier (normalized email or client IP) and blocks further attempts for
// a growing period once a threshold is reached.
//
// Only a successful authentication clears a record. Reading the lock state
// never resets the failure count, so an attacker who waits out a lock and
// fails again is locked for longer than before.
package lockout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/kv"
)

const (
	DefaultThreshold   = 5
	DefaultBaseLockout = time.Minute
	DefaultMaxLockout  = time.Hour
	DefaultRetention   = 24 * time.Hour
)

// Policy configures when and for how long identifiers are locked.
type Policy struct {
	// Threshold is the failure count at which the first lock is applied.
	Threshold int
	// BaseLockout is the lock length at exactly Threshold failures; every
	// further failure doubles it.
	BaseLockout time.Duration
	// MaxLockout caps a single lock.
	MaxLockout time.Duration
	// Retention is how long a record survives after its last failure or
	// lock expiry before the store may forget it.
	Retention time.Duration
}

// DefaultPolicy returns 5 failures, 1 minute doubling up to 1 hour.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:   DefaultThreshold,
		BaseLockout: DefaultBaseLockout,
		MaxLockout:  DefaultMaxLockout,
		Retention:   DefaultRetention,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.Threshold < 1 {
		p.Threshold = d.Threshold
	}
	if p.BaseLockout <= 0 {
		p.BaseLockout = d.BaseLockout
	}
	if p.MaxLockout < p.BaseLockout {
		p.MaxLockout = p.BaseLockout
	}
	if p.Retention <= 0 {
		p.Retention = d.Retention
	}
	return p
}

// Backoff is the lock length applied after the given number of consecutive
// failures: zero below the threshold, then BaseLockout * 2^(failures-Threshold)
// capped at MaxLockout.
func (p Policy) Backoff(failures int) time.Duration {
	if failures < p.Threshold {
		return 0
	}
	d := p.BaseLockout
	for i := p.Threshold; i < failures; i++ {
		d *= 2
		if d >= p.MaxLockout || d <= 0 {
			return p.MaxLockout
		}
	}
	if d > p.MaxLockout {
		return p.MaxLockout
	}
	return d
}

// State is a snapshot of one identifier's record.
type State struct {
	Identifier   string
	FailureCount int
	// LockedUntil is zero when the identifier has never reached the threshold.
	LockedUntil time.Time
	Locked      bool
	Remaining   time.Duration
}

// Err returns LockedOut while the state is locked.
func (s State) Err() error {
	if !s.Locked {
		return nil
	}
	return apperr.LockedOut(s.Remaining)
}

type record struct {
	Failures    int   `json:"f"`
	LockedUntil int64 `json:"lu,omitempty"` // unix nanoseconds
}

// Tracker keeps lockout records in a kv.Store shared by every API instance.
type Tracker struct {
	store   kv.Store
	clock   clock.Clock
	policy  Policy
	timeout time.Duration
}

func New(store kv.Store, c clock.Clock, p Policy, timeout time.Duration) *Tracker {
	if c == nil {
		c = clock.System{}
	}
	return &Tracker{store: store, clock: c, policy: p.normalized(), timeout: timeout}
}

func (t *Tracker) Policy() Policy { return t.policy }

func key(identifier string) string { return "lock:" + identifier }

func (t *Tracker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout > 0 {
		return context.WithTimeout(ctx, t.timeout)
	}
	return ctx, func() {}
}

func (t *Tracker) state(identifier string, r record, now time.Time) State {
	s := State{Identifier: identifier, FailureCount: r.Failures}
	if r.LockedUntil != 0 {
		s.LockedUntil = time.Unix(0, r.LockedUntil).UTC()
		if now.Before(s.LockedUntil) {
			s.Locked = true
			s.Remaining = s.LockedUntil.Sub(now)
		}
	}
	return s
}

// RecordFailure counts one failed authentication and, once the threshold is
// reached, locks the identifier for Backoff(failures).
func (t *Tracker) RecordFailure(ctx context.Context, identifier string) (State, error) {
	if identifier == "" {
		return State{}, fmt.Errorf("lockout: empty identifier")
	}
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	now := t.clock.Now()
	var out State
	_, err := t.store.Update(ctx, key(identifier), func(cur []byte, found bool) ([]byte, time.Duration, error) {
		var r record
		if found && json.Unmarshal(cur, &r) != nil {
			r = record{}
		}
		r.Failures++
		ttl := t.policy.Retention
		if lock := t.policy.Backoff(r.Failures); lock > 0 {
			until := now.Add(lock)
			r.LockedUntil = until.UnixNano()
			ttl += lock
		}
		out = t.state(identifier, r, now)
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, 0, err
		}
		return raw, ttl, nil
	})
	if err != nil {
		return State{}, apperr.Unavailable(err, "lockout store")
	}
	return out, nil
}

// RecordSuccess removes the identifier's record entirely.
func (t *Tracker) RecordSuccess(ctx context.Context, identifier string) error {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()
	if err := t.store.Delete(ctx, key(identifier)); err != nil {
		return apperr.Unavailable(err, "lockout store")
	}
	return nil
}

// IsLocked reports the identifier's current state without modifying it. An
// expired lock reads as unlocked but keeps its failure count.
func (t *Tracker) IsLocked(ctx context.Context, identifier string) (State, error) {
	ctx, cancel := t.withTimeout(ctx)
	defer cancel()

	raw, found, err := t.store.Get(ctx, key(identifier))
	if err != nil {
		return State{}, apperr.Unavailable(err, "lockout store")
	}
	var r record
	if found && json.Unmarshal(raw, &r) != nil {
		r = record{}
	}
	return t.state(identifier, r, t.clock.Now()), nil
}

// Check returns LockedOut if any of the identifiers is currently locked,
// reporting the longest remaining lock.
func (t *Tracker) Check(ctx context.Context, identifiers ...string) error {
	var worst State
	for _, id := range identifiers {
		if id == "" {
			continue
		}
		s, err := t.IsLocked(ctx, id)
		if err != nil {
			return err
		}
		if s.Locked && s.Remaining > worst.Remaining {
			worst = s
		}
	}
	return worst.Err()
}

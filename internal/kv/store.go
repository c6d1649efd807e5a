// Package kv is the shared state store behind the rate limiter, the lockout
// tracker and the CSRF guard. Callers depend on the Store interface so that a
// single-process map and a Redis deployment are interchangeable; with more
// than one API instance the Redis store is mandatory, otherwise every
// instance would keep its own counters.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned when an optimistic update lost the race too many
// times in a row.
var ErrConflict = errors.New("kv: too many concurrent updates")

// UpdateFunc computes the next value for a key from its current value.
// Returning a nil next value deletes the key. A ttl <= 0 stores the value
// without expiry. Returning an error aborts the update and nothing is
// written. The function may be invoked more than once for a single Update
// call and must not have side effects.
type UpdateFunc func(current []byte, found bool) (next []byte, ttl time.Duration, err error)

// Store is a keyed byte store with an atomic read-modify-write primitive.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Update runs fn as a single atomic unit for key and returns the value
	// that was written (nil when the key was deleted).
	Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Put unconditionally replaces the value stored under key.
func Put(ctx context.Context, s Store, key string, value []byte, ttl time.Duration) error {
	_, err := s.Update(ctx, key, func([]byte, bool) ([]byte, time.Duration, error) {
		return value, ttl, nil
	})
	return err
}

package kv

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/travel-booking/internal/clock"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// MemoryStore keeps entries in a process-wide map. Updates to the same key
// are serialized by a per-key mutex; different keys never contend on fn.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]memEntry
	locks   map[string]*keyLock
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.System{}
	}
	return &MemoryStore{
		clock:   c,
		entries: make(map[string]memEntry),
		locks:   make(map[string]*keyLock),
	}
}

func (s *MemoryStore) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// load returns the live entry for key; caller holds s.mu.
func (s *MemoryStore) load(key string, now time.Time) ([]byte, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e.value, true
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.load(key, s.clock.Now())
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.lockKey(key)
	defer unlock()

	now := s.clock.Now()
	s.mu.Lock()
	cur, found := s.load(key, now)
	s.mu.Unlock()
	if found {
		cur = append([]byte(nil), cur...)
	}

	next, ttl, err := fn(cur, found)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next == nil {
		delete(s.entries, key)
		return nil, nil
	}
	e := memEntry{value: append([]byte(nil), next...)}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return next, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lockKey(key)
	defer unlock()
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep drops entries whose TTL has elapsed and returns how many were
// removed. Expired entries are already invisible to readers, so sweeping
// only reclaims memory.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

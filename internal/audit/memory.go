package audit

import (
	"context"
	"sort"
	"sync"
)

// MemorySink keeps entries in process memory. Used for local development
// and tests; entries are lost on restart.
type MemorySink struct {
	mu      sync.RWMutex
	seq     uint64
	entries []Entry
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) Append(ctx context.Context, e Entry) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	e.Seq = m.seq
	// keep (Timestamp, Seq) order; a late append lands before newer stamps
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Timestamp.After(e.Timestamp)
	})
	m.entries = append(m.entries, Entry{})
	copy(m.entries[i+1:], m.entries[i:])
	m.entries[i] = e
	return e, nil
}

func (m *MemorySink) Export(ctx context.Context, after Cursor, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.entries), func(i int) bool {
		return after.Precedes(m.entries[i])
	})
	end := len(m.entries)
	if limit > 0 && i+limit < end {
		end = i + limit
	}
	out := make([]Entry, end-i)
	copy(out, m.entries[i:end])
	return out, nil
}

// Entries returns a copy of everything recorded so far in (Timestamp, Seq)
// order.
func (m *MemorySink) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

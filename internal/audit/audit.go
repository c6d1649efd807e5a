// Package audit records security-relevant and state-changing events.
//
// Entries are immutable. The durable Sink only ever appends; optional
// Streams receive a copy for external alerting. Within one process entries
// carry strictly increasing timestamps, so a time-ordered export replays
// them in the order they were recorded.
package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/logger"
)

type Action string

const (
	ActionBookingCreated      Action = "BookingCreated"
	ActionBookingApproved     Action = "BookingApproved"
	ActionBookingRejected     Action = "BookingRejected"
	ActionBookingCancelled    Action = "BookingCancelled"
	ActionDepositRecorded     Action = "DepositRecorded"
	ActionFullPaymentRecorded Action = "FullPaymentRecorded"
	ActionRefundRequested     Action = "RefundRequested"
	ActionRefundCompleted     Action = "RefundCompleted"
	ActionLoginSucceeded      Action = "LoginSucceeded"
	ActionLoginFailed         Action = "LoginFailed"
	ActionAccountLocked       Action = "AccountLocked"
	ActionLogout              Action = "Logout"
	ActionCsrfRejected        Action = "CsrfRejected"
	ActionRateLimited         Action = "RateLimited"
	ActionAccessDenied        Action = "AccessDenied"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
)

// Entry is one audit record. Seq is assigned by the sink.
type Entry struct {
	Seq       uint64            `json:"seq"`
	Actor     string            `json:"actor"`
	Action    Action            `json:"action"`
	Target    string            `json:"target"`
	Timestamp time.Time         `json:"timestamp"`
	Outcome   Outcome           `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Cursor is a position in the (Timestamp, Seq) order of the log. The zero
// value is the start. A cursor without Seq resumes strictly after Since.
type Cursor struct {
	Since time.Time
	Seq   uint64
}

// CursorAfter returns the cursor that resumes right after e.
func CursorAfter(e Entry) Cursor {
	return Cursor{Since: e.Timestamp, Seq: e.Seq}
}

// Precedes reports whether e lies after the cursor.
func (c Cursor) Precedes(e Entry) bool {
	if e.Timestamp.After(c.Since) {
		return true
	}
	return c.Seq > 0 && e.Timestamp.Equal(c.Since) && e.Seq > c.Seq
}

// Sink is the durable, append-only store. Append is called concurrently and
// may receive entries out of timestamp order.
type Sink interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	// Export returns up to limit entries after the cursor, ordered by
	// Timestamp then Seq.
	Export(ctx context.Context, after Cursor, limit int) ([]Entry, error)
}

// Stream forwards entries to an external consumer. Best effort.
type Stream interface {
	PublishAudit(ctx context.Context, e Entry) error
}

const (
	DefaultExportLimit = 100
	MaxExportLimit     = 1000

	// MaxTargetLen is the width of the stored target column. Longer targets
	// are truncated rather than dropping the entry.
	MaxTargetLen = 320
)

var ErrInvalidEntry = errors.New("audit: entry needs actor, action and outcome")

type Log struct {
	sink    Sink
	streams []Stream
	clock   clock.Clock
	timeout time.Duration
	log     *logger.Logger

	mu   sync.Mutex
	last time.Time
	// stamps handed out whose Append has not returned, in Unix µs
	pending map[int64]struct{}
}

func NewLog(sink Sink, c clock.Clock, timeout time.Duration, lg *logger.Logger, streams ...Stream) *Log {
	if c == nil {
		c = clock.System{}
	}
	if lg == nil {
		lg = logger.Discard()
	}
	return &Log{
		sink: sink, streams: streams, clock: c, timeout: timeout, log: lg,
		pending: map[int64]struct{}{},
	}
}

// stamp returns a timestamp strictly after the previous one. Microsecond
// resolution survives a DATETIME(6) round trip.
func (l *Log) stamp() time.Time {
	ts := l.clock.Now().UTC().Truncate(time.Microsecond)
	if !ts.After(l.last) {
		ts = l.last.Add(time.Microsecond)
	}
	l.last = ts
	return ts
}

// horizon is the earliest timestamp an Append may still be writing. Every
// entry this Log stamped before it is already in the sink.
func (l *Log) horizon() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	h := l.last.Add(time.Microsecond)
	if now := l.clock.Now().UTC().Truncate(time.Microsecond); now.After(h) {
		h = now
	}
	for us := range l.pending {
		if ts := time.UnixMicro(us).UTC(); ts.Before(h) {
			h = ts
		}
	}
	return h
}

// Record appends e to the sink and then to every stream. It outlives a
// cancelled caller context: what was attempted is kept even if the request
// was abandoned. Only the sink write can fail the call.
func (l *Log) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Actor == "" || e.Action == "" || e.Outcome == "" {
		return Entry{}, ErrInvalidEntry
	}
	if utf8.RuneCountInString(e.Target) > MaxTargetLen {
		e.Target = string([]rune(e.Target)[:MaxTargetLen])
	}
	if len(e.Metadata) > 0 {
		md := make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			md[k] = v
		}
		e.Metadata = md
	}

	ctx = context.WithoutCancel(ctx)
	l.mu.Lock()
	e.Timestamp = l.stamp()
	key := e.Timestamp.UnixMicro()
	l.pending[key] = struct{}{}
	l.mu.Unlock()

	wctx, cancel := l.withTimeout(ctx)
	stored, err := l.sink.Append(wctx, e)
	cancel()
	l.mu.Lock()
	delete(l.pending, key)
	l.mu.Unlock()
	if err != nil {
		l.log.Error("audit append failed", "action", e.Action, "target", e.Target, "err", err)
		return Entry{}, err
	}

	for _, s := range l.streams {
		sctx, scancel := l.withTimeout(ctx)
		if err := s.PublishAudit(sctx, stored); err != nil {
			l.log.Warn("audit stream publish failed", "action", stored.Action, "seq", stored.Seq, "err", err)
		}
		scancel()
	}
	return stored, nil
}

// Export reads entries after the cursor in (Timestamp, Seq) order for
// external reporting. A page stops short of any entry still being written so
// that resuming from its last entry never skips one.
func (l *Log) Export(ctx context.Context, after Cursor, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultExportLimit
	}
	if limit > MaxExportLimit {
		limit = MaxExportLimit
	}
	h := l.horizon()
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()
	out, err := l.sink.Export(ctx, after, limit)
	if err != nil {
		return nil, err
	}
	n := sort.Search(len(out), func(i int) bool { return !out[i].Timestamp.Before(h) })
	return out[:n], nil
}

func (l *Log) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout > 0 {
		return context.WithTimeout(ctx, l.timeout)
	}
	return context.WithCancel(ctx)
}

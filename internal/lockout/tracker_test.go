package lockout

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/kv"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newTracker(p Policy) (*Tracker, *clock.Fake) {
	fc := clock.NewFake(t0)
	return New(kv.NewMemoryStore(fc), fc, p, time.Second), fc
}

func TestBackoff(t *testing.T) {
	p := Policy{Threshold: 5, BaseLockout: time.Minute, MaxLockout: 10 * time.Minute}
	cases := map[int]time.Duration{
		1:  0,
		4:  0,
		5:  time.Minute,
		6:  2 * time.Minute,
		7:  4 * time.Minute,
		8:  8 * time.Minute,
		9:  10 * time.Minute,
		40: 10 * time.Minute,
		99: 10 * time.Minute,
	}
	for failures, want := range cases {
		assert.Equal(t, want, p.Backoff(failures), "failures=%d", failures)
	}
}

func TestRecordFailure_LocksAtThreshold(t *testing.T) {
	for _, k := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			tr, fc := newTracker(Policy{Threshold: k, BaseLockout: time.Minute, MaxLockout: time.Hour})
			ctx := context.Background()

			for i := 1; i < k; i++ {
				s, err := tr.RecordFailure(ctx, "a@b.com")
				require.NoError(t, err)
				require.False(t, s.Locked)
			}
			s, err := tr.RecordFailure(ctx, "a@b.com")
			require.NoError(t, err)
			require.True(t, s.Locked)
			require.Equal(t, k, s.FailureCount)
			require.Equal(t, t0.Add(time.Minute), s.LockedUntil)

			st, err := tr.IsLocked(ctx, "a@b.com")
			require.NoError(t, err)
			require.True(t, st.Locked)
			require.True(t, apperr.Is(st.Err(), apperr.KindLockedOut))

			fc.Advance(time.Minute - time.Nanosecond)
			st, _ = tr.IsLocked(ctx, "a@b.com")
			require.True(t, st.Locked)

			fc.Advance(time.Nanosecond)
			st, _ = tr.IsLocked(ctx, "a@b.com")
			require.False(t, st.Locked)
		})
	}
}

func TestIsLocked_DoesNotResetFailureCount(t *testing.T) {
	tr, fc := newTracker(DefaultPolicy())
	ctx := context.Background()
	for i := 0; i < DefaultThreshold; i++ {
		_, err := tr.RecordFailure(ctx, "a@b.com")
		require.NoError(t, err)
	}
	fc.Advance(DefaultBaseLockout)

	for i := 0; i < 3; i++ {
		st, err := tr.IsLocked(ctx, "a@b.com")
		require.NoError(t, err)
		require.False(t, st.Locked)
		require.Equal(t, DefaultThreshold, st.FailureCount)
	}

	// the next failure escalates instead of starting over
	s, err := tr.RecordFailure(ctx, "a@b.com")
	require.NoError(t, err)
	require.True(t, s.Locked)
	require.Equal(t, DefaultThreshold+1, s.FailureCount)
	require.Equal(t, 2*DefaultBaseLockout, s.Remaining)
}

func TestRecordSuccess_ClearsEverything(t *testing.T) {
	tr, _ := newTracker(DefaultPolicy())
	ctx := context.Background()
	for i := 0; i < DefaultThreshold+2; i++ {
		_, _ = tr.RecordFailure(ctx, "a@b.com")
	}
	require.NoError(t, tr.RecordSuccess(ctx, "a@b.com"))

	st, err := tr.IsLocked(ctx, "a@b.com")
	require.NoError(t, err)
	require.False(t, st.Locked)
	require.Zero(t, st.FailureCount)
	require.True(t, st.LockedUntil.IsZero())

	s, _ := tr.RecordFailure(ctx, "a@b.com")
	require.Equal(t, 1, s.FailureCount)
}

func TestCheck_ReportsLongestLock(t *testing.T) {
	tr, _ := newTracker(Policy{Threshold: 1, BaseLockout: time.Minute, MaxLockout: time.Hour})
	ctx := context.Background()

	require.NoError(t, tr.Check(ctx, "a@b.com", "192.0.2.1"))

	_, _ = tr.RecordFailure(ctx, "192.0.2.1")
	_, _ = tr.RecordFailure(ctx, "192.0.2.1")
	_, _ = tr.RecordFailure(ctx, "a@b.com")

	err := tr.Check(ctx, "a@b.com", "192.0.2.1", "")
	require.Error(t, err)
	e := apperr.As(err)
	require.Equal(t, apperr.KindLockedOut, e.Kind)
	require.Equal(t, 2*time.Minute, e.RetryAfter)
}

func TestRecordFailure_Concurrent(t *testing.T) {
	tr, _ := newTracker(Policy{Threshold: 100, BaseLockout: time.Minute, MaxLockout: time.Hour})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.RecordFailure(ctx, "a@b.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	st, err := tr.IsLocked(ctx, "a@b.com")
	require.NoError(t, err)
	require.Equal(t, 40, st.FailureCount)
}

func TestRecordFailure_EmptyIdentifier(t *testing.T) {
	tr, _ := newTracker(DefaultPolicy())
	_, err := tr.RecordFailure(context.Background(), "")
	require.Error(t, err)
}

func TestRecord_SurvivesLockExpiryUntilRetention(t *testing.T) {
	p := Policy{Threshold: 2, BaseLockout: time.Minute, MaxLockout: time.Hour, Retention: time.Hour}
	tr, fc := newTracker(p)
	ctx := context.Background()
	_, _ = tr.RecordFailure(ctx, "x")
	_, _ = tr.RecordFailure(ctx, "x")

	fc.Advance(time.Minute + 59*time.Minute)
	st, _ := tr.IsLocked(ctx, "x")
	require.Equal(t, 2, st.FailureCount)

	fc.Advance(time.Minute)
	st, _ = tr.IsLocked(ctx, "x")
	require.Zero(t, st.FailureCount, "record expires once retention after the lock elapsed")
}

func TestTracker_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	fc := clock.NewFake(t0)
	tr := New(kv.NewRedisStore(rdb, "test"), fc, DefaultPolicy(), time.Second)
	ctx := context.Background()

	for i := 0; i < DefaultThreshold; i++ {
		_, err := tr.RecordFailure(ctx, "a@b.com")
		require.NoError(t, err)
	}
	err := tr.Check(ctx, "a@b.com")
	require.True(t, apperr.Is(err, apperr.KindLockedOut))

	fc.Advance(DefaultBaseLockout)
	require.NoError(t, tr.Check(ctx, "a@b.com"))

	s, err := tr.RecordFailure(ctx, "a@b.com")
	require.NoError(t, err)
	require.Equal(t, 6, s.FailureCount)
	require.Equal(t, 2*time.Minute, s.Remaining)

	require.NoError(t, tr.RecordSuccess(ctx, "a@b.com"))
	require.False(t, mr.Exists("test:lock:a@b.com"))
}

func TestTracker_StoreDownIsUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	tr := New(kv.NewRedisStore(rdb, "test"), clock.NewFake(t0), DefaultPolicy(), time.Second)
	mr.Close()

	_, err := tr.RecordFailure(context.Background(), "a@b.com")
	require.True(t, apperr.Is(err, apperr.KindUnavailable))
	require.True(t, apperr.Is(tr.Check(context.Background(), "a@b.com"), apperr.KindUnavailable))
}

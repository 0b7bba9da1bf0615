package simclock_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"SimBank/internal/simclock"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeAuthority struct {
	now time.Time
	err error
}

func (a *fakeAuthority) Now(context.Context) (time.Time, error) { return a.now, a.err }

// newWallClock gives a SimClock whose wall time only moves via the returned Manual.
// The tick loop still runs on real time, so the day is long enough never to fire.
func newWallClock(auth simclock.Authority) (*simclock.SimClock, *simclock.Manual) {
	wall := simclock.NewManual(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	c := simclock.New(simclock.Options{
		RealDayDuration: time.Hour,
		Authority:       auth,
		Wall:            wall.Now,
		Logger:          zerolog.Nop(),
	})
	return c, wall
}

// ============================================================================
// Test: time mapping
// ============================================================================

func TestNow_BeforeStartIsWallClock(t *testing.T) {
	c, wall := newWallClock(nil)
	assert.Equal(t, wall.Now(), c.Now())
}

func TestNow_LinearAcceleration(t *testing.T) {
	c, wall := newWallClock(nil)
	c.Start(epoch, nil)
	defer c.Stop()

	assert.Equal(t, epoch, c.Now())

	wall.Advance(30 * time.Minute) // half a real day
	assert.Equal(t, epoch.Add(12*time.Hour), c.Now())

	wall.Advance(90 * time.Minute)
	assert.Equal(t, epoch.Add(48*time.Hour), c.Now())
}

func TestNow_StrictlyIncreasing(t *testing.T) {
	c, wall := newWallClock(nil)
	c.Start(epoch, nil)
	defer c.Stop()

	prev := c.Now()
	for i := 0; i < 100; i++ {
		wall.Advance(time.Millisecond)
		now := c.Now()
		require.True(t, now.After(prev), "step %d: %v not after %v", i, now, prev)
		prev = now
	}
}

func TestStop_FreezesNow(t *testing.T) {
	c, wall := newWallClock(nil)
	c.Start(epoch, nil)
	wall.Advance(10 * time.Minute)
	c.Stop()

	frozen := c.Now()
	wall.Advance(time.Hour)
	assert.Equal(t, frozen, c.Now())
	assert.False(t, c.Running())

	c.Stop() // second stop is a no-op
}

func TestStart_AgainReanchors(t *testing.T) {
	c, wall := newWallClock(nil)
	c.Start(epoch, nil)
	wall.Advance(30 * time.Minute)

	later := epoch.AddDate(0, 1, 0)
	c.Start(later, nil)
	defer c.Stop()
	assert.Equal(t, later, c.Now())
}

// ============================================================================
// Test: resync
// ============================================================================

func TestResync_ReanchorsOnAuthority(t *testing.T) {
	auth := &fakeAuthority{}
	c, wall := newWallClock(auth)
	c.Start(epoch, nil)
	defer c.Stop()

	wall.Advance(30 * time.Minute)
	auth.now = epoch.Add(13 * time.Hour) // authority is an hour ahead

	drift, err := c.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Hour, drift)
	assert.Equal(t, auth.now, c.Now())

	wall.Advance(30 * time.Minute)
	assert.Equal(t, auth.now.Add(12*time.Hour), c.Now(), "continues at the same rate")
}

func TestResync_BackwardJumpBoundedByDrift(t *testing.T) {
	auth := &fakeAuthority{}
	c, wall := newWallClock(auth)
	c.Start(epoch, nil)
	defer c.Stop()

	wall.Advance(30 * time.Minute)
	before := c.Now()
	auth.now = before.Add(-5 * time.Minute)

	drift, err := c.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -5*time.Minute, drift)
	assert.Equal(t, -drift, before.Sub(c.Now()))
}

func TestResync_FailureKeepsAnchor(t *testing.T) {
	auth := &fakeAuthority{err: errors.New("unreachable")}
	c, wall := newWallClock(auth)
	c.Start(epoch, nil)
	defer c.Stop()

	wall.Advance(30 * time.Minute)
	_, err := c.Resync(context.Background())
	require.Error(t, err)
	assert.Equal(t, epoch.Add(12*time.Hour), c.Now())
}

func TestResync_WithoutAuthorityIsNoop(t *testing.T) {
	c, _ := newWallClock(nil)
	c.Start(epoch, nil)
	defer c.Stop()

	drift, err := c.Resync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, drift)
}

// ============================================================================
// Test: day boundary loop (real time)
// ============================================================================

func TestDayBoundary_FiresAndStops(t *testing.T) {
	c := simclock.New(simclock.Options{RealDayDuration: 10 * time.Millisecond, Logger: zerolog.Nop()})

	var days atomic.Int32
	c.Start(epoch, func(context.Context, time.Time) { days.Add(1) })

	require.Eventually(t, func() bool { return days.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	c.Wait()
	after := days.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, days.Load(), "no callbacks after stop")
}

func TestDayBoundary_NeverOverlaps(t *testing.T) {
	c := simclock.New(simclock.Options{RealDayDuration: 5 * time.Millisecond, Logger: zerolog.Nop()})

	var inFlight, maxInFlight, calls atomic.Int32
	c.Start(epoch, func(context.Context, time.Time) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond) // four ticks
		inFlight.Add(-1)
		calls.Add(1)
	})

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestDayBoundary_RestartCancelsPrevious(t *testing.T) {
	c := simclock.New(simclock.Options{RealDayDuration: 5 * time.Millisecond, Logger: zerolog.Nop()})

	var first, second atomic.Int32
	c.Start(epoch, func(context.Context, time.Time) { first.Add(1) })
	require.Eventually(t, func() bool { return first.Load() >= 1 }, time.Second, time.Millisecond)

	c.Start(epoch, func(context.Context, time.Time) { second.Add(1) })
	require.Eventually(t, func() bool { return second.Load() >= 2 }, time.Second, time.Millisecond)

	settled := first.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, first.Load())

	c.Stop()
	c.Wait()
}

func TestDayBoundary_ResyncsBeforeCallback(t *testing.T) {
	auth := &fakeAuthority{now: epoch.AddDate(1, 0, 0)}
	c := simclock.New(simclock.Options{
		RealDayDuration: 10 * time.Millisecond,
		Authority:       auth,
		Logger:          zerolog.Nop(),
	})

	seen := make(chan time.Time, 1)
	c.Start(epoch, func(_ context.Context, day time.Time) {
		select {
		case seen <- day:
		default:
		}
	})
	defer c.Stop()

	select {
	case day := <-seen:
		assert.False(t, day.Before(auth.now), "callback sees the resynced clock")
	case <-time.After(2 * time.Second):
		t.Fatal("day boundary never fired")
	}
}

// ============================================================================
// Test: default instance and authority client
// ============================================================================

func TestInitReplacesDefault(t *testing.T) {
	c := simclock.Init(simclock.Options{RealDayDuration: time.Minute, Logger: zerolog.Nop()})
	assert.Same(t, c, simclock.Default())
}

func TestHTTPAuthority(t *testing.T) {
	ms := epoch.UnixMilli()
	cases := []struct {
		name string
		body string
		code int
		ok   bool
	}{
		{"bare number", "1893456000000", http.StatusOK, true},
		{"object", `{"epoch": 1893456000000}`, http.StatusOK, true},
		{"garbage", `"soon"`, http.StatusOK, false},
		{"server error", "oops", http.StatusInternalServerError, false},
	}
	require.Equal(t, int64(1893456000000), ms)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			got, err := simclock.NewHTTPAuthority(srv.URL, time.Second).Now(context.Background())
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, epoch, got)
		})
	}
}

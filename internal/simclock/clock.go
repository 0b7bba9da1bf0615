package simclock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"SimBank/internal/observability"

	"github.com/rs/zerolog"
)

// SimDay is the virtual length of one simulated day.
const SimDay = 24 * time.Hour

// Clock is the read side every other component depends on.
type Clock interface {
	Now() time.Time
}

// DayFunc runs at every simulated day boundary. day is the simulated
// instant of the boundary.
type DayFunc func(ctx context.Context, day time.Time)

// anchor pairs a virtual instant with the wall-clock instant it was observed at.
// It is only ever replaced as a whole.
type anchor struct {
	virtual time.Time
	real    time.Time
}

type Options struct {
	// RealDayDuration is how much wall-clock time one simulated day takes.
	RealDayDuration time.Duration

	// Authority is consulted once per simulated day; nil disables resync.
	Authority     Authority
	ResyncTimeout time.Duration

	// Wall defaults to time.Now.
	Wall    func() time.Time
	Logger  zerolog.Logger
	Metrics *observability.Metrics
}

// SimClock maps wall-clock time onto an accelerated virtual timeline.
type SimClock struct {
	opts Options

	anchor atomic.Pointer[anchor]
	frozen atomic.Pointer[time.Time]

	mu      sync.Mutex // guards the lifecycle fields below
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(opts Options) *SimClock {
	if opts.RealDayDuration <= 0 {
		opts.RealDayDuration = 2 * time.Minute
	}
	if opts.ResyncTimeout <= 0 {
		opts.ResyncTimeout = 5 * time.Second
	}
	if opts.Wall == nil {
		opts.Wall = time.Now
	}
	return &SimClock{opts: opts}
}

var (
	defaultMu    sync.RWMutex
	defaultClock = New(Options{Logger: zerolog.Nop()})
)

// Init replaces the process-wide clock. Called once at startup.
func Init(opts Options) *SimClock {
	c := New(opts)
	defaultMu.Lock()
	old := defaultClock
	defaultClock = c
	defaultMu.Unlock()
	old.Stop()
	return c
}

// Default returns the process-wide clock.
func Default() *SimClock {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultClock
}

// Start anchors the virtual epoch to the current wall-clock instant and
// schedules the day-boundary loop. Calling Start again cancels the previous
// schedule first.
func (c *SimClock) Start(epoch time.Time, onDay DayFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopCh)
	}

	c.frozen.Store(nil)
	c.anchor.Store(&anchor{virtual: epoch.UTC(), real: c.opts.Wall()})

	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true

	go c.run(c.stopCh, c.doneCh, onDay)

	c.opts.Logger.Info().
		Time("epoch", epoch.UTC()).
		Dur("real_day", c.opts.RealDayDuration).
		Msg("simulated clock started")
}

// Stop cancels the schedule. Now is frozen at the instant of the call.
// A day callback already in flight is left to finish.
func (c *SimClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	last := c.Now()
	c.frozen.Store(&last)
	close(c.stopCh)
	c.running = false

	c.opts.Logger.Info().Time("frozen_at", last).Msg("simulated clock stopped")
}

// Wait blocks until the loop of the most recent Start has exited.
func (c *SimClock) Wait() {
	c.mu.Lock()
	done := c.doneCh
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *SimClock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Now returns the simulated instant. Before the first Start it is the wall clock.
func (c *SimClock) Now() time.Time {
	if f := c.frozen.Load(); f != nil {
		return *f
	}
	a := c.anchor.Load()
	if a == nil {
		return c.opts.Wall().UTC()
	}
	return a.at(c.opts.Wall(), c.opts.RealDayDuration)
}

func (a *anchor) at(wall time.Time, realDay time.Duration) time.Time {
	elapsed := wall.Sub(a.real)
	if elapsed < 0 {
		elapsed = 0
	}
	ratio := float64(SimDay) / float64(realDay)
	return a.virtual.Add(time.Duration(float64(elapsed) * ratio))
}

// Resync pulls the authority's current simulated time and re-anchors on it.
// It returns the measured drift (authority minus local).
func (c *SimClock) Resync(ctx context.Context) (time.Duration, error) {
	if c.opts.Authority == nil {
		return 0, nil
	}
	before := c.anchor.Load()
	if before == nil {
		return 0, nil
	}

	authNow, err := c.opts.Authority.Now(ctx)
	if err != nil {
		if c.opts.Metrics != nil {
			c.opts.Metrics.ClockResyncFailures.Inc()
		}
		return 0, err
	}

	wall := c.opts.Wall()
	local := before.at(wall, c.opts.RealDayDuration)
	drift := authNow.Sub(local)

	// A concurrent Start wins; its anchor is newer than anything we fetched.
	if !c.anchor.CompareAndSwap(before, &anchor{virtual: authNow.UTC(), real: wall}) {
		return 0, nil
	}

	if c.opts.Metrics != nil {
		c.opts.Metrics.ClockDriftSeconds.Set(drift.Seconds())
	}
	return drift, nil
}

func (c *SimClock) run(stop <-chan struct{}, done chan<- struct{}, onDay DayFunc) {
	defer close(done)

	// time.Ticker drops ticks for a slow receiver, so a long day callback
	// delays the next one instead of overlapping it.
	ticker := time.NewTicker(c.opts.RealDayDuration)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ResyncTimeout)
		drift, err := c.Resync(ctx)
		cancel()
		if err != nil {
			c.opts.Logger.Warn().Err(err).Msg("clock resync failed, retrying next day")
		} else if drift != 0 {
			c.opts.Logger.Debug().Dur("drift", drift).Msg("clock resynced")
		}

		select {
		case <-stop:
			return
		default:
		}

		if onDay != nil {
			onDay(context.Background(), c.Now())
		}
	}
}

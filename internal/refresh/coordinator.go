// Package refresh schedules port scans and publishes their snapshots.
//
// A single worker goroutine runs every scan, so at most one scan is in
// flight. Refresh requests that arrive mid-scan are coalesced into one
// follow-up scan. Readers always see the last complete snapshot until
// the next one is swapped in.
package refresh

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lu-zhengda/portscope/internal/port"
)

// Scanner produces snapshots. A non-nil error marks a degraded cycle;
// the snapshot is still valid (usually empty).
type Scanner interface {
	Scan(ctx context.Context) (port.Snapshot, error)
}

// State is the coordinator's scheduling state.
type State int

const (
	Idle State = iota
	Scanning
	Paused
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Paused:
		return "paused"
	default:
		return "idle"
	}
}

// EventKind identifies a coordinator notification.
type EventKind int

const (
	ScanStarted EventKind = iota
	ScanEnded
	SnapshotUpdated
	StateChanged
)

// Event is published to the presentation layer.
type Event struct {
	Kind      EventKind
	State     State
	Snapshot  *port.Snapshot // SnapshotUpdated only
	Err       error          // ScanEnded: failure of the finished cycle, if any
	Failures  int            // consecutive failed cycles
	Discarded bool           // ScanEnded: result dropped because of a pause
}

type published struct {
	latest   *port.Snapshot
	previous *port.Snapshot
}

// Coordinator owns the scan cadence and the published snapshots.
type Coordinator struct {
	scanner Scanner
	logger  *slog.Logger
	metrics *Metrics

	mu       sync.Mutex
	interval time.Duration
	paused   bool
	pauseGen uint64
	scanning bool
	pending  bool
	failures int

	snap atomic.Pointer[published]

	wake   chan struct{}
	reset  chan struct{}
	events chan Event
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records scan activity in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Coordinator) { c.events = make(chan Event, n) }
}

// New creates a Coordinator scanning every interval.
func New(scanner Scanner, interval time.Duration, opts ...Option) *Coordinator {
	c := &Coordinator{
		scanner:  scanner,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		interval: interval,
		wake:     make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
		events:   make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(&published{})
	return c
}

// Events returns the notification stream. Notifications are dropped
// rather than blocking the worker when the consumer falls behind;
// Latest always reflects the newest snapshot.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// Latest returns the most recent published snapshot, or nil before the
// first scan completes.
func (c *Coordinator) Latest() *port.Snapshot {
	return c.snap.Load().latest
}

// Previous returns the snapshot Latest superseded.
func (c *Coordinator) Previous() *port.Snapshot {
	return c.snap.Load().previous
}

// State returns the current scheduling state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Coordinator) stateLocked() State {
	switch {
	case c.paused:
		return Paused
	case c.scanning:
		return Scanning
	default:
		return Idle
	}
}

// Failures returns the number of consecutive failed scans.
func (c *Coordinator) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Interval returns the scan cadence.
func (c *Coordinator) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// SetInterval changes the scan cadence, effective from the next tick.
func (c *Coordinator) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
	c.signal(c.reset)
}

// Refresh requests a scan. While a scan is in flight the request is
// coalesced into exactly one follow-up scan. Requests while paused are
// ignored and reported as false.
func (c *Coordinator) Refresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused {
		c.metrics.request("ignored")
		return false
	}
	if c.scanning {
		if c.pending {
			c.metrics.request("coalesced")
		} else {
			c.pending = true
			c.metrics.request("scheduled")
		}
		return true
	}
	if c.signal(c.wake) {
		c.metrics.request("scheduled")
	} else {
		c.metrics.request("coalesced")
	}
	return true
}

// RefreshAfter requests a scan once d has elapsed.
func (c *Coordinator) RefreshAfter(d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() { c.Refresh() })
}

// Pause suspends the timer. A scan already in flight runs to completion
// but its result is discarded.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = true
	c.pauseGen++
	c.pending = false
	c.mu.Unlock()

	c.logger.Debug("refresh paused")
	c.emit(Event{Kind: StateChanged, State: Paused})
	c.signal(c.reset)
}

// Resume restarts the timer and immediately requests a scan.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return
	}
	c.paused = false
	if c.scanning {
		c.pending = true
	} else {
		c.signal(c.wake)
	}
	state := c.stateLocked()
	c.mu.Unlock()

	c.logger.Debug("refresh resumed")
	c.emit(Event{Kind: StateChanged, State: state})
	c.signal(c.reset)
}

// TogglePause pauses when running and resumes when paused. It returns
// true when the coordinator is paused afterwards.
func (c *Coordinator) TogglePause() bool {
	if c.State() == Paused {
		c.Resume()
		return false
	}
	c.Pause()
	return true
}

// Run drives the scan loop until ctx is done. It performs an initial
// scan immediately.
func (c *Coordinator) Run(ctx context.Context) error {
	c.Refresh()

	timer := time.NewTimer(c.Interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.wake:
			c.cycle(ctx)
		case <-timer.C:
			c.cycle(ctx)
		case <-c.reset:
		}

		if c.State() == Paused {
			timer.Stop()
		} else {
			timer.Reset(c.Interval())
		}
	}
}

// cycle runs one scan plus any coalesced follow-up.
func (c *Coordinator) cycle(ctx context.Context) {
	c.mu.Lock()
	if c.paused || c.scanning {
		c.mu.Unlock()
		return
	}
	c.scanning = true
	c.pending = false
	c.mu.Unlock()

	// Requests that raced in before scanning was set are served by this scan.
	select {
	case <-c.wake:
	default:
	}

	for {
		c.mu.Lock()
		gen := c.pauseGen
		c.mu.Unlock()

		c.emit(Event{Kind: ScanStarted, State: Scanning})
		start := time.Now()
		snap, err := c.scanner.Scan(ctx)
		elapsed := time.Since(start)

		c.mu.Lock()
		discard := c.paused || c.pauseGen != gen || ctx.Err() != nil
		if err != nil {
			c.failures++
		} else {
			c.failures = 0
		}
		failures := c.failures
		again := c.pending && !c.paused && ctx.Err() == nil
		c.pending = false
		if !again {
			c.scanning = false
		}
		state := c.stateLocked()
		c.mu.Unlock()

		c.metrics.observe(elapsed, err, discard, snap.Len(), failures)

		if err != nil {
			c.logger.Warn("scan failed", "err", err, "consecutive", failures)
		}

		switch {
		case discard:
			c.logger.Debug("discarding scan result after pause", "records", snap.Len())
			c.emit(Event{Kind: ScanEnded, State: state, Err: err, Failures: failures, Discarded: true})
		case err != nil:
			// No data this cycle; the last good snapshot stays published.
			c.emit(Event{Kind: ScanEnded, State: state, Err: err, Failures: failures})
		default:
			s := &snap
			prev := c.snap.Load()
			c.snap.Store(&published{latest: s, previous: prev.latest})
			c.logger.Debug("snapshot published", "records", s.Len(), "elapsed", elapsed)
			c.emit(Event{Kind: ScanEnded, State: state, Failures: failures})
			c.emit(Event{Kind: SnapshotUpdated, State: state, Snapshot: s, Failures: failures})
		}

		if !again {
			return
		}
	}
}

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event dropped, consumer is behind", "kind", ev.Kind)
	}
}

// signal does a non-blocking send on a capacity-1 channel and reports
// whether the signal was newly queued.
func (c *Coordinator) signal(ch chan struct{}) bool {
	select {
	case ch <- struct{}{}:
		return true
	default:
		return false
	}
}

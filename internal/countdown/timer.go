// Package countdown implements the quiz countdown on top of a clockwork.Clock.
//
// Remaining time is derived from an absolute deadline each time the driver
// ticks, so a late or skipped tick never makes the countdown drift.
package countdown

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultInterval is the driver period. Observable state still moves in whole seconds.
const DefaultInterval = 500 * time.Millisecond

// State is the observable countdown.
type State struct {
	RemainingSeconds int  `json:"remainingSeconds"`
	Running          bool `json:"running"`
}

// Timer counts down from Start and signals expiry once per cycle.
type Timer struct {
	clock    clockwork.Clock
	interval time.Duration
	onExpire func(cycle uint64)
	onTick   func(cycle uint64, st State)

	mu        sync.Mutex
	cycle     uint64
	startedAt time.Time
	total     int
	remaining int
	running   bool
	fired     bool
}

type Option func(*Timer)

// WithInterval sets the driver period used by Run.
func WithInterval(d time.Duration) Option {
	return func(t *Timer) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithExpiry registers the expiry callback. It runs on the ticking goroutine
// after the timer's lock is released.
func WithExpiry(fn func(cycle uint64)) Option {
	return func(t *Timer) { t.onExpire = fn }
}

// WithTick registers a callback for every observable change of State.
func WithTick(fn func(cycle uint64, st State)) Option {
	return func(t *Timer) { t.onTick = fn }
}

func New(clock clockwork.Clock, opts ...Option) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &Timer{clock: clock, interval: DefaultInterval}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins a new cycle of the given length and returns its identifier.
// Any expiry pending from an earlier cycle is cancelled.
func (t *Timer) Start(minutes int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycle++
	t.startedAt = t.clock.Now()
	t.total = minutes * 60
	t.remaining = t.total
	t.running = true
	t.fired = false
	return t.cycle
}

// Stop pauses the countdown; the remaining value is kept.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{RemainingSeconds: t.remaining, Running: t.running}
}

// Display renders the remaining time as MM:SS.
func (t *Timer) Display() string {
	return Format(t.State().RemainingSeconds)
}

// Tick re-evaluates the countdown against the clock. A tick with no running
// countdown is ignored.
func (t *Timer) Tick() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	elapsed := int(t.clock.Since(t.startedAt) / time.Second)
	left := t.total - elapsed
	if left == t.remaining {
		t.mu.Unlock()
		return
	}

	expired := false
	if left < 0 {
		t.remaining = 0
		t.running = false
		if !t.fired {
			t.fired = true
			expired = true
		}
	} else {
		t.remaining = left
	}
	cycle := t.cycle
	st := State{RemainingSeconds: t.remaining, Running: t.running}
	onTick, onExpire := t.onTick, t.onExpire
	t.mu.Unlock()

	if onTick != nil {
		onTick(cycle, st)
	}
	if expired && onExpire != nil {
		onExpire(cycle)
	}
}

// Run drives Tick on the configured interval until ctx is done.
func (t *Timer) Run(ctx context.Context) error {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			t.Tick()
		}
	}
}

// Format renders seconds as zero-padded minutes and seconds.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

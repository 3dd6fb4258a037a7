package jobs

import (
	"fmt"
	"sync"
	"time"
)

// Timer tracks wall-clock elapsed time for the active job and reports it in
// hh:mm:ss form on a one second cadence. It is the only component in the
// core that owns a live ticker resource.
type Timer struct {
	mu          sync.Mutex
	now         func() time.Time
	interval    time.Duration
	onTick      func(elapsed string)
	running     bool
	startedAt   time.Time
	accumulated time.Duration
	stopCh      chan struct{}
}

// NewTimer creates a stopped timer with a one second tick cadence.
func NewTimer() *Timer {
	return &Timer{
		now:      time.Now,
		interval: time.Second,
	}
}

// NewTimerForTests creates a timer with injectable clock and cadence.
func NewTimerForTests(now func() time.Time, interval time.Duration) *Timer {
	return &Timer{
		now:      now,
		interval: interval,
	}
}

// OnTick registers the callback invoked with the formatted elapsed value on
// every tick. Must be set before Start.
func (t *Timer) OnTick(cb func(elapsed string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = cb
}

// Start begins ticking. Calling Start while already running is a no-op so a
// duplicate call never spawns a second tick loop.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return
	}
	t.running = true
	t.startedAt = t.now()
	t.stopCh = make(chan struct{})

	go t.tickLoop(t.stopCh)
}

// Stop halts ticking and freezes the elapsed value.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

// Reset halts any pending tick and zeroes elapsed time.
func (t *Timer) Reset() {
	t.mu.Lock()
	t.stopLocked()
	t.accumulated = 0
	cb := t.onTick
	t.mu.Unlock()

	if cb != nil {
		cb(FormatElapsed(0))
	}
}

// Elapsed returns the current elapsed value formatted hh:mm:ss.
func (t *Timer) Elapsed() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return FormatElapsed(t.elapsedLocked())
}

// Running reports whether the tick loop is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// stopLocked accumulates elapsed time and cancels the tick loop.
// Caller must hold t.mu.
func (t *Timer) stopLocked() {
	if !t.running {
		return
	}
	t.accumulated += t.now().Sub(t.startedAt)
	t.running = false
	close(t.stopCh)
	t.stopCh = nil
}

// elapsedLocked computes total elapsed duration. Caller must hold t.mu.
func (t *Timer) elapsedLocked() time.Duration {
	if t.running {
		return t.accumulated + t.now().Sub(t.startedAt)
	}
	return t.accumulated
}

// tickLoop invokes the tick callback until the stop channel closes.
func (t *Timer) tickLoop(stopCh chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.mu.Lock()
			cb := t.onTick
			elapsed := FormatElapsed(t.elapsedLocked())
			t.mu.Unlock()

			if cb != nil {
				cb(elapsed)
			}
		}
	}
}

// FormatElapsed renders a duration as hh:mm:ss, truncating sub-second parts.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

package sequence

import (
	"sync"
	"time"
)

// pausableTimer is a single-shot timer whose remaining time can be
// banked across a pause and restarted later. A generation counter
// invalidates callbacks from superseded arms.
type pausableTimer struct {
	fn func()

	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	deadline  time.Time
	remaining time.Duration
	active    bool
}

func newPausableTimer(fn func()) *pausableTimer {
	return &pausableTimer{fn: fn}
}

// Start arms the timer for d, discarding any previous arm and any
// banked remainder.
func (t *pausableTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = true
	t.remaining = 0
	t.deadline = time.Now().Add(d)
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
	t.mu.Unlock()
}

func (t *pausableTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	t.mu.Unlock()

	// Callback runs outside the timer mutex so it may re-arm.
	t.fn()
}

// Stop disarms the timer and clears any banked remainder.
func (t *pausableTimer) Stop() {
	t.mu.Lock()
	t.gen++
	t.active = false
	t.remaining = 0
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

// Pause disarms an active timer and banks its remaining time for a
// later Resume. Pausing an inactive timer is a no-op.
func (t *pausableTimer) Pause() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.gen++
	t.active = false
	rem := time.Until(t.deadline)
	if rem < 0 {
		rem = 0
	}
	t.remaining = rem
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

// Resume restarts the timer with the banked remainder, if any, and
// reports whether it restarted.
func (t *pausableTimer) Resume() bool {
	t.mu.Lock()
	rem := t.remaining
	t.remaining = 0
	t.mu.Unlock()

	if rem <= 0 {
		return false
	}
	t.Start(rem)
	return true
}

// Active reports whether the timer is currently armed.
func (t *pausableTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

package hud

import (
	"sync"
	"time"
)

// DefaultEmitWindow is the change-notification coalescing window.
const DefaultEmitWindow = 50 * time.Millisecond

// EmitThrottle coalesces change notifications: the first call in a quiet
// period emits immediately, further calls within the window collapse into a
// single trailing emission. Every burst therefore ends with at least one
// emission.
type EmitThrottle struct {
	mu       sync.Mutex
	emit     func()
	window   time.Duration
	timer    *time.Timer
	pending  bool
	lastEmit time.Time
	closed   bool
}

// NewEmitThrottle wraps emit with the coalescing window. A non-positive
// window selects the default.
func NewEmitThrottle(emit func(), window time.Duration) *EmitThrottle {
	if window <= 0 {
		window = DefaultEmitWindow
	}
	return &EmitThrottle{emit: emit, window: window}
}

// Emit requests a change notification.
func (t *EmitThrottle) Emit() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	now := time.Now()
	elapsed := now.Sub(t.lastEmit)
	if elapsed >= t.window && !t.pending {
		t.lastEmit = now
		t.mu.Unlock()
		t.emit()
		return
	}

	if !t.pending {
		t.pending = true
		t.timer = time.AfterFunc(t.window-elapsed, t.fire)
	}
	t.mu.Unlock()
}

func (t *EmitThrottle) fire() {
	t.mu.Lock()
	if t.closed || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.lastEmit = time.Now()
	t.mu.Unlock()

	t.emit()
}

// Flush delivers a pending trailing emission immediately.
func (t *EmitThrottle) Flush() {
	t.mu.Lock()
	if t.closed || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
	}
	t.lastEmit = time.Now()
	t.mu.Unlock()

	t.emit()
}

// Close drops any pending emission and ignores further calls.
func (t *EmitThrottle) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

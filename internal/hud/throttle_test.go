package hud

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestThrottleCoalescesBurst(t *testing.T) {
	var emits int64
	throttle := NewEmitThrottle(func() { atomic.AddInt64(&emits, 1) }, 30*time.Millisecond)
	defer throttle.Close()

	// Leading edge fires immediately; the rest of the burst collapses
	// into one trailing emission.
	for i := 0; i < 10; i++ {
		throttle.Emit()
	}

	if got := atomic.LoadInt64(&emits); got != 1 {
		t.Errorf("emits right after burst = %d, want 1 (leading)", got)
	}

	time.Sleep(60 * time.Millisecond)
	if got := atomic.LoadInt64(&emits); got != 2 {
		t.Errorf("emits after window = %d, want 2 (leading + trailing)", got)
	}
}

func TestThrottleTrailingAlwaysRuns(t *testing.T) {
	var emits int64
	throttle := NewEmitThrottle(func() { atomic.AddInt64(&emits, 1) }, 20*time.Millisecond)
	defer throttle.Close()

	for burst := 0; burst < 3; burst++ {
		throttle.Emit()
		throttle.Emit()
		time.Sleep(50 * time.Millisecond)
	}

	// Each burst must end with at least one emission.
	if got := atomic.LoadInt64(&emits); got < 3 {
		t.Errorf("emits = %d, want at least one per burst (3)", got)
	}
}

func TestThrottleFlushDeliversPending(t *testing.T) {
	var emits int64
	throttle := NewEmitThrottle(func() { atomic.AddInt64(&emits, 1) }, time.Hour)
	defer throttle.Close()

	throttle.Emit() // leading
	throttle.Emit() // pending behind a one-hour window
	throttle.Flush()

	if got := atomic.LoadInt64(&emits); got != 2 {
		t.Errorf("emits after flush = %d, want 2", got)
	}

	// Nothing pending now; Flush is a no-op.
	throttle.Flush()
	if got := atomic.LoadInt64(&emits); got != 2 {
		t.Errorf("emits after second flush = %d, want 2", got)
	}
}

func TestThrottleCloseDropsPending(t *testing.T) {
	var emits int64
	throttle := NewEmitThrottle(func() { atomic.AddInt64(&emits, 1) }, 20*time.Millisecond)

	throttle.Emit()
	throttle.Emit()
	throttle.Close()

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt64(&emits); got != 1 {
		t.Errorf("emits after close = %d, want 1 (pending dropped)", got)
	}

	throttle.Emit()
	if got := atomic.LoadInt64(&emits); got != 1 {
		t.Errorf("emit after close fired: %d", got)
	}
}

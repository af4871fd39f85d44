package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scoundrelhq/warchest/internal/errs"
)

func TestLockKeyPositional(t *testing.T) {
	a := LockKey("swap", "alpha", "")
	b := LockKey("swap", "alpha", "mintX")
	c := LockKey("swap", "", "mintX")
	if a == b || a == c || b == c {
		t.Fatalf("expected distinct keys, got %q %q %q", a, b, c)
	}
}

func TestLockBusyWithoutWait(t *testing.T) {
	table := NewLockTable()
	key := LockKey("swap", "alpha", "m1")

	release, err := table.Acquire(context.Background(), key, false)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	if _, err := table.Acquire(context.Background(), key, false); !errs.Is(err, errs.KindBusy) {
		t.Fatalf("expected Busy, got %v", err)
	}

	release()
	release2, err := table.Acquire(context.Background(), key, false)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	release2()
}

func TestLockWaitTimesOut(t *testing.T) {
	table := NewLockTable()
	key := LockKey("swap", "alpha", "m1")

	release, err := table.Acquire(context.Background(), key, true)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := table.Acquire(ctx, key, true); !errs.Is(err, errs.KindTimeout) {
		t.Fatalf("expected Timeout, got %v", err)
	}
	if !table.Held(key) {
		t.Fatal("lock should still be held by the first owner")
	}
}

func TestLockHandoffIsFIFO(t *testing.T) {
	table := NewLockTable()
	key := LockKey("swap", "alpha", "m1")

	release, err := table.Acquire(context.Background(), key, true)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	const waiters = 5
	order := make(chan int, waiters)
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rel, err := table.Acquire(context.Background(), key, true)
			if err != nil {
				t.Errorf("waiter %d failed: %v", id, err)
				return
			}
			order <- id
			rel()
		}(i)
		// Wait until this waiter is queued so position matches id.
		deadline := time.Now().Add(2 * time.Second)
		for table.WaiterCount(key) != i+1 {
			if time.Now().After(deadline) {
				t.Fatalf("waiter %d never queued", i)
			}
			time.Sleep(time.Millisecond)
		}
	}

	release()
	wg.Wait()
	close(order)

	want := 0
	for got := range order {
		if got != want {
			t.Fatalf("handoff order: got waiter %d, want %d", got, want)
		}
		want++
	}
	if want != waiters {
		t.Fatalf("expected %d grants, got %d", waiters, want)
	}

	if table.Held(key) {
		t.Fatal("lock should be free after all releases")
	}
}

func TestLockReleaseIsIdempotent(t *testing.T) {
	table := NewLockTable()
	key := LockKey("tx-monitor", "alpha", "")

	release, err := table.Acquire(context.Background(), key, false)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()
	release()

	// A double release must not free a lock someone else now holds.
	release2, err := table.Acquire(context.Background(), key, false)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	release()
	if !table.Held(key) {
		t.Fatal("stale release freed the new owner's lock")
	}
	release2()
}

func TestLockIndependentKeys(t *testing.T) {
	table := NewLockTable()

	relA, err := table.Acquire(context.Background(), LockKey("swap", "alpha", "m1"), false)
	if err != nil {
		t.Fatalf("alpha acquire failed: %v", err)
	}
	relB, err := table.Acquire(context.Background(), LockKey("swap", "bravo", "m1"), false)
	if err != nil {
		t.Fatalf("bravo acquire failed: %v", err)
	}
	relA()
	relB()
}

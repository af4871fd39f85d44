package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/scoundrelhq/warchest/internal/errs"
)

// LockKey builds the single-flight key for a dispatch. Wallet and mint are
// positional so a wallet-only key never collides with a wallet+mint key.
func LockKey(worker, wallet, mint string) string {
	return worker + ":" + wallet + ":" + mint
}

// lockEntry is one named lock: a held flag plus the FIFO waiter queue.
type lockEntry struct {
	held    bool
	waiters []chan struct{}
}

// LockTable hands out named locks with FIFO handoff. A release passes
// ownership directly to the oldest waiter, so arrival order is grant order.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*lockEntry)}
}

// Acquire takes the named lock. When the lock is held: with wait=false it
// fails Busy immediately, otherwise it queues until ownership is handed
// over or ctx expires (Timeout). The returned release must be called
// exactly once.
func (t *LockTable) Acquire(ctx context.Context, key string, wait bool) (func(), error) {
	t.mu.Lock()
	entry := t.locks[key]
	if entry == nil {
		entry = &lockEntry{}
		t.locks[key] = entry
	}
	if !entry.held {
		entry.held = true
		t.mu.Unlock()
		return t.releaseFunc(key), nil
	}
	if !wait {
		t.mu.Unlock()
		return nil, errs.E(errs.KindBusy, "hub.lock", fmt.Sprintf("%s already in flight", key))
	}
	grant := make(chan struct{})
	entry.waiters = append(entry.waiters, grant)
	t.mu.Unlock()

	select {
	case <-grant:
		return t.releaseFunc(key), nil
	case <-ctx.Done():
		t.mu.Lock()
		if removed := removeWaiter(entry, grant); !removed {
			// Ownership arrived while we were giving up; pass it on.
			t.handoffLocked(key, entry)
		}
		t.cleanupLocked(key, entry)
		t.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errs.E(errs.KindTimeout, "hub.lock", fmt.Errorf("timed out waiting for %s", key))
		}
		return nil, errs.E(errs.KindUnavailable, "hub.lock", ctx.Err())
	}
}

func (t *LockTable) releaseFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if entry := t.locks[key]; entry != nil {
				t.handoffLocked(key, entry)
				t.cleanupLocked(key, entry)
			}
			t.mu.Unlock()
		})
	}
}

// handoffLocked grants the lock to the oldest waiter, or marks it free.
func (t *LockTable) handoffLocked(key string, entry *lockEntry) {
	if len(entry.waiters) > 0 {
		next := entry.waiters[0]
		entry.waiters = entry.waiters[1:]
		close(next)
		return
	}
	entry.held = false
}

func (t *LockTable) cleanupLocked(key string, entry *lockEntry) {
	if !entry.held && len(entry.waiters) == 0 {
		delete(t.locks, key)
	}
}

// removeWaiter drops grant from the queue; false means the grant already
// fired and the caller owns the lock.
func removeWaiter(entry *lockEntry, grant chan struct{}) bool {
	for i, w := range entry.waiters {
		if w == grant {
			entry.waiters = append(entry.waiters[:i], entry.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Held reports whether the named lock is currently taken. Test hook.
func (t *LockTable) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.locks[key]
	return entry != nil && entry.held
}

// WaiterCount reports the queue depth behind the named lock. Test hook.
func (t *LockTable) WaiterCount(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry := t.locks[key]; entry != nil {
		return len(entry.waiters)
	}
	return 0
}

package hud

import "sync"

// SnapshotProvider produces the current snapshot for the store.
type SnapshotProvider func() *Snapshot

// Store is the subscription surface over the HUD snapshot. It never
// throttles; callers that need coalescing wrap EmitChange in an
// EmitThrottle.
type Store struct {
	mu        sync.Mutex
	provider  SnapshotProvider
	listeners map[int]func(*Snapshot)
	nextID    int
}

// NewStore wraps a snapshot provider.
func NewStore(provider SnapshotProvider) *Store {
	return &Store{
		provider:  provider,
		listeners: make(map[int]func(*Snapshot)),
	}
}

// GetSnapshot returns a one-level copy of the provider's snapshot: a fresh
// outer struct and a fresh State map. Entries are shared, so replacing keys
// in the returned copy never affects the store.
func (s *Store) GetSnapshot() *Snapshot {
	snap := s.provider()
	if snap == nil {
		return &Snapshot{State: map[string]*WalletState{}}
	}

	state := make(map[string]*WalletState, len(snap.State))
	for alias, w := range snap.State {
		state[alias] = w
	}
	txs := make([]*TransactionRow, len(snap.Transactions))
	copy(txs, snap.Transactions)

	return &Snapshot{
		State:        state,
		Transactions: txs,
		Service:      snap.Service,
	}
}

// Subscribe registers a listener invoked with a fresh snapshot on every
// EmitChange. The returned function removes the listener; calling it twice
// is safe.
func (s *Store) Subscribe(listener func(*Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// EmitChange notifies every listener with a fresh snapshot. Listeners for a
// single emission observe the same snapshot copy basis but each receives its
// own top-level copy.
func (s *Store) EmitChange() {
	s.mu.Lock()
	listeners := make([]func(*Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(s.GetSnapshot())
	}
}

// RemoveAllListeners drops every subscription; used at shutdown.
func (s *Store) RemoveAllListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = make(map[int]func(*Snapshot))
}

// ListenerCount reports the number of active subscriptions.
func (s *Store) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Package scheduler debounces per-wallet refresh triggers. Every wallet
// gets a trailing debounce window, at most one refresh in flight, and at
// most one queued follow-up that re-enters the debounce window after the
// current run completes. Wallets refresh independently of each other.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RefreshFunc runs one wallet refresh. The reason tag carries what woke
// the wallet, typically a transaction signature.
type RefreshFunc func(ctx context.Context, alias, reason string) error

type walletState struct {
	mu sync.Mutex
	// gen identifies the currently armed timer. A fire carrying a stale
	// generation lost to a newer trigger and must not run.
	gen          uint64
	timer        *time.Timer
	inFlight     bool
	queued       bool
	queuedReason string
	lastReason   string
}

// Scheduler owns the debounce state for a fixed set of wallet aliases.
type Scheduler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	debounce time.Duration
	refresh  RefreshFunc
	logger   *zap.Logger
	wg       sync.WaitGroup

	mu      sync.Mutex
	wallets map[string]*walletState
	closed  bool
}

// New builds a scheduler for the given aliases. The alias set is fixed
// for the scheduler's lifetime; triggers for anything else are ignored.
func New(parent context.Context, aliases []string, debounce time.Duration, refresh RefreshFunc, logger *zap.Logger) *Scheduler {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)

	wallets := make(map[string]*walletState, len(aliases))
	for _, alias := range aliases {
		wallets[alias] = &walletState{}
	}
	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		debounce: debounce,
		refresh:  refresh,
		logger:   logger.Named("scheduler"),
		wallets:  wallets,
	}
}

// Trigger requests a refresh for alias. During the debounce window the
// timer restarts and the newest reason wins; during an in-flight run the
// trigger collapses into the single queued follow-up.
func (s *Scheduler) Trigger(alias, reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	st, ok := s.wallets[alias]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("Ignoring refresh trigger for unknown wallet",
			zap.String("wallet", alias),
			zap.String("reason", reason))
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.inFlight {
		st.queued = true
		st.queuedReason = reason
		return
	}
	st.lastReason = reason
	s.armLocked(alias, st)
}

// armLocked starts a fresh debounce timer under st.mu, invalidating any
// timer that already expired but has not run yet.
func (s *Scheduler) armLocked(alias string, st *walletState) {
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.timer = time.AfterFunc(s.debounce, func() { s.fire(alias, st, gen) })
}

// fire runs the refresh once the debounce window closes.
func (s *Scheduler) fire(alias string, st *walletState, gen uint64) {
	if !s.beginWork() {
		return
	}
	defer s.wg.Done()

	st.mu.Lock()
	if gen != st.gen {
		// A trigger re-armed the window between this timer expiring and
		// the callback taking the lock; the newer timer owns the refresh.
		st.mu.Unlock()
		return
	}
	if st.inFlight {
		st.queued = true
		st.queuedReason = st.lastReason
		st.mu.Unlock()
		return
	}
	st.timer = nil
	st.inFlight = true
	reason := st.lastReason
	st.mu.Unlock()

	if err := s.refresh(s.ctx, alias, reason); err != nil {
		s.logger.Warn("Wallet refresh failed",
			zap.String("wallet", alias),
			zap.String("reason", reason),
			zap.Error(err))
	} else {
		s.logger.Debug("Wallet refreshed",
			zap.String("wallet", alias),
			zap.String("reason", reason))
	}

	st.mu.Lock()
	st.inFlight = false
	requeue := st.queued
	if requeue {
		st.queued = false
		st.lastReason = st.queuedReason
	}
	st.mu.Unlock()

	if requeue {
		s.rearm(alias, st)
	}
}

// rearm schedules the queued follow-up through a fresh debounce window.
func (s *Scheduler) rearm(alias string, st *walletState) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s.armLocked(alias, st)
}

// beginWork reserves a wait-group slot unless the scheduler has closed.
func (s *Scheduler) beginWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// Close stops pending timers, cancels in-flight refreshes, and waits for
// them to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wallets := s.wallets
	s.mu.Unlock()

	for _, st := range wallets {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.queued = false
		st.mu.Unlock()
	}

	s.cancel()
	s.wg.Wait()
}

// Package chainstate holds the process-wide chain and live wallet state
// shared between the service loop, the refresh scheduler, and hub workers.
// Writers use the explicit Update verbs; readers get copies.
package chainstate

import (
	"math"
	"strconv"
	"sync"
	"time"
)

// ChainView is the read-only chain state: latest slot, parent, root, and
// when the last slot event arrived (unix ms, 0 before the first event).
type ChainView struct {
	Slot       uint64
	Parent     uint64
	Root       uint64
	LastSlotAt int64
}

// ChainState tracks slot progression from the slot subscription.
type ChainState struct {
	mu   sync.RWMutex
	view ChainView
}

func NewChainState() *ChainState {
	return &ChainState{}
}

// Update applies a typed slot event; nil fields are left untouched.
func (c *ChainState) Update(slot, parent, root *uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if slot != nil {
		c.view.Slot = *slot
	}
	if parent != nil {
		c.view.Parent = *parent
	}
	if root != nil {
		c.view.Root = *root
	}
	c.view.LastSlotAt = time.Now().UnixMilli()
}

// UpdateFromSlotEvent applies a loosely shaped slot event, coercing fields
// to numbers where convertible. Partial events are tolerated; fields that
// are absent or not convertible leave the previous value in place.
func (c *ChainState) UpdateFromSlotEvent(raw map[string]interface{}) {
	c.Update(coerceUint(raw["slot"]), coerceUint(raw["parent"]), coerceUint(raw["root"]))
}

// Get returns the current view.
func (c *ChainState) Get() ChainView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// LiveToken is one token entry of the live wallet state.
type LiveToken struct {
	Amount   *float64
	Decimals *int
	Symbol   string
	PriceUsd *float64
}

// LiveWallet is the read-only per-pubkey view.
type LiveWallet struct {
	SolLamports    uint64
	SolLastUpdated int64
	LastActivity   int64
	Tokens         map[string]LiveToken
}

// TokenUpdate carries the fields of an updateToken call; only non-nil
// fields overwrite.
type TokenUpdate struct {
	Amount   *float64
	Decimals *int
	Symbol   *string
	PriceUsd *float64
}

type liveEntry struct {
	solLamports    uint64
	solLastUpdated int64
	lastActivity   int64
	tokens         map[string]LiveToken
}

// WalletLiveState tracks lamports and token amounts per pubkey. Entries are
// created lazily on first update.
type WalletLiveState struct {
	mu      sync.RWMutex
	wallets map[string]*liveEntry
}

func NewWalletLiveState() *WalletLiveState {
	return &WalletLiveState{wallets: make(map[string]*liveEntry)}
}

// UpdateSol stores a lamport balance for pubkey. Negative or non-finite
// inputs are silently ignored.
func (w *WalletLiveState) UpdateSol(pubkey string, lamports float64) {
	if pubkey == "" || math.IsNaN(lamports) || math.IsInf(lamports, 0) || lamports < 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	entry := w.entryLocked(pubkey)
	now := time.Now().UnixMilli()
	entry.solLamports = uint64(lamports)
	entry.solLastUpdated = now
	entry.lastActivity = now
}

// UpdateToken merges the provided fields into the wallet's token entry,
// creating both lazily.
func (w *WalletLiveState) UpdateToken(pubkey, mint string, update TokenUpdate) {
	if pubkey == "" || mint == "" {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	entry := w.entryLocked(pubkey)
	tok := entry.tokens[mint]
	if update.Amount != nil && !math.IsNaN(*update.Amount) && !math.IsInf(*update.Amount, 0) {
		tok.Amount = update.Amount
	}
	if update.Decimals != nil {
		tok.Decimals = update.Decimals
	}
	if update.Symbol != nil {
		tok.Symbol = *update.Symbol
	}
	if update.PriceUsd != nil && !math.IsNaN(*update.PriceUsd) && !math.IsInf(*update.PriceUsd, 0) {
		tok.PriceUsd = update.PriceUsd
	}
	entry.tokens[mint] = tok
	entry.lastActivity = time.Now().UnixMilli()
}

// Get returns a copy of the wallet's live state; the bool is false when the
// pubkey has never been updated.
func (w *WalletLiveState) Get(pubkey string) (LiveWallet, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	entry, ok := w.wallets[pubkey]
	if !ok {
		return LiveWallet{}, false
	}

	tokens := make(map[string]LiveToken, len(entry.tokens))
	for mint, tok := range entry.tokens {
		tokens[mint] = tok
	}
	return LiveWallet{
		SolLamports:    entry.solLamports,
		SolLastUpdated: entry.solLastUpdated,
		LastActivity:   entry.lastActivity,
		Tokens:         tokens,
	}, true
}

func (w *WalletLiveState) entryLocked(pubkey string) *liveEntry {
	entry, ok := w.wallets[pubkey]
	if !ok {
		entry = &liveEntry{tokens: make(map[string]LiveToken)}
		w.wallets[pubkey] = entry
	}
	return entry
}

var (
	chainOnce sync.Once
	chain     *ChainState

	liveOnce sync.Once
	live     *WalletLiveState
)

// Chain returns the process-wide chain state singleton.
func Chain() *ChainState {
	chainOnce.Do(func() { chain = NewChainState() })
	return chain
}

// Live returns the process-wide wallet live state singleton.
func Live() *WalletLiveState {
	liveOnce.Do(func() { live = NewWalletLiveState() })
	return live
}

func coerceUint(v interface{}) *uint64 {
	switch t := v.(type) {
	case uint64:
		return &t
	case int:
		if t >= 0 {
			u := uint64(t)
			return &u
		}
	case int64:
		if t >= 0 {
			u := uint64(t)
			return &u
		}
	case float64:
		if t >= 0 && !math.IsNaN(t) && !math.IsInf(t, 0) {
			u := uint64(t)
			return &u
		}
	case string:
		if u, err := strconv.ParseUint(t, 10, 64); err == nil {
			return &u
		}
	}
	return nil
}

package hud

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Model is the single owner of the HUD snapshot. All writers (service loop,
// wallet manager, hub apply) mutate through its methods; entries are
// replaced, never edited in place, so pointers handed out by Snapshot stay
// stable for readers.
type Model struct {
	mu     sync.RWMutex
	snap   Snapshot
	order  []string
	maxTx  int
	stable map[string]bool
}

// ModelOptions tunes caps and the stable-mint set.
type ModelOptions struct {
	MaxTx       int
	StableMints map[string]bool
}

// NewModel builds the initial snapshot from the resolved wallet specs.
// Aliases are fixed for the lifetime of the model.
func NewModel(specs []WalletSpec, opts ModelOptions) *Model {
	maxTx := opts.MaxTx
	if maxTx <= 0 {
		maxTx = DefaultMaxTx
	}
	stable := opts.StableMints
	if stable == nil {
		stable = StableMintSet(nil)
	}

	now := NowMs()
	state := make(map[string]*WalletState, len(specs))
	order := make([]string, 0, len(specs))
	for _, spec := range specs {
		if _, dup := state[spec.Alias]; dup {
			continue
		}
		state[spec.Alias] = &WalletState{
			Alias:              spec.Alias,
			Pubkey:             spec.Pubkey,
			Color:              spec.Color,
			WalletID:           spec.WalletID,
			OpenedAt:           now,
			LastActivityTs:     now,
			StartTokenBalances: map[string]float64{},
			PnlByMint:          map[string]*PnlRow{},
		}
		order = append(order, spec.Alias)
	}

	return &Model{
		snap: Snapshot{
			State:        state,
			Transactions: []*TransactionRow{},
			Service: ServiceState{
				WsSupervisor: WsSupervisorStats{State: "disabled"},
			},
		},
		order:  order,
		maxTx:  maxTx,
		stable: stable,
	}
}

// Snapshot returns a one-level copy: fresh outer struct and State map,
// shared entry pointers. Entries must be treated as read-only.
func (m *Model) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := make(map[string]*WalletState, len(m.snap.State))
	for alias, w := range m.snap.State {
		state[alias] = w
	}
	txs := make([]*TransactionRow, len(m.snap.Transactions))
	copy(txs, m.snap.Transactions)

	return &Snapshot{
		State:        state,
		Transactions: txs,
		Service:      m.snap.Service,
	}
}

// Aliases returns the fixed alias set in registration order.
func (m *Model) Aliases() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// HasAlias reports whether alias was registered at startup.
func (m *Model) HasAlias(alias string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.snap.State[alias]
	return ok
}

// PubkeyOf returns the pubkey for alias, or "" when unknown.
func (m *Model) PubkeyOf(alias string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.snap.State[alias]; ok {
		return w.Pubkey
	}
	return ""
}

// WalletIDOf returns the registry row id for alias, or 0 when unknown.
func (m *Model) WalletIDOf(alias string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if w, ok := m.snap.State[alias]; ok {
		return w.WalletID
	}
	return 0
}

// AliasByPubkey resolves the alias owning pubkey, or "".
func (m *Model) AliasByPubkey(pubkey string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for alias, w := range m.snap.State {
		if w.Pubkey == pubkey {
			return alias
		}
	}
	return ""
}

// UpdateWalletSol records a fetched SOL balance. The first successful value
// becomes the session baseline; the session delta is recomputed from the
// baseline on every write and may be negative. Non-finite values are
// ignored.
func (m *Model) UpdateWalletSol(alias string, sol float64) bool {
	if math.IsNaN(sol) || math.IsInf(sol, 0) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.snap.State[alias]
	if !ok {
		return false
	}

	next := *cur
	if next.StartSolBalance == nil {
		base := sol
		next.StartSolBalance = &base
	}
	next.SolBalance = sol
	next.SolSessionDelta = sol - *next.StartSolBalance
	next.LastActivityTs = NowMs()
	m.snap.State[alias] = &next
	return true
}

// SetWalletTokens replaces the wallet's token rows. Ownership of rows moves
// to the model. Baselines are sticky: a mint's start balance is set the
// first time a positive balance is seen and session deltas derive from it.
func (m *Model) SetWalletTokens(alias string, rows []*TokenRow, hasToken22 *bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.snap.State[alias]
	if !ok {
		return false
	}

	baselines := make(map[string]float64, len(cur.StartTokenBalances)+len(rows))
	for mint, v := range cur.StartTokenBalances {
		baselines[mint] = v
	}
	for _, row := range rows {
		if _, seen := baselines[row.Mint]; !seen && row.Balance > 0 {
			baselines[row.Mint] = row.Balance
		}
		if base, seen := baselines[row.Mint]; seen {
			row.SessionDelta = row.Balance - base
		} else {
			row.SessionDelta = 0
		}
	}
	SortTokenRows(rows, m.stable)

	next := *cur
	next.StartTokenBalances = baselines
	next.Tokens = rows
	if hasToken22 != nil {
		next.HasToken22 = hasToken22
	}
	next.LastActivityTs = NowMs()
	m.snap.State[alias] = &next
	return true
}

// SetWalletPnl replaces the wallet's normalized PnL map. Callers skip this
// on query failure so the prior map survives.
func (m *Model) SetWalletPnl(alias string, pnl map[string]*PnlRow) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.snap.State[alias]
	if !ok {
		return false
	}
	if pnl == nil {
		pnl = map[string]*PnlRow{}
	}

	next := *cur
	next.PnlByMint = pnl
	m.snap.State[alias] = &next
	return true
}

// PushRecentEvent prepends a per-wallet activity line, keeping the newest
// MaxRecentEvents. A non-positive ts means now.
func (m *Model) PushRecentEvent(alias string, ts int64, summary string) bool {
	if ts <= 0 {
		ts = NowMs()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.snap.State[alias]
	if !ok {
		return false
	}

	events := make([]RecentEvent, 0, MaxRecentEvents)
	events = append(events, RecentEvent{Ts: ts, Summary: summary})
	for _, ev := range cur.RecentEvents {
		if len(events) == MaxRecentEvents {
			break
		}
		events = append(events, ev)
	}

	next := *cur
	next.RecentEvents = events
	next.LastActivityTs = NowMs()
	m.snap.State[alias] = &next
	return true
}

// PushAlert prepends a service alert, keeping the newest MaxAlerts.
func (m *Model) PushAlert(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]Alert, 0, MaxAlerts)
	alerts = append(alerts, Alert{Ts: NowMs(), Level: level, Message: message})
	for _, a := range m.snap.Service.Alerts {
		if len(alerts) == MaxAlerts {
			break
		}
		alerts = append(alerts, a)
	}
	m.snap.Service.Alerts = alerts
}

// UpsertTransaction inserts row, or merges it into an existing row with the
// same txid: non-null fields of the newer event win. The list is re-sorted
// newest first by block time (falling back to observation time) and capped.
func (m *Model) UpsertTransaction(row *TransactionRow) {
	if row == nil || row.Txid == "" {
		return
	}
	if row.ObservedAt <= 0 {
		row.ObservedAt = NowMs()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	merged := false
	txs := make([]*TransactionRow, 0, len(m.snap.Transactions)+1)
	for _, existing := range m.snap.Transactions {
		if existing.Txid == row.Txid {
			txs = append(txs, mergeTxRows(existing, row))
			merged = true
		} else {
			txs = append(txs, existing)
		}
	}
	if !merged {
		txs = append([]*TransactionRow{row}, txs...)
	}

	sortTransactions(txs)
	if len(txs) > m.maxTx {
		txs = txs[:m.maxTx]
	}
	m.snap.Transactions = txs
}

// SetHealth publishes a fresh health snapshot.
func (m *Model) SetHealth(h *Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Service.Health = h
}

// SetWsSupervisor publishes WebSocket supervisor stats.
func (m *Model) SetWsSupervisor(stats WsSupervisorStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Service.WsSupervisor = stats
}

// WalletCounts returns the number of wallets and how many have had no
// activity within maxAge.
func (m *Model) WalletCounts(maxAge time.Duration) (count, stale int) {
	cutoff := NowMs() - maxAge.Milliseconds()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.snap.State {
		count++
		if w.LastActivityTs < cutoff {
			stale++
		}
	}
	return count, stale
}

func sortTransactions(txs []*TransactionRow) {
	// Stable so same-key rows keep insertion order (newest was prepended).
	sort.SliceStable(txs, func(i, j int) bool {
		return txOrderKey(txs[i]) > txOrderKey(txs[j])
	})
}

// mergeTxRows folds the newer event's non-null fields over the older row.
func mergeTxRows(older, newer *TransactionRow) *TransactionRow {
	out := *older

	if newer.Side != "" {
		out.Side = newer.Side
	}
	if newer.Mint != "" {
		out.Mint = newer.Mint
	}
	if newer.Tokens != nil {
		out.Tokens = newer.Tokens
	}
	if newer.Sol != nil {
		out.Sol = newer.Sol
	}
	// A terminal status never regresses to processed; the emoji tracks
	// whichever status survives.
	keepStatus := terminalTxStatus(out.StatusCategory) && !terminalTxStatus(newer.StatusCategory)
	if newer.StatusCategory != "" && !keepStatus {
		out.StatusCategory = newer.StatusCategory
	}
	if newer.StatusEmoji != "" && !keepStatus {
		out.StatusEmoji = newer.StatusEmoji
	}
	if newer.ErrMessage != "" {
		out.ErrMessage = newer.ErrMessage
	}
	if newer.Coin != nil {
		out.Coin = newer.Coin
	}
	if newer.ObservedAt > 0 {
		out.ObservedAt = newer.ObservedAt
	}
	if newer.BlockTimeIso != "" {
		out.BlockTimeIso = newer.BlockTimeIso
	}
	if newer.Slot != nil {
		out.Slot = newer.Slot
	}
	if newer.ExplorerUrl != "" {
		out.ExplorerUrl = newer.ExplorerUrl
	}
	return &out
}

// terminalTxStatus reports whether a status category can no longer change.
func terminalTxStatus(cat string) bool {
	return cat == "confirmed" || cat == "failed"
}

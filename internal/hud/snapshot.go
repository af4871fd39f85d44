// Package hud owns the in-memory dashboard snapshot: wallet balances, token
// rows, PnL, recent events, in-flight transactions, and service health. The
// snapshot has a single owner (Model) and is observed through a Store that
// hands out one-level copies.
package hud

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Default caps for the bounded snapshot sections.
const (
	MaxRecentEvents = 5
	MaxAlerts       = 8
	DefaultMaxTx    = 10
)

// Stable-tagged mints sort before every other token row. USDC, USDT and
// USD1 are always in the set; callers may extend it.
var defaultStableMints = []string{
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
	"USD1ttGY1N17NEEHLmELoaybftRBUSErhqYiQzvEmuB",
}

// WalletSpec is the operator-supplied wallet description, resolved against
// the registry at startup.
type WalletSpec struct {
	Alias    string
	Pubkey   string
	Color    string
	WalletID int64
}

// RecentEvent is one line of per-wallet activity, newest first.
type RecentEvent struct {
	Ts      int64  `json:"ts"`
	Summary string `json:"summary"`
}

// Alert is a service-level notice surfaced to the operator.
type Alert struct {
	Ts      int64  `json:"ts"`
	Level   string `json:"level"` // info | warn | error
	Message string `json:"message"`
}

// TokenRow is one SPL position of a wallet. Missing or non-finite numerics
// are nil, never NaN.
type TokenRow struct {
	Symbol       string              `json:"symbol"`
	Mint         string              `json:"mint"`
	Balance      float64             `json:"balance"`
	SessionDelta float64             `json:"sessionDelta"`
	UsdEstimate  *float64            `json:"usdEstimate"`
	Decimals     *int                `json:"decimals"`
	PriceUsd     *float64            `json:"priceUsd"`
	ChangePct    map[string]*float64 `json:"changePct"` // "1m","5m","15m","30m"
	LiquidityUsd *float64            `json:"liquidityUsd"`
	MarketCapUsd *float64            `json:"marketCapUsd"`
	Holders      *int64              `json:"holders"`
	RiskScore    *float64            `json:"riskScore"`
	Top10Pct     *float64            `json:"top10Pct"`
	SniperPct    *float64            `json:"sniperPct"`
	DevPct       *float64            `json:"devPct"`
	RiskTags     []string            `json:"riskTags"`
}

// PnlRow is the canonical position row after normalization; downstream code
// reads only these keys.
type PnlRow struct {
	Mint               string   `json:"mint"`
	CurrentTokenAmount *float64 `json:"current_token_amount"`
	AvgCostUsd         *float64 `json:"avg_cost_usd"`
	CoinPriceUsd       *float64 `json:"coin_price_usd"`
	EntryUsd           *float64 `json:"entry_usd"`
	CurrentUsd         *float64 `json:"current_usd"`
	UnrealizedPnlUsd   *float64 `json:"unrealized_pnl_usd"`
	RealizedPnlUsd     *float64 `json:"realized_pnl_usd"`
	RoiPct             *float64 `json:"roi_pct"`
}

// TransactionRow is one observed swap or transfer, bounded and ordered
// newest first by blockTimeIso falling back to observedAt.
type TransactionRow struct {
	Txid           string                 `json:"txid"`
	Side           string                 `json:"side"` // buy | sell | tx
	Mint           string                 `json:"mint"`
	Tokens         *float64               `json:"tokens"`
	Sol            *float64               `json:"sol"`
	StatusCategory string                 `json:"statusCategory"` // confirmed | failed | processed
	StatusEmoji    string                 `json:"statusEmoji"`
	ErrMessage     string                 `json:"errMessage"`
	Coin           map[string]interface{} `json:"coin"`
	ObservedAt     int64                  `json:"observedAt"`
	BlockTimeIso   string                 `json:"blockTimeIso"`
	Slot           *uint64                `json:"slot"`
	ExplorerUrl    string                 `json:"explorerUrl"`
}

// WalletState is the per-alias slice of the snapshot.
type WalletState struct {
	Alias    string `json:"alias"`
	Pubkey   string `json:"pubkey"`
	Color    string `json:"color"`
	WalletID int64  `json:"walletId"`

	StartSolBalance *float64 `json:"startSolBalance"`
	SolBalance      float64  `json:"solBalance"`
	SolSessionDelta float64  `json:"solSessionDelta"`

	OpenedAt       int64 `json:"openedAt"`
	LastActivityTs int64 `json:"lastActivityTs"`

	StartTokenBalances map[string]float64 `json:"startTokenBalances"`
	Tokens             []*TokenRow        `json:"tokens"`
	HasToken22         *bool              `json:"hasToken22"`
	RecentEvents       []RecentEvent      `json:"recentEvents"`
	PnlByMint          map[string]*PnlRow `json:"pnlByMint"`
}

// WsSupervisorStats reports the WebSocket supervisor's reconnect loop.
type WsSupervisorStats struct {
	State       string `json:"state"` // disabled | connecting | connected | reconnecting | closed
	ConnectedAt int64  `json:"connectedAt"`
	Reconnects  int    `json:"reconnects"`
	LastError   string `json:"lastError"`
}

// ServiceState groups the non-wallet sections of the snapshot.
type ServiceState struct {
	Alerts       []Alert           `json:"alerts"`
	WsSupervisor WsSupervisorStats `json:"wsSupervisor"`
	Health       *Health           `json:"health"`
}

// Snapshot is the top-level HUD state. Readers get a copy of this struct
// with a fresh State map; the entries themselves are shared and must be
// treated as read-only.
type Snapshot struct {
	State        map[string]*WalletState `json:"state"`
	Transactions []*TransactionRow       `json:"transactions"`
	Service      ServiceState            `json:"service"`
}

// Health is the periodic liveness snapshot persisted to status.json. JSON
// field names are a contract with the sibling CLI tools.
type Health struct {
	Process   HealthProcess `json:"process"`
	RPC       HealthRPC     `json:"rpc"`
	WS        HealthWS      `json:"ws"`
	Wallets   HealthWallets `json:"wallets"`
	UpdatedAt string        `json:"updatedAt"`
}

type HealthProcess struct {
	UptimeSec      float64 `json:"uptimeSec"`
	RssBytes       uint64  `json:"rssBytes"`
	HeapUsedBytes  uint64  `json:"heapUsedBytes"`
	LoadAvg1m      float64 `json:"loadAvg1m"`
	EventLoopLagMs float64 `json:"eventLoopLagMs"`
}

type HealthRPC struct {
	LastSolMs     *int64 `json:"lastSolMs"`
	LastTokenMs   *int64 `json:"lastTokenMs"`
	LastDataApiMs *int64 `json:"lastDataApiMs"`
}

type HealthWS struct {
	Slot          uint64 `json:"slot"`
	Root          uint64 `json:"root"`
	LastSlotAgeMs *int64 `json:"lastSlotAgeMs"`
}

type HealthWallets struct {
	Count      int `json:"count"`
	StaleCount int `json:"staleCount"`
}

// FinitePtr returns a pointer to v, or nil when v is NaN or infinite.
func FinitePtr(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NowMs returns wall-clock milliseconds.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// StableMintSet builds the lookup set from the built-in stable mints plus
// any configured additions.
func StableMintSet(extra []string) map[string]bool {
	set := make(map[string]bool, len(defaultStableMints)+len(extra))
	for _, m := range defaultStableMints {
		set[m] = true
	}
	for _, m := range extra {
		if m != "" {
			set[m] = true
		}
	}
	return set
}

// SortTokenRows orders rows in place: stable-tagged mints first, then each
// group alphabetically by symbol with the mint as tie-break.
func SortTokenRows(rows []*TokenRow, stable map[string]bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		si, sj := stable[rows[i].Mint], stable[rows[j].Mint]
		if si != sj {
			return si
		}
		a := strings.ToLower(rows[i].Symbol)
		b := strings.ToLower(rows[j].Symbol)
		if a != b {
			return a < b
		}
		return rows[i].Mint < rows[j].Mint
	})
}

// txOrderKey is the sort key for transactions: block time when known,
// otherwise local observation time, both in ms.
func txOrderKey(row *TransactionRow) int64 {
	if row.BlockTimeIso != "" {
		if t, err := time.Parse(time.RFC3339, row.BlockTimeIso); err == nil {
			return t.UnixMilli()
		}
	}
	return row.ObservedAt
}

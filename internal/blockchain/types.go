package blockchain

import "time"

// TokenAccount is one SPL token account row from the paginated listing.
// Decimals and UiAmount are nil when the RPC returned raw account data and
// the mint's decimals are not known here.
type TokenAccount struct {
	Pubkey    string
	ProgramID string
	Mint      string
	Owner     string
	RawAmount uint64
	UiAmount  *float64
	Decimals  *int
}

// V2Options parameterizes one getTokenAccountsByOwnerV2 page request.
type V2Options struct {
	ProgramID     string
	Limit         int
	ExcludeZero   bool
	PaginationKey string
}

// V2Page is a single page of the listing. HasMore with an empty NextCursor
// means the listing was truncated upstream.
type V2Page struct {
	Accounts   []TokenAccount
	HasMore    bool
	NextCursor string
	TotalCount int
}

// FetchResult is the outcome of walking every page.
type FetchResult struct {
	Accounts   []TokenAccount
	PageCount  int
	TotalCount int
	Truncated  bool
}

// TxInfo is the observable summary of a fetched transaction.
type TxInfo struct {
	Signature   string
	Slot        uint64
	BlockTime   *time.Time
	Fee         uint64
	Err         interface{}
	LogMessages []string
}

// SigStatus is the observable confirmation state of a signature.
type SigStatus struct {
	Slot               uint64
	Confirmations      *uint64
	ConfirmationStatus string
	Err                interface{}
}

// SlotEvent is one slot notification.
type SlotEvent struct {
	Slot   uint64
	Parent uint64
	Root   uint64
}

// AccountEvent is one account notification; only lamports are consumed.
type AccountEvent struct {
	Pubkey   string
	Lamports uint64
	Slot     uint64
}

// LogsEvent is one logs notification for a mentioned wallet.
type LogsEvent struct {
	Signature string
	Logs      []string
	Err       interface{}
	Slot      uint64
}

// Subscription is the handle returned by every subscribe operation.
type Subscription interface {
	Unsubscribe()
}

// SupervisorStats reports the WebSocket supervisor state for the HUD.
type SupervisorStats struct {
	State       string // disabled | connecting | connected | reconnecting | closed
	ConnectedAt int64  // unix ms, 0 while disconnected
	Reconnects  int
	LastError   string
}

// LamportsToSol converts a raw lamport amount to SOL.
func LamportsToSol(lamports uint64) float64 {
	return float64(lamports) / 1e9
}

// Package storage defines the operational database surface: the wallet
// registry, sweep-and-claim trade persistence, PnL position rows, token
// identity, and encrypted secret records.
package storage

import "time"

// Trade event kinds as classified from wallet log activity.
const (
	TradeBuy  = "BUY"
	TradeSell = "SELL"
)

// Wallet is one registry row. AutoAttachWarchest marks wallets the HUD
// service inserted itself.
type Wallet struct {
	ID                 int64
	Alias              string
	Pubkey             string
	Color              string
	Kind               string
	AutoAttachWarchest bool
	CreatedAt          time.Time
}

// TradeEvent is one observed BUY or SELL, keyed by transaction signature.
// Numeric fields stay nil when the log did not expose them.
type TradeEvent struct {
	WalletID    int64
	Pubkey      string
	Signature   string
	Kind        string
	Mint        string
	SolAmount   *float64
	TokenAmount *float64
	PriceUsd    *float64
	Source      string
	BlockTime   *time.Time
	ObservedAt  time.Time
}

// TokenInfo is cached token identity in the tokens table.
type TokenInfo struct {
	Mint      string
	Symbol    string
	Name      string
	Decimals  *int
	ImageURL  string
	UpdatedAt time.Time
}

// SecretRecord is one named secret. Value is ciphertext for the
// db_encrypted source and plain material otherwise.
type SecretRecord struct {
	Name      string
	KeySource string
	Value     string
	Nonce     []byte
	UpdatedAt time.Time
}

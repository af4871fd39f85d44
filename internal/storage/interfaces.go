package storage

import "context"

// Registry resolves and creates wallet rows.
type Registry interface {
	// GetWalletByAlias returns the registry row for alias. NotFound when
	// no row exists.
	GetWalletByAlias(ctx context.Context, alias string) (*Wallet, error)

	// InsertFundingWallet creates a funding wallet row and returns its id.
	// Conflict when the alias is already taken.
	InsertFundingWallet(ctx context.Context, w *Wallet) (int64, error)
}

// TradeWriter is the write side the service refuses to start without.
// It is deliberately separate from Store so the startup check is a plain
// type assertion.
type TradeWriter interface {
	// RecordScTradeEvent appends one trade event; replaying the same
	// observation is a no-op.
	RecordScTradeEvent(ctx context.Context, ev *TradeEvent) error

	// ApplyScTradeEventToPositions folds the event into the wallet's
	// position row for its mint.
	ApplyScTradeEventToPositions(ctx context.Context, ev *TradeEvent) error
}

// PnlReader serves raw position rows for the PnL refresh.
type PnlReader interface {
	// WalletPnlRows returns open positions as raw column maps; key
	// normalization happens in the HUD layer.
	WalletPnlRows(ctx context.Context, walletID int64) ([]map[string]interface{}, error)
}

// TokenDirectory caches token identity rows.
type TokenDirectory interface {
	TokenInfo(ctx context.Context, mint string) (*TokenInfo, error)
	UpsertTokenInfo(ctx context.Context, info *TokenInfo) error
}

// SecretReader serves named secret records.
type SecretReader interface {
	SecretRecord(ctx context.Context, name string) (*SecretRecord, error)
}

// Store is the read-side surface the service wires at startup. Writers
// are asserted separately via TradeWriter.
type Store interface {
	Registry
	PnlReader
	TokenDirectory
	SecretReader
	Ping(ctx context.Context) error
	Close()
}

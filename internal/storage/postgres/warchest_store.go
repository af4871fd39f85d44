package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/storage"
)

// WarchestStore implements the full operational surface over Postgres.
type WarchestStore struct {
	pool   *Pool
	logger *zap.Logger
}

// NewWarchestStore creates the store over an established pool.
func NewWarchestStore(pool *Pool, logger *zap.Logger) *WarchestStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WarchestStore{pool: pool, logger: logger.Named("storage")}
}

// Compile-time interface checks.
var (
	_ storage.Store       = (*WarchestStore)(nil)
	_ storage.TradeWriter = (*WarchestStore)(nil)
)

// GetWalletByAlias returns the registry row for alias.
func (s *WarchestStore) GetWalletByAlias(ctx context.Context, alias string) (*storage.Wallet, error) {
	const op = "storage.getWalletByAlias"

	query := `
		SELECT id, alias, pubkey, color, kind, auto_attach_warchest, created_at
		FROM wallets
		WHERE alias = $1
	`
	row := s.pool.QueryRow(ctx, query, alias)
	w, err := scanWallet(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, errs.E(errs.KindNotFound, op, fmt.Sprintf("wallet alias %q", alias))
		}
		return nil, fmt.Errorf("get wallet by alias: %w", err)
	}
	return w, nil
}

// InsertFundingWallet creates a funding wallet row and returns its id.
func (s *WarchestStore) InsertFundingWallet(ctx context.Context, w *storage.Wallet) (int64, error) {
	const op = "storage.insertFundingWallet"

	if w == nil || w.Alias == "" || w.Pubkey == "" {
		return 0, errs.E(errs.KindInvalidArgument, op, "alias and pubkey are required")
	}
	kind := w.Kind
	if kind == "" {
		kind = "funding"
	}

	query := `
		INSERT INTO wallets (alias, pubkey, color, kind, auto_attach_warchest)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var id int64
	err := s.pool.QueryRow(ctx, query, w.Alias, w.Pubkey, w.Color, kind, w.AutoAttachWarchest).Scan(&id)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, errs.E(errs.KindConflict, op, fmt.Sprintf("wallet alias %q already registered", w.Alias))
		}
		return 0, fmt.Errorf("insert funding wallet: %w", err)
	}
	return id, nil
}

// RecordScTradeEvent appends one trade event. Replaying the same
// observation hits the unique key and is silently skipped.
func (s *WarchestStore) RecordScTradeEvent(ctx context.Context, ev *storage.TradeEvent) error {
	const op = "storage.recordScTradeEvent"

	if ev == nil || ev.WalletID == 0 || ev.Signature == "" {
		return errs.E(errs.KindInvalidArgument, op, "wallet id and signature are required")
	}
	if ev.Kind != storage.TradeBuy && ev.Kind != storage.TradeSell {
		return errs.E(errs.KindInvalidArgument, op, fmt.Sprintf("unknown trade kind %q", ev.Kind))
	}
	observed := ev.ObservedAt
	if observed.IsZero() {
		observed = time.Now()
	}

	query := `
		INSERT INTO sc_trade_events (
			wallet_id, signature, kind, coin_mint,
			sol_amount, token_amount, price_usd,
			source, block_time, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (wallet_id, signature, kind, coin_mint) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		ev.WalletID, ev.Signature, ev.Kind, ev.Mint,
		ev.SolAmount, ev.TokenAmount, ev.PriceUsd,
		ev.Source, ev.BlockTime, observed,
	)
	if err != nil {
		return fmt.Errorf("record trade event: %w", err)
	}
	return nil
}

// ApplyScTradeEventToPositions folds the event into the position row,
// recomputing the average cost basis under a row lock.
func (s *WarchestStore) ApplyScTradeEventToPositions(ctx context.Context, ev *storage.TradeEvent) error {
	const op = "storage.applyScTradeEventToPositions"

	if ev == nil || ev.WalletID == 0 || ev.Mint == "" {
		return errs.E(errs.KindInvalidArgument, op, "wallet id and mint are required")
	}
	if ev.TokenAmount == nil || *ev.TokenAmount <= 0 {
		// No token leg means nothing to fold into the position.
		return nil
	}
	tokens := *ev.TokenAmount

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		amount   float64
		avg      *float64
		invested float64
		realized float64
	)
	row := tx.QueryRow(ctx, `
		SELECT current_token_amount, avg_cost_usd, invested_usd, realized_pnl_usd
		FROM sc_positions
		WHERE wallet_id = $1 AND coin_mint = $2
		FOR UPDATE
	`, ev.WalletID, ev.Mint)
	if err := row.Scan(&amount, &avg, &invested, &realized); err != nil && !isNotFoundError(err) {
		return fmt.Errorf("load position: %w", err)
	}

	switch ev.Kind {
	case storage.TradeBuy:
		amount += tokens
		if ev.PriceUsd != nil {
			invested += *ev.PriceUsd * tokens
		}
		if amount > 0 && invested > 0 {
			a := invested / amount
			avg = &a
		}
	case storage.TradeSell:
		sold := tokens
		if sold > amount {
			sold = amount
		}
		if avg != nil {
			if ev.PriceUsd != nil {
				realized += (*ev.PriceUsd - *avg) * sold
			}
			invested -= *avg * sold
			if invested < 0 {
				invested = 0
			}
		}
		amount -= sold
		if amount < 0 {
			amount = 0
		}
	default:
		return errs.E(errs.KindInvalidArgument, op, fmt.Sprintf("unknown trade kind %q", ev.Kind))
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO sc_positions (
			wallet_id, coin_mint, current_token_amount,
			avg_cost_usd, invested_usd, realized_pnl_usd, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (wallet_id, coin_mint) DO UPDATE SET
			current_token_amount = EXCLUDED.current_token_amount,
			avg_cost_usd         = EXCLUDED.avg_cost_usd,
			invested_usd         = EXCLUDED.invested_usd,
			realized_pnl_usd     = EXCLUDED.realized_pnl_usd,
			updated_at           = now()
	`, ev.WalletID, ev.Mint, amount, avg, invested, realized)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	s.logger.Debug("Position updated",
		zap.Int64("wallet_id", ev.WalletID),
		zap.String("mint", ev.Mint),
		zap.String("kind", ev.Kind),
		zap.Float64("amount", amount))
	return nil
}

// WalletPnlRows returns open positions as raw column maps. Column names
// match the canonical spellings the HUD normalizer reads first.
func (s *WarchestStore) WalletPnlRows(ctx context.Context, walletID int64) ([]map[string]interface{}, error) {
	query := `
		SELECT coin_mint, current_token_amount, avg_cost_usd, realized_pnl_usd
		FROM sc_positions
		WHERE wallet_id = $1 AND current_token_amount > 0
		ORDER BY coin_mint ASC
	`
	rows, err := s.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("query pnl rows: %w", err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect pnl rows: %w", err)
	}
	return maps, nil
}

// TokenInfo returns one cached token identity row.
func (s *WarchestStore) TokenInfo(ctx context.Context, mint string) (*storage.TokenInfo, error) {
	const op = "storage.tokenInfo"

	query := `
		SELECT mint, symbol, name, decimals, image_url, updated_at
		FROM tokens
		WHERE mint = $1
	`
	var info storage.TokenInfo
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&info.Mint, &info.Symbol, &info.Name, &info.Decimals, &info.ImageURL, &info.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, errs.E(errs.KindNotFound, op, fmt.Sprintf("token %s", mint))
		}
		return nil, fmt.Errorf("get token info: %w", err)
	}
	return &info, nil
}

// UpsertTokenInfo stores token identity fetched from the data API.
func (s *WarchestStore) UpsertTokenInfo(ctx context.Context, info *storage.TokenInfo) error {
	const op = "storage.upsertTokenInfo"

	if info == nil || info.Mint == "" {
		return errs.E(errs.KindInvalidArgument, op, "mint is required")
	}

	query := `
		INSERT INTO tokens (mint, symbol, name, decimals, image_url, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (mint) DO UPDATE SET
			symbol     = EXCLUDED.symbol,
			name       = EXCLUDED.name,
			decimals   = EXCLUDED.decimals,
			image_url  = EXCLUDED.image_url,
			updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, info.Mint, info.Symbol, info.Name, info.Decimals, info.ImageURL); err != nil {
		return fmt.Errorf("upsert token info: %w", err)
	}
	return nil
}

// SecretRecord returns one named secret record.
func (s *WarchestStore) SecretRecord(ctx context.Context, name string) (*storage.SecretRecord, error) {
	const op = "storage.secretRecord"

	query := `
		SELECT name, key_source, value, nonce, updated_at
		FROM secrets
		WHERE name = $1
	`
	var rec storage.SecretRecord
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&rec.Name, &rec.KeySource, &rec.Value, &rec.Nonce, &rec.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, errs.E(errs.KindNotFound, op, fmt.Sprintf("secret %q", name))
		}
		return nil, fmt.Errorf("get secret record: %w", err)
	}
	return &rec, nil
}

// Ping verifies the pool is alive.
func (s *WarchestStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *WarchestStore) Close() {
	s.pool.Close()
}

// scanWallet scans a single registry row.
func scanWallet(row pgx.Row) (*storage.Wallet, error) {
	var w storage.Wallet
	err := row.Scan(&w.ID, &w.Alias, &w.Pubkey, &w.Color, &w.Kind, &w.AutoAttachWarchest, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

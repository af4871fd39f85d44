package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/storage"
	"github.com/scoundrelhq/warchest/internal/storage/migrations"
	"github.com/scoundrelhq/warchest/internal/storage/postgres"
)

// setupTestDB connects to the database named by WARCHEST_TEST_DB_URL and
// applies migrations. Tests that need a live database skip without it.
func setupTestDB(t *testing.T) *postgres.WarchestStore {
	t.Helper()

	dsn := os.Getenv("WARCHEST_TEST_DB_URL")
	if dsn == "" {
		t.Skip("WARCHEST_TEST_DB_URL not set; skipping postgres integration tests")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	require.NoError(t, err, "failed to create pool")
	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool), "failed to run migrations")

	t.Cleanup(pool.Close)
	return postgres.NewWarchestStore(pool, zap.NewNop())
}

func ptr[T any](v T) *T {
	return &v
}

func uniqueAlias(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func TestInsertFundingWalletValidation(t *testing.T) {
	s := postgres.NewWarchestStore(nil, zap.NewNop())

	if _, err := s.InsertFundingWallet(context.Background(), nil); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("nil wallet: expected InvalidArgument, got %v", err)
	}
	if _, err := s.InsertFundingWallet(context.Background(), &storage.Wallet{Alias: "x"}); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("missing pubkey: expected InvalidArgument, got %v", err)
	}
}

func TestRecordScTradeEventValidation(t *testing.T) {
	s := postgres.NewWarchestStore(nil, zap.NewNop())
	ctx := context.Background()

	if err := s.RecordScTradeEvent(ctx, nil); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("nil event: expected InvalidArgument, got %v", err)
	}
	if err := s.RecordScTradeEvent(ctx, &storage.TradeEvent{WalletID: 1, Signature: "sig", Kind: "HOLD"}); !errs.Is(err, errs.KindInvalidArgument) {
		t.Errorf("unknown kind: expected InvalidArgument, got %v", err)
	}
}

func TestApplyScTradeEventNoTokenLeg(t *testing.T) {
	s := postgres.NewWarchestStore(nil, zap.NewNop())

	// Without a token amount there is nothing to fold; no DB touch.
	ev := &storage.TradeEvent{WalletID: 1, Mint: "mintA", Kind: storage.TradeBuy}
	if err := s.ApplyScTradeEventToPositions(context.Background(), ev); err != nil {
		t.Errorf("expected nil for event without token amount, got %v", err)
	}
}

func TestRegistryRoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	alias := uniqueAlias("reg")

	_, err := s.GetWalletByAlias(ctx, alias)
	require.True(t, errs.Is(err, errs.KindNotFound), "expected NotFound, got %v", err)

	id, err := s.InsertFundingWallet(ctx, &storage.Wallet{Alias: alias, Pubkey: "pk1", Color: "cyan"})
	require.NoError(t, err)
	require.NotZero(t, id)

	w, err := s.GetWalletByAlias(ctx, alias)
	require.NoError(t, err)
	require.Equal(t, "pk1", w.Pubkey)
	require.Equal(t, "funding", w.Kind)
	require.True(t, w.AutoAttachWarchest)

	_, err = s.InsertFundingWallet(ctx, &storage.Wallet{Alias: alias, Pubkey: "pk2"})
	require.True(t, errs.Is(err, errs.KindConflict), "expected Conflict, got %v", err)
}

func TestTradeEventIdempotentReplay(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	id, err := s.InsertFundingWallet(ctx, &storage.Wallet{Alias: uniqueAlias("trade"), Pubkey: "pk"})
	require.NoError(t, err)

	ev := &storage.TradeEvent{
		WalletID:    id,
		Signature:   "sig-replay",
		Kind:        storage.TradeBuy,
		Mint:        "mintA",
		TokenAmount: ptr(10.0),
		PriceUsd:    ptr(2.0),
	}
	require.NoError(t, s.RecordScTradeEvent(ctx, ev))
	require.NoError(t, s.RecordScTradeEvent(ctx, ev), "replay must be a no-op")
}

func TestPositionFoldMath(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	id, err := s.InsertFundingWallet(ctx, &storage.Wallet{Alias: uniqueAlias("pos"), Pubkey: "pk"})
	require.NoError(t, err)

	buy := func(tokens, price float64) *storage.TradeEvent {
		return &storage.TradeEvent{
			WalletID: id, Mint: "mintA", Kind: storage.TradeBuy,
			Signature: uniqueAlias("sig"), TokenAmount: ptr(tokens), PriceUsd: ptr(price),
		}
	}

	// 10 @ $1 then 10 @ $3: avg cost $2 over 20 tokens.
	require.NoError(t, s.ApplyScTradeEventToPositions(ctx, buy(10, 1)))
	require.NoError(t, s.ApplyScTradeEventToPositions(ctx, buy(10, 3)))

	rows, err := s.WalletPnlRows(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "mintA", rows[0]["coin_mint"])
	require.InDelta(t, 20.0, rows[0]["current_token_amount"], 1e-9)
	require.InDelta(t, 2.0, rows[0]["avg_cost_usd"], 1e-9)

	// Sell 5 @ $4: realized (4-2)*5 = $10, 15 tokens left at the same avg.
	sell := &storage.TradeEvent{
		WalletID: id, Mint: "mintA", Kind: storage.TradeSell,
		Signature: uniqueAlias("sig"), TokenAmount: ptr(5.0), PriceUsd: ptr(4.0),
	}
	require.NoError(t, s.ApplyScTradeEventToPositions(ctx, sell))

	rows, err = s.WalletPnlRows(ctx, id)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.InDelta(t, 15.0, rows[0]["current_token_amount"], 1e-9)
	require.InDelta(t, 10.0, rows[0]["realized_pnl_usd"], 1e-9)
}

func TestTokenInfoUpsert(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	mint := uniqueAlias("mint")
	_, err := s.TokenInfo(ctx, mint)
	require.True(t, errs.Is(err, errs.KindNotFound))

	require.NoError(t, s.UpsertTokenInfo(ctx, &storage.TokenInfo{Mint: mint, Symbol: "EXM", Decimals: ptr(6)}))
	require.NoError(t, s.UpsertTokenInfo(ctx, &storage.TokenInfo{Mint: mint, Symbol: "EXM2", Decimals: ptr(6)}))

	info, err := s.TokenInfo(ctx, mint)
	require.NoError(t, err)
	require.Equal(t, "EXM2", info.Symbol)
}

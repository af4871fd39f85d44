package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/hud"
	"github.com/scoundrelhq/warchest/internal/storage"
)

// fakeRegistry is an in-memory wallet registry keyed by alias.
type fakeRegistry struct {
	rows      map[string]*storage.Wallet
	nextID    int64
	lookupErr error
	insertErr error
	inserted  []*storage.Wallet
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{rows: map[string]*storage.Wallet{}, nextID: 100}
}

func (f *fakeRegistry) GetWalletByAlias(_ context.Context, alias string) (*storage.Wallet, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	row, ok := f.rows[alias]
	if !ok {
		return nil, errs.Errorf(errs.KindNotFound, "fake", "wallet %q not found", alias)
	}
	return row, nil
}

func (f *fakeRegistry) InsertFundingWallet(_ context.Context, w *storage.Wallet) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	row := *w
	row.ID = f.nextID
	f.rows[w.Alias] = &row
	f.inserted = append(f.inserted, &row)
	return f.nextID, nil
}

func TestResolveWalletsInsertsUnknownAliases(t *testing.T) {
	reg := newFakeRegistry()
	specs := []hud.WalletSpec{
		{Alias: "alpha", Pubkey: "PubkeyAlpha", Color: "cyan"},
	}

	resolved := resolveWallets(context.Background(), reg, specs, zap.NewNop())

	if len(resolved) != 1 {
		t.Fatalf("resolved = %d wallets, want 1", len(resolved))
	}
	if resolved[0].WalletID == 0 {
		t.Error("resolved wallet has no registry id")
	}
	if len(reg.inserted) != 1 {
		t.Fatalf("inserted = %d rows, want 1", len(reg.inserted))
	}
	if !reg.inserted[0].AutoAttachWarchest {
		t.Error("inserted wallet not flagged AutoAttachWarchest")
	}
	if reg.inserted[0].Kind != "funding" {
		t.Errorf("inserted wallet kind = %q, want funding", reg.inserted[0].Kind)
	}
}

func TestResolveWalletsSkipsPubkeyConflict(t *testing.T) {
	reg := newFakeRegistry()
	reg.rows["alpha"] = &storage.Wallet{ID: 7, Alias: "alpha", Pubkey: "StoredPubkey"}

	resolved := resolveWallets(context.Background(), reg, []hud.WalletSpec{
		{Alias: "alpha", Pubkey: "DifferentPubkey"},
	}, zap.NewNop())

	if len(resolved) != 0 {
		t.Fatalf("resolved = %d wallets, want 0 (conflict must skip)", len(resolved))
	}
	if reg.rows["alpha"].Pubkey != "StoredPubkey" {
		t.Error("conflict resolution overwrote the stored pubkey")
	}
}

func TestResolveWalletsAdoptsExistingRow(t *testing.T) {
	reg := newFakeRegistry()
	reg.rows["alpha"] = &storage.Wallet{ID: 42, Alias: "alpha", Pubkey: "PubkeyAlpha", Color: "magenta"}

	resolved := resolveWallets(context.Background(), reg, []hud.WalletSpec{
		{Alias: "alpha", Pubkey: "PubkeyAlpha"},
	}, zap.NewNop())

	if len(resolved) != 1 {
		t.Fatalf("resolved = %d wallets, want 1", len(resolved))
	}
	if resolved[0].WalletID != 42 {
		t.Errorf("WalletID = %d, want 42", resolved[0].WalletID)
	}
	if resolved[0].Color != "magenta" {
		t.Errorf("Color = %q, want the stored color to backfill", resolved[0].Color)
	}
}

func TestResolveWalletsSkipsOnLookupError(t *testing.T) {
	reg := newFakeRegistry()
	reg.lookupErr = errors.New("connection refused")

	resolved := resolveWallets(context.Background(), reg, []hud.WalletSpec{
		{Alias: "alpha", Pubkey: "PubkeyAlpha"},
	}, zap.NewNop())

	if len(resolved) != 0 {
		t.Fatalf("resolved = %d wallets, want 0 on lookup failure", len(resolved))
	}
}

package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/errs"
	"github.com/scoundrelhq/warchest/internal/hud"
	"github.com/scoundrelhq/warchest/internal/storage"
)

// hasTradeEventWriters verifies at startup that the storage adapter can
// persist derived trades. A store without the writer methods would fail
// only on the first confirmed swap, long after boot.
func hasTradeEventWriters(store storage.Store) (storage.TradeWriter, bool) {
	tw, ok := store.(storage.TradeWriter)
	return tw, ok
}

// resolveWallets maps CLI wallet specs onto registry rows. A known
// alias whose stored pubkey differs from the spec is skipped with an
// error log: attributing one wallet's activity to another is worse
// than dropping the wallet. Unknown aliases are inserted as funding
// wallets flagged for auto-attach.
func resolveWallets(ctx context.Context, reg storage.Registry, specs []hud.WalletSpec, logger *zap.Logger) []hud.WalletSpec {
	resolved := make([]hud.WalletSpec, 0, len(specs))
	for _, spec := range specs {
		row, err := reg.GetWalletByAlias(ctx, spec.Alias)
		switch {
		case err == nil:
			if row.Pubkey != spec.Pubkey {
				logger.Error("Wallet alias already registered with a different pubkey; skipping",
					zap.String("alias", spec.Alias),
					zap.String("specPubkey", spec.Pubkey),
					zap.String("storedPubkey", row.Pubkey))
				continue
			}
			spec.WalletID = row.ID
			if spec.Color == "" {
				spec.Color = row.Color
			}
			resolved = append(resolved, spec)
		case errs.Is(err, errs.KindNotFound):
			id, insErr := reg.InsertFundingWallet(ctx, &storage.Wallet{
				Alias:              spec.Alias,
				Pubkey:             spec.Pubkey,
				Color:              spec.Color,
				Kind:               "funding",
				AutoAttachWarchest: true,
			})
			if insErr != nil {
				logger.Error("Failed to register wallet; skipping",
					zap.String("alias", spec.Alias),
					zap.Error(insErr))
				continue
			}
			logger.Info("Registered new funding wallet",
				zap.String("alias", spec.Alias),
				zap.String("pubkey", spec.Pubkey),
				zap.Int64("walletId", id))
			spec.WalletID = id
			resolved = append(resolved, spec)
		default:
			logger.Error("Wallet registry lookup failed; skipping",
				zap.String("alias", spec.Alias),
				zap.Error(err))
		}
	}
	return resolved
}

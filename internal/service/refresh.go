package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scoundrelhq/warchest/internal/blockchain"
	"github.com/scoundrelhq/warchest/internal/chainstate"
	"github.com/scoundrelhq/warchest/internal/dataapi"
	"github.com/scoundrelhq/warchest/internal/hud"
	"github.com/scoundrelhq/warchest/internal/storage"
)

const defaultSolConcurrency = 4

// rpcReader is the RPC slice the refresher consumes; *blockchain.Client
// satisfies it.
type rpcReader interface {
	blockchain.TokenAccountLister
	GetSolBalance(ctx context.Context, pubkey string) (float64, error)
}

// priceSource is the Data API slice the refresher consumes;
// *dataapi.Client satisfies it.
type priceSource interface {
	GetPrices(ctx context.Context, mints []string) map[string]float64
	GetTokenMeta(ctx context.Context, mint string) (*dataapi.TokenMeta, error)
}

// refresher runs the periodic and on-demand wallet refreshes and writes
// the results into the HUD model. Individual wallet failures are logged
// and never abort the sweep; a change notification is emitted even when
// a refresh fails so stale indicators stay current.
type refresher struct {
	model   *hud.Model
	rpc     rpcReader
	prices  priceSource
	pnl     storage.PnlReader
	live    *chainstate.WalletLiveState
	timings *rpcTimings
	emit    func()
	logger  *zap.Logger

	solConcurrency int
}

type refresherConfig struct {
	Model   *hud.Model
	RPC     rpcReader
	Prices  priceSource
	Pnl     storage.PnlReader
	Live    *chainstate.WalletLiveState
	Timings *rpcTimings
	Emit    func()
	Logger  *zap.Logger
}

func newRefresher(cfg refresherConfig) *refresher {
	emit := cfg.Emit
	if emit == nil {
		emit = func() {}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &refresher{
		model:          cfg.Model,
		rpc:            cfg.RPC,
		prices:         cfg.Prices,
		pnl:            cfg.Pnl,
		live:           cfg.Live,
		timings:        cfg.Timings,
		emit:           emit,
		logger:         logger.Named("refresh"),
		solConcurrency: defaultSolConcurrency,
	}
}

// refreshSolAll fetches the SOL balance of every wallet with bounded
// fan-out and records the batch duration for health reporting.
func (r *refresher) refreshSolAll(ctx context.Context) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.solConcurrency)
	for _, alias := range r.model.Aliases() {
		alias := alias
		pubkey := r.model.PubkeyOf(alias)
		if pubkey == "" {
			continue
		}
		g.Go(func() error {
			sol, err := r.rpc.GetSolBalance(gctx, pubkey)
			if err != nil {
				r.logger.Warn("SOL balance fetch failed",
					zap.String("wallet", alias),
					zap.Error(err))
				return nil
			}
			r.model.UpdateWalletSol(alias, sol)
			if r.live != nil {
				r.live.UpdateSol(pubkey, sol*1e9)
			}
			return nil
		})
	}
	_ = g.Wait()
	if r.timings != nil {
		r.timings.RecordSol(time.Since(start))
	}
	r.emit()
}

// refreshTokensAll walks wallets sequentially through the same path the
// scheduler uses and records the sweep duration.
func (r *refresher) refreshTokensAll(ctx context.Context) {
	start := time.Now()
	for _, alias := range r.model.Aliases() {
		if ctx.Err() != nil {
			break
		}
		if err := r.refreshWallet(ctx, alias, "periodic"); err != nil {
			r.logger.Warn("Periodic wallet refresh failed",
				zap.String("wallet", alias),
				zap.Error(err))
		}
	}
	if r.timings != nil {
		r.timings.RecordToken(time.Since(start))
	}
}

// refreshWallet is the scheduler's RefreshFunc: token accounts first,
// then the PnL overlay reusing the same price batch. A PnL failure
// keeps the previous positions and does not fail the refresh.
func (r *refresher) refreshWallet(ctx context.Context, alias, reason string) error {
	defer r.emit()

	prices, err := r.refreshWalletTokens(ctx, alias)
	if err != nil {
		return err
	}
	if err := r.refreshWalletPnl(ctx, alias, prices); err != nil {
		r.logger.Warn("PnL refresh failed; keeping previous positions",
			zap.String("wallet", alias),
			zap.String("reason", reason),
			zap.Error(err))
	}
	return nil
}

// refreshWalletTokens pulls the full token account listing, enriches it
// with metadata and a single batched price lookup, and replaces the
// wallet's token table. The price batch is returned for PnL reuse.
func (r *refresher) refreshWalletTokens(ctx context.Context, alias string) (map[string]float64, error) {
	pubkey := r.model.PubkeyOf(alias)
	if pubkey == "" {
		return nil, nil
	}

	res, err := blockchain.FetchAllTokenAccounts(ctx, r.rpc, pubkey, r.logger)
	if err != nil {
		return nil, err
	}
	if res.Truncated {
		r.model.PushAlert("warn", fmt.Sprintf("%s: token listing truncated after %d pages", alias, res.PageCount))
	}

	mints := make([]string, 0, len(res.Accounts))
	seen := make(map[string]bool, len(res.Accounts))
	for _, acc := range res.Accounts {
		if acc.Mint == "" || seen[acc.Mint] {
			continue
		}
		seen[acc.Mint] = true
		mints = append(mints, acc.Mint)
	}
	prices := r.prices.GetPrices(ctx, mints)
	if prices == nil && len(mints) > 0 {
		r.logger.Warn("Price batch unavailable; rendering balances without USD estimates",
			zap.String("wallet", alias),
			zap.Int("mints", len(mints)))
	}

	hasToken22 := false
	rows := make([]*hud.TokenRow, 0, len(res.Accounts))
	for _, acc := range res.Accounts {
		if acc.Mint == "" {
			continue
		}
		if acc.IsToken2022() {
			hasToken22 = true
		}
		rows = append(rows, r.buildTokenRow(ctx, pubkey, acc, prices))
	}

	r.model.SetWalletTokens(alias, rows, &hasToken22)
	return prices, nil
}

func (r *refresher) buildTokenRow(ctx context.Context, pubkey string, acc blockchain.TokenAccount, prices map[string]float64) *hud.TokenRow {
	row := &hud.TokenRow{
		Mint:     acc.Mint,
		Decimals: acc.Decimals,
	}

	meta, err := r.prices.GetTokenMeta(ctx, acc.Mint)
	if err != nil {
		r.logger.Debug("Token metadata lookup failed",
			zap.String("mint", acc.Mint),
			zap.Error(err))
		meta = nil
	}
	if meta != nil {
		row.Symbol = meta.Symbol
		if row.Decimals == nil && meta.Decimals > 0 {
			d := meta.Decimals
			row.Decimals = &d
		}
		if len(meta.ChangePct) > 0 {
			row.ChangePct = make(map[string]*float64, len(meta.ChangePct))
			for window, pct := range meta.ChangePct {
				row.ChangePct[window] = hud.FinitePtr(pct)
			}
		}
	}
	if row.Symbol == "" {
		row.Symbol = shortMint(acc.Mint)
	}

	switch {
	case acc.UiAmount != nil:
		row.Balance = *acc.UiAmount
	case row.Decimals != nil:
		row.Balance = float64(acc.RawAmount) / math.Pow10(*row.Decimals)
	default:
		row.Balance = float64(acc.RawAmount)
	}

	price, havePrice := prices[acc.Mint]
	if !havePrice && meta != nil && meta.PriceUsd != nil {
		price, havePrice = *meta.PriceUsd, true
	}
	if havePrice {
		row.PriceUsd = hud.FinitePtr(price)
		row.UsdEstimate = hud.FinitePtr(row.Balance * price)
	}

	if r.live != nil {
		update := chainstate.TokenUpdate{
			Amount:   hud.FinitePtr(row.Balance),
			Decimals: row.Decimals,
			PriceUsd: row.PriceUsd,
		}
		if row.Symbol != "" {
			sym := row.Symbol
			update.Symbol = &sym
		}
		r.live.UpdateToken(pubkey, acc.Mint, update)
	}
	return row
}

// refreshWalletPnl reads the wallet's position rows, overlays the batch
// prices on rows without a stored price, and replaces the PnL map. On a
// read failure the caller keeps whatever was rendered before.
func (r *refresher) refreshWalletPnl(ctx context.Context, alias string, prices map[string]float64) error {
	if r.pnl == nil {
		return nil
	}
	walletID := r.model.WalletIDOf(alias)
	if walletID == 0 {
		return nil
	}
	raws, err := r.pnl.WalletPnlRows(ctx, walletID)
	if err != nil {
		return err
	}
	hud.InjectPnlPrices(raws, prices)
	r.model.SetWalletPnl(alias, hud.NormalizePnlRows(raws))
	return nil
}

// shortMint is the display fallback when no symbol is known.
func shortMint(mint string) string {
	if len(mint) <= 6 {
		return mint
	}
	return mint[:6]
}

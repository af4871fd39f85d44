package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scoundrelhq/warchest/internal/blockchain"
	"github.com/scoundrelhq/warchest/internal/hub"
	"github.com/scoundrelhq/warchest/internal/hud"
	"github.com/scoundrelhq/warchest/internal/storage"
)

const tradeWriteTimeout = 10 * time.Second

// refreshTrigger is the scheduler slice the wallet manager consumes;
// *scheduler.Scheduler satisfies it.
type refreshTrigger interface {
	Trigger(alias, reason string)
}

// walletManager consumes raw log notifications for one wallet set:
// every notification becomes a recent-event line, classifiable swaps
// are persisted as trade events, and a scheduler refresh is triggered
// so the snapshot converges on the new balances. Handler errors are
// logged and never tear down the subscription.
type walletManager struct {
	model  *hud.Model
	trades storage.TradeWriter
	sched  refreshTrigger
	emit   func()
	logger *zap.Logger
}

func newWalletManager(model *hud.Model, trades storage.TradeWriter, sched refreshTrigger, emit func(), logger *zap.Logger) *walletManager {
	if emit == nil {
		emit = func() {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &walletManager{
		model:  model,
		trades: trades,
		sched:  sched,
		emit:   emit,
		logger: logger.Named("walletman"),
	}
}

// HandleLogs processes one logs notification for alias.
func (wm *walletManager) HandleLogs(alias string, ev blockchain.LogsEvent) {
	defer func() {
		if r := recover(); r != nil {
			wm.logger.Error("Log handler panicked",
				zap.String("wallet", alias),
				zap.Any("panic", r))
		}
	}()

	summary := formatLogEvent(ev)
	wm.model.PushRecentEvent(alias, 0, summary)

	if ev.Err == nil {
		if trade := wm.deriveTrade(alias, ev); trade != nil {
			wm.persistTrade(alias, trade)
		}
	}

	wm.emit()
	if wm.sched != nil {
		wm.sched.Trigger(alias, ev.Signature)
	}
}

// deriveTrade classifies the notification as a BUY or SELL from its log
// text. Notifications that are not swaps yield nil.
func (wm *walletManager) deriveTrade(alias string, ev blockchain.LogsEvent) *storage.TradeEvent {
	side := classifyTradeSide(ev.Logs)
	if side == "" || ev.Signature == "" {
		return nil
	}
	return &storage.TradeEvent{
		WalletID:   wm.model.WalletIDOf(alias),
		Pubkey:     wm.model.PubkeyOf(alias),
		Signature:  ev.Signature,
		Kind:       side,
		Mint:       extractMint(ev.Logs),
		Source:     "wallet-logs",
		ObservedAt: time.Now().UTC(),
	}
}

// persistTrade records the event and folds it into positions. The two
// writes are sequential: a position update without its event row would
// be unauditable, so the fold is skipped when the record fails.
func (wm *walletManager) persistTrade(alias string, trade *storage.TradeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), tradeWriteTimeout)
	defer cancel()

	if err := wm.trades.RecordScTradeEvent(ctx, trade); err != nil {
		wm.logger.Error("Failed to record trade event",
			zap.String("wallet", alias),
			zap.String("signature", trade.Signature),
			zap.Error(err))
		return
	}
	if err := wm.trades.ApplyScTradeEventToPositions(ctx, trade); err != nil {
		wm.logger.Error("Failed to apply trade event to positions",
			zap.String("wallet", alias),
			zap.String("signature", trade.Signature),
			zap.Error(err))
	}
}

// formatLogEvent renders the recent-event line: HH:MM:SS, the shortened
// signature, and the first meaningful log line.
func formatLogEvent(ev blockchain.LogsEvent) string {
	parts := []string{time.Now().Format("15:04:05")}
	if ev.Signature != "" {
		parts = append(parts, hub.ShortSig(ev.Signature))
	}
	if prefix := firstLogLine(ev.Logs); prefix != "" {
		parts = append(parts, prefix)
	}
	if ev.Err != nil {
		parts = append(parts, "(failed)")
	}
	return strings.Join(parts, " ")
}

const maxLogPrefix = 48

func firstLogLine(logs []string) string {
	for _, line := range logs {
		line = strings.TrimSpace(strings.TrimPrefix(line, "Program log:"))
		if line == "" {
			continue
		}
		if len(line) > maxLogPrefix {
			line = line[:maxLogPrefix]
		}
		return line
	}
	return ""
}

// classifyTradeSide scans program logs for a buy or sell instruction.
// The first match wins; anything else is not a trade.
func classifyTradeSide(logs []string) string {
	for _, line := range logs {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "instruction:") {
			continue
		}
		switch {
		case strings.Contains(lower, "instruction: buy"):
			return storage.TradeBuy
		case strings.Contains(lower, "instruction: sell"):
			return storage.TradeSell
		}
	}
	return ""
}

// extractMint pulls the first plausible mint address mentioned after a
// "mint:" marker. Logs without one yield "".
func extractMint(logs []string) string {
	for _, line := range logs {
		lower := strings.ToLower(line)
		idx := strings.Index(lower, "mint:")
		if idx < 0 {
			continue
		}
		rest := strings.Fields(line[idx+len("mint:"):])
		if len(rest) == 0 {
			continue
		}
		candidate := strings.Trim(rest[0], ",;")
		if hud.ValidPubkeyShape(candidate) {
			return candidate
		}
	}
	return ""
}

package hub

import (
	"strings"

	"github.com/scoundrelhq/warchest/internal/hud"
)

// ApplyHubEventToState folds one hub event into the HUD snapshot: the
// summarized line lands in the target wallet's recentEvents, and terminal
// events upsert a TransactionRow merged by txid. Returns true when the
// snapshot changed.
func ApplyHubEventToState(model *hud.Model, ev HubEvent) bool {
	changed := false

	if alias := ev.Wallet(); alias != "" && model.HasAlias(alias) {
		ts := ev.Ts
		if ts == 0 {
			ts = hud.NowMs()
		}
		if model.PushRecentEvent(alias, ts, Summarize(ev)) {
			changed = true
		}
	}

	if summary, ok := ExtractSummary(ev); ok {
		if row := TransactionRowFromSummary(ev, summary); row != nil {
			model.UpsertTransaction(row)
			changed = true
		}
	}

	return changed
}

// TransactionRowFromSummary converts a terminal TxSummary into the HUD row
// shape. Events without a txid have nothing to key the row on and yield
// nil.
func TransactionRowFromSummary(ev HubEvent, summary *TxSummary) *hud.TransactionRow {
	if summary == nil || summary.Txid == "" {
		return nil
	}

	side := strings.ToLower(summary.Side)
	if side != "buy" && side != "sell" {
		side = "tx"
	}

	observedAt := ev.Ts
	if observedAt == 0 {
		observedAt = hud.NowMs()
	}

	row := &hud.TransactionRow{
		Txid:         summary.Txid,
		Side:         side,
		Mint:         summary.Mint,
		Tokens:       summary.Tokens,
		Sol:          summary.Sol,
		ErrMessage:   summaryErrMessage(summary),
		ObservedAt:   observedAt,
		BlockTimeIso: summary.BlockTimeIso,
		ExplorerUrl:  summary.ExplorerUrl,
	}

	switch summary.Status {
	case SummaryOk:
		row.StatusCategory = "confirmed"
		row.StatusEmoji = "✅"
	case SummaryFailed, SummaryTimeout:
		row.StatusCategory = "failed"
		row.StatusEmoji = "❌"
	default:
		row.StatusCategory = "processed"
		row.StatusEmoji = "⏳"
	}

	if row.ExplorerUrl == "" {
		row.ExplorerUrl = ExplorerURL(summary.Txid)
	}
	if slot, ok := uintField(ev.Data, "slot"); ok {
		row.Slot = &slot
	}

	return row
}

func summaryErrMessage(summary *TxSummary) string {
	switch {
	case summary.ErrMessage != "":
		return summary.ErrMessage
	case summary.ErrorSummary != "":
		return summary.ErrorSummary
	default:
		return summary.Err
	}
}

// ExplorerURL returns the Solscan link for a signature.
func ExplorerURL(signature string) string {
	if signature == "" {
		return ""
	}
	return "https://solscan.io/tx/" + signature
}

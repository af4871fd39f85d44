package hub

import (
	"regexp"
	"testing"

	"github.com/scoundrelhq/warchest/internal/hud"
)

func newTestModel() *hud.Model {
	return hud.NewModel([]hud.WalletSpec{
		{Alias: "alpha", Pubkey: "AlphaPubkey11111111111111111111111111111111", WalletID: 1},
		{Alias: "bravo", Pubkey: "BravoPubkey11111111111111111111111111111111", WalletID: 2},
	}, hud.ModelOptions{})
}

func TestApplyConfirmedBuyReachesRecentEvents(t *testing.T) {
	model := newTestModel()

	slot := 999.0
	ev := SummaryEvent("alpha", &TxSummary{
		Kind:   "swap",
		Status: SummaryOk,
		Side:   "buy",
		Mint:   "MintAAA",
		Txid:   "5sigConfirmed",
	})
	ev.Data["slot"] = slot

	if !ApplyHubEventToState(model, ev) {
		t.Fatal("apply reported no change")
	}

	snap := model.Snapshot()
	events := snap.State["alpha"].RecentEvents
	if len(events) != 1 {
		t.Fatalf("expected 1 recent event, got %d", len(events))
	}
	if !regexp.MustCompile(`(?i)confirmed|buy`).MatchString(events[0].Summary) {
		t.Errorf("recent event %q does not mention the confirmed buy", events[0].Summary)
	}
	if len(snap.State["bravo"].RecentEvents) != 0 {
		t.Error("event leaked into the wrong wallet")
	}

	if len(snap.Transactions) != 1 {
		t.Fatalf("expected 1 transaction row, got %d", len(snap.Transactions))
	}
	row := snap.Transactions[0]
	if row.Txid != "5sigConfirmed" || row.Side != "buy" {
		t.Errorf("row identity: %+v", row)
	}
	if row.StatusCategory != "confirmed" {
		t.Errorf("statusCategory = %q", row.StatusCategory)
	}
	if row.Slot == nil || *row.Slot != 999 {
		t.Errorf("slot not carried: %+v", row.Slot)
	}
	if row.ExplorerUrl != "https://solscan.io/tx/5sigConfirmed" {
		t.Errorf("explorer url: %q", row.ExplorerUrl)
	}
}

func TestApplyPlainProgressEventOnlyTouchesRecentEvents(t *testing.T) {
	model := newTestModel()

	ev := NewEvent(EventSubmitted, map[string]interface{}{
		"wallet":    "bravo",
		"signature": "5sigInFlight",
	})
	if !ApplyHubEventToState(model, ev) {
		t.Fatal("apply reported no change")
	}

	snap := model.Snapshot()
	if len(snap.State["bravo"].RecentEvents) != 1 {
		t.Fatalf("expected 1 recent event, got %d", len(snap.State["bravo"].RecentEvents))
	}
	if len(snap.Transactions) != 0 {
		t.Fatalf("progress events must not create transaction rows, got %d", len(snap.Transactions))
	}
}

func TestApplyUnknownWalletIsIgnored(t *testing.T) {
	model := newTestModel()

	ev := NewEvent(EventSubmitted, map[string]interface{}{
		"wallet":    "charlie",
		"signature": "5sig",
	})
	if ApplyHubEventToState(model, ev) {
		t.Fatal("apply to unknown wallet should change nothing")
	}
}

func TestApplyMergesRowsByTxid(t *testing.T) {
	model := newTestModel()

	// First a failed-looking processed event, then the confirmed verdict
	// with enrichment; the row must merge, not duplicate.
	first := SummaryEvent("alpha", &TxSummary{
		Kind:   "swap",
		Status: SummaryUnknown,
		Side:   "buy",
		Txid:   "5sigMerge",
	})
	ApplyHubEventToState(model, first)

	sol := 1.25
	second := SummaryEvent("alpha", &TxSummary{
		Kind:         "swap",
		Status:       SummaryOk,
		Side:         "buy",
		Mint:         "MintAAA",
		Txid:         "5sigMerge",
		Sol:          &sol,
		BlockTimeIso: "2026-08-24T10:00:00Z",
	})
	ApplyHubEventToState(model, second)

	snap := model.Snapshot()
	if len(snap.Transactions) != 1 {
		t.Fatalf("expected merged row, got %d rows", len(snap.Transactions))
	}
	row := snap.Transactions[0]
	if row.StatusCategory != "confirmed" {
		t.Errorf("newer status should win: %q", row.StatusCategory)
	}
	if row.Mint != "MintAAA" {
		t.Errorf("newer mint should fill in: %q", row.Mint)
	}
	if row.Sol == nil || *row.Sol != sol {
		t.Errorf("sol should fill in: %+v", row.Sol)
	}
}

func TestTransactionRowStatusMapping(t *testing.T) {
	cases := []struct {
		status   string
		category string
	}{
		{SummaryOk, "confirmed"},
		{SummaryFailed, "failed"},
		{SummaryTimeout, "failed"},
		{SummaryUnknown, "processed"},
	}
	for _, tc := range cases {
		ev := SummaryEvent("alpha", &TxSummary{Kind: "swap", Status: tc.status, Txid: "sig"})
		row := TransactionRowFromSummary(ev, mustSummary(t, ev))
		if row.StatusCategory != tc.category {
			t.Errorf("status %s: got category %q, want %q", tc.status, row.StatusCategory, tc.category)
		}
	}
}

func TestTransactionRowNeedsTxid(t *testing.T) {
	ev := SummaryEvent("alpha", &TxSummary{Kind: "swap", Status: SummaryFailed})
	if row := TransactionRowFromSummary(ev, mustSummary(t, ev)); row != nil {
		t.Fatalf("row without txid should be nil, got %+v", row)
	}
}

func TestTransactionRowSideFallsBackToTx(t *testing.T) {
	ev := SummaryEvent("alpha", &TxSummary{Kind: "swap", Status: SummaryOk, Side: "weird", Txid: "sig"})
	row := TransactionRowFromSummary(ev, mustSummary(t, ev))
	if row.Side != "tx" {
		t.Errorf("side = %q, want tx", row.Side)
	}
}

func mustSummary(t *testing.T, ev HubEvent) *TxSummary {
	t.Helper()
	summary, ok := ExtractSummary(ev)
	if !ok {
		t.Fatal("event has no summary")
	}
	return summary
}

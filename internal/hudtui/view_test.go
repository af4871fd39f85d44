package hudtui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/scoundrelhq/warchest/internal/hud"
)

func f64(v float64) *float64 { return &v }

func testSnapshot() *hud.Snapshot {
	base := 2.0
	return &hud.Snapshot{
		State: map[string]*hud.WalletState{
			"alpha": {
				Alias:           "alpha",
				Pubkey:          "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				StartSolBalance: &base,
				SolBalance:      2.5,
				SolSessionDelta: 0.5,
				Tokens: []*hud.TokenRow{
					{Symbol: "USDC", Mint: "mint1", Balance: 100, PriceUsd: f64(1), UsdEstimate: f64(100)},
				},
				RecentEvents: []hud.RecentEvent{{Ts: 1, Summary: "12:00:00 abcd1234 swap"}},
				PnlByMint: map[string]*hud.PnlRow{
					"mint1": {Mint: "mint1", UnrealizedPnlUsd: f64(12.5)},
				},
			},
			"bravo": {Alias: "bravo", Pubkey: "Pubkey2", SolBalance: 1},
		},
		Transactions: []*hud.TransactionRow{
			{Txid: "TxidTxidTxid", Side: "buy", StatusCategory: "confirmed", Sol: f64(0.25), ObservedAt: 1},
		},
		Service: hud.ServiceState{
			Alerts:       []hud.Alert{{Ts: 1, Level: "warn", Message: "subscriptions unavailable"}},
			WsSupervisor: hud.WsSupervisorStats{State: "connected"},
		},
	}
}

func sizedModel(snap *hud.Snapshot) *Model {
	m := NewModel(snap)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(*Model)
}

func TestViewRendersWalletAndTransactions(t *testing.T) {
	m := sizedModel(testSnapshot())

	out := m.View()
	for _, want := range []string{
		"WARCHEST",
		"ws:connected",
		"alpha",
		"USDC",
		"2.5000 SOL",
		"+0.5000",
		"12:00:00 abcd1234 swap",
		"TxidTxid",
		"subscriptions unavailable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("view lacks %q", want)
		}
	}
}

func TestViewBeforeFirstSnapshot(t *testing.T) {
	m := NewModel(nil)
	if out := m.View(); !strings.Contains(out, "waiting") {
		t.Errorf("empty view = %q, want the waiting placeholder", out)
	}
}

func TestWalletCycling(t *testing.T) {
	m := sizedModel(testSnapshot())
	if m.aliases[m.selected] != "alpha" {
		t.Fatalf("initial selection = %q, want alpha (sorted order)", m.aliases[m.selected])
	}

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(*Model)
	if m.aliases[m.selected] != "bravo" {
		t.Errorf("after tab selection = %q, want bravo", m.aliases[m.selected])
	}

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = updated.(*Model)
	if m.aliases[m.selected] != "alpha" {
		t.Errorf("cycling should wrap back to alpha, got %q", m.aliases[m.selected])
	}
}

func TestSnapshotMsgRefreshesView(t *testing.T) {
	m := sizedModel(testSnapshot())

	next := testSnapshot()
	next.State["alpha"].SolBalance = 9.75
	updated, _ := m.Update(snapshotMsg{snap: next})
	m = updated.(*Model)

	if !strings.Contains(m.View(), "9.7500 SOL") {
		t.Error("view did not pick up the new snapshot")
	}
}

func TestQuitKey(t *testing.T) {
	m := sizedModel(testSnapshot())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("q produced no command")
	}
	if msg := cmd(); msg == nil {
		t.Fatal("q command produced no message")
	} else if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("q produced %T, want tea.QuitMsg", msg)
	}
}

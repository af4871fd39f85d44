package hud

import (
	"math"
	"testing"
)

func TestNormalizePnlRowDerivations(t *testing.T) {
	row, ok := NormalizePnlRow(map[string]interface{}{
		"coin_mint":          "mint1",
		"currentTokenAmount": "12.5",
		"avg_cost_usd":       1.0,
		"coin_price_usd":     2.0,
	})
	if !ok {
		t.Fatal("row dropped, want kept")
	}

	checks := []struct {
		name string
		got  *float64
		want float64
	}{
		{"current_token_amount", row.CurrentTokenAmount, 12.5},
		{"entry_usd", row.EntryUsd, 12.5},
		{"current_usd", row.CurrentUsd, 25},
		{"unrealized_pnl_usd", row.UnrealizedPnlUsd, 12.5},
		{"roi_pct", row.RoiPct, 100},
	}
	for _, c := range checks {
		if c.got == nil {
			t.Errorf("%s is nil, want %v", c.name, c.want)
			continue
		}
		if math.Abs(*c.got-c.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", c.name, *c.got, c.want)
		}
	}
}

func TestNormalizePnlRowKeyVariants(t *testing.T) {
	variants := []map[string]interface{}{
		{"coin_mint": "m", "current_token_amount": 1.0},
		{"coinMint": "m", "currentTokenAmount": 1.0},
		{"mint": "m", "current_token_amount": "1"},
	}
	for i, raw := range variants {
		row, ok := NormalizePnlRow(raw)
		if !ok {
			t.Errorf("variant %d dropped", i)
			continue
		}
		if row.Mint != "m" {
			t.Errorf("variant %d mint = %q", i, row.Mint)
		}
	}
}

func TestNormalizePnlRowDropRules(t *testing.T) {
	cases := []struct {
		name string
		raw  map[string]interface{}
	}{
		{"nil row", nil},
		{"no mint", map[string]interface{}{"current_token_amount": 5.0}},
		{"no amount", map[string]interface{}{"mint": "m"}},
		{"zero amount", map[string]interface{}{"mint": "m", "current_token_amount": 0.0}},
		{"negative amount", map[string]interface{}{"mint": "m", "current_token_amount": -2.0}},
		{"unparseable amount", map[string]interface{}{"mint": "m", "current_token_amount": "lots"}},
	}
	for _, tc := range cases {
		if _, ok := NormalizePnlRow(tc.raw); ok {
			t.Errorf("%s: kept, want dropped", tc.name)
		}
	}
}

func TestNormalizePnlRowIdempotent(t *testing.T) {
	first, ok := NormalizePnlRow(map[string]interface{}{
		"mint":                 "mint1",
		"current_token_amount": 4.0,
		"avg_cost_usd":         2.0,
		"coin_price_usd":       3.0,
	})
	if !ok {
		t.Fatal("first pass dropped row")
	}

	// Feed the canonical output back through the pass.
	second, ok := NormalizePnlRow(map[string]interface{}{
		"mint":                 first.Mint,
		"current_token_amount": *first.CurrentTokenAmount,
		"avg_cost_usd":         *first.AvgCostUsd,
		"coin_price_usd":       *first.CoinPriceUsd,
		"entry_usd":            *first.EntryUsd,
		"current_usd":          *first.CurrentUsd,
		"unrealized_pnl_usd":   *first.UnrealizedPnlUsd,
		"roi_pct":              *first.RoiPct,
	})
	if !ok {
		t.Fatal("second pass dropped row")
	}

	pairs := []struct {
		name string
		a, b *float64
	}{
		{"entry_usd", first.EntryUsd, second.EntryUsd},
		{"current_usd", first.CurrentUsd, second.CurrentUsd},
		{"unrealized_pnl_usd", first.UnrealizedPnlUsd, second.UnrealizedPnlUsd},
		{"roi_pct", first.RoiPct, second.RoiPct},
	}
	for _, p := range pairs {
		if *p.a != *p.b {
			t.Errorf("%s changed across passes: %v != %v", p.name, *p.a, *p.b)
		}
	}
}

func TestNormalizePnlRowNoRoiWithoutEntry(t *testing.T) {
	row, ok := NormalizePnlRow(map[string]interface{}{
		"mint":                 "m",
		"current_token_amount": 2.0,
		"coin_price_usd":       5.0,
	})
	if !ok {
		t.Fatal("row dropped")
	}
	if row.EntryUsd != nil {
		t.Errorf("entry_usd = %v, want nil without avg cost", *row.EntryUsd)
	}
	if row.RoiPct != nil {
		t.Errorf("roi_pct = %v, want nil without entry", *row.RoiPct)
	}
	if row.CurrentUsd == nil || *row.CurrentUsd != 10 {
		t.Error("current_usd not derived from price and amount")
	}
}

func TestNormalizePnlRowsKeysByMint(t *testing.T) {
	out := NormalizePnlRows([]map[string]interface{}{
		{"mint": "a", "current_token_amount": 1.0},
		{"mint": "b", "current_token_amount": 2.0},
		{"mint": "skipped", "current_token_amount": 0.0},
	})
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out["a"] == nil || out["b"] == nil {
		t.Error("expected mints missing from map")
	}
}

package hud

import (
	"encoding/json"
	"math"
	"strconv"
)

// The operational DB returns position rows under several historical key
// spellings. This is the single normalization pass: downstream code reads
// only the canonical PnlRow.

var (
	mintKeys       = []string{"coin_mint", "coinMint", "mint"}
	amountKeys     = []string{"current_token_amount", "currentTokenAmount"}
	avgCostKeys    = []string{"avg_cost_usd", "avgCostUsd"}
	coinPriceKeys  = []string{"coin_price_usd", "coinPriceUsd"}
	entryKeys      = []string{"entry_usd", "entryUsd"}
	currentKeys    = []string{"current_usd", "currentUsd"}
	unrealizedKeys = []string{"unrealized_pnl_usd", "unrealizedPnlUsd"}
	realizedKeys   = []string{"realized_pnl_usd", "realizedPnlUsd"}
	roiKeys        = []string{"roi_pct", "roiPct"}
)

// NormalizePnlRow maps one raw DB row to the canonical shape. The second
// return is false when the row must be dropped: no resolvable mint, or a
// non-positive current amount. The pass is idempotent over its own output.
func NormalizePnlRow(raw map[string]interface{}) (*PnlRow, bool) {
	if raw == nil {
		return nil, false
	}

	mint := firstString(raw, mintKeys)
	amount := firstFloat(raw, amountKeys)
	if mint == "" || amount == nil || *amount <= 0 {
		return nil, false
	}

	row := &PnlRow{
		Mint:               mint,
		CurrentTokenAmount: amount,
		AvgCostUsd:         firstFloat(raw, avgCostKeys),
		CoinPriceUsd:       firstFloat(raw, coinPriceKeys),
		EntryUsd:           firstFloat(raw, entryKeys),
		CurrentUsd:         firstFloat(raw, currentKeys),
		UnrealizedPnlUsd:   firstFloat(raw, unrealizedKeys),
		RealizedPnlUsd:     firstFloat(raw, realizedKeys),
		RoiPct:             firstFloat(raw, roiKeys),
	}

	if row.EntryUsd == nil && row.AvgCostUsd != nil {
		row.EntryUsd = FinitePtr(*row.AvgCostUsd * *amount)
	}
	if row.CurrentUsd == nil && row.CoinPriceUsd != nil {
		row.CurrentUsd = FinitePtr(*row.CoinPriceUsd * *amount)
	}
	if row.UnrealizedPnlUsd == nil && row.CurrentUsd != nil && row.EntryUsd != nil {
		row.UnrealizedPnlUsd = FinitePtr(*row.CurrentUsd - *row.EntryUsd)
	}
	if row.RoiPct == nil && row.UnrealizedPnlUsd != nil && row.EntryUsd != nil && *row.EntryUsd > 0 {
		row.RoiPct = FinitePtr(*row.UnrealizedPnlUsd / *row.EntryUsd * 100)
	}

	return row, true
}

// InjectPnlPrices fills coin_price_usd on raw rows that lack one, using
// batch prices keyed by mint. Rows carrying their own stored price keep
// it; the injected price feeds the usual derivation in NormalizePnlRow.
func InjectPnlPrices(raws []map[string]interface{}, prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		if firstFloat(raw, coinPriceKeys) != nil {
			continue
		}
		mint := firstString(raw, mintKeys)
		if mint == "" {
			continue
		}
		if p, ok := prices[mint]; ok && !math.IsNaN(p) && !math.IsInf(p, 0) {
			raw["coin_price_usd"] = p
		}
	}
}

// NormalizePnlRows folds raw rows into the pnlByMint map, dropping rows
// without a mint or position.
func NormalizePnlRows(raws []map[string]interface{}) map[string]*PnlRow {
	out := make(map[string]*PnlRow, len(raws))
	for _, raw := range raws {
		if row, ok := NormalizePnlRow(raw); ok {
			out[row.Mint] = row
		}
	}
	return out
}

func firstString(raw map[string]interface{}, keys []string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func firstFloat(raw map[string]interface{}, keys []string) *float64 {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if f := coerceFloat(v); f != nil {
			return f
		}
	}
	return nil
}

// coerceFloat accepts the numeric shapes the DB driver and JSON decoding
// produce, including stringified decimals. Non-finite values become nil.
func coerceFloat(v interface{}) *float64 {
	switch t := v.(type) {
	case float64:
		return FinitePtr(t)
	case float32:
		return FinitePtr(float64(t))
	case int:
		return FinitePtr(float64(t))
	case int32:
		return FinitePtr(float64(t))
	case int64:
		return FinitePtr(float64(t))
	case uint64:
		return FinitePtr(float64(t))
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return FinitePtr(f)
		}
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return &f
		}
	case *float64:
		if t != nil {
			return FinitePtr(*t)
		}
	}
	return nil
}

package hudtui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/scoundrelhq/warchest/internal/hud"
)

const (
	maxVisibleAlerts = 4
	maxTokenRows     = 12
)

// View implements tea.Model.
func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	if m.snap == nil || len(m.aliases) == 0 {
		return mutedStyle.Render("waiting for the first snapshot...")
	}

	sections := []string{
		m.renderHeader(),
		m.renderWalletTabs(),
		m.renderSelectedWallet(),
		paneStyle.Render(m.txPane.View()),
		m.renderAlerts(),
		helpStyle.Render("tab: next wallet • ↑/↓: scroll transactions • q: quit"),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderHeader() string {
	ws := m.snap.Service.WsSupervisor
	wsLabel := "ws:" + ws.State
	if ws.Reconnects > 0 {
		wsLabel = fmt.Sprintf("%s (%d reconnects)", wsLabel, ws.Reconnects)
	}

	parts := []string{titleStyle.Render("WARCHEST"), headerStyle.Render(wsLabel)}
	if h := m.snap.Service.Health; h != nil {
		parts = append(parts,
			headerStyle.Render(fmt.Sprintf("slot %d", h.WS.Slot)),
			headerStyle.Render(fmt.Sprintf("up %s", formatUptime(h.Process.UptimeSec))))
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderWalletTabs() string {
	tabs := make([]string, 0, len(m.aliases))
	for i, alias := range m.aliases {
		label := alias
		if w := m.snap.State[alias]; w != nil {
			label = fmt.Sprintf("%s %s", alias, formatSol(w.SolBalance))
		}
		if i == m.selected {
			tabs = append(tabs, walletNameStyle.Render("["+label+"]"))
		} else {
			tabs = append(tabs, mutedStyle.Render(" "+label+" "))
		}
	}
	return strings.Join(tabs, " ")
}

func (m *Model) renderSelectedWallet() string {
	alias := m.aliases[m.selected]
	w := m.snap.State[alias]
	if w == nil {
		return ""
	}

	var b strings.Builder

	delta := w.SolSessionDelta
	b.WriteString(fmt.Sprintf("%s  %s  %s\n",
		walletNameStyle.Render(alias),
		formatSol(w.SolBalance),
		deltaStyle(delta).Render(formatSignedSol(delta))))
	b.WriteString(mutedStyle.Render(shortPubkey(w.Pubkey)))
	if w.HasToken22 != nil && *w.HasToken22 {
		b.WriteString(mutedStyle.Render("  token-22"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.renderTokenTable(w))
	b.WriteString(m.renderRecentEvents(w))

	return activePaneStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m *Model) renderTokenTable(w *hud.WalletState) string {
	if len(w.Tokens) == 0 {
		return mutedStyle.Render("no token positions") + "\n"
	}

	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-10s %14s %12s %12s %14s %10s",
		"TOKEN", "BALANCE", "Δ SESSION", "PRICE $", "VALUE $", "PNL $")))
	b.WriteString("\n")

	rows := w.Tokens
	if len(rows) > maxTokenRows {
		rows = rows[:maxTokenRows]
	}
	for _, row := range rows {
		pnl := ""
		if p, ok := w.PnlByMint[row.Mint]; ok && p.UnrealizedPnlUsd != nil {
			pnl = deltaStyle(*p.UnrealizedPnlUsd).Render(fmt.Sprintf("%+.2f", *p.UnrealizedPnlUsd))
		}
		b.WriteString(fmt.Sprintf("%-10s %14s %12s %12s %14s %10s\n",
			truncate(row.Symbol, 10),
			formatAmount(row.Balance),
			deltaStyle(row.SessionDelta).Render(formatSignedAmount(row.SessionDelta)),
			formatFloatPtr(row.PriceUsd, "%.6f"),
			formatFloatPtr(row.UsdEstimate, "%.2f"),
			pnl))
	}
	if hidden := len(w.Tokens) - len(rows); hidden > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("… %d more", hidden)) + "\n")
	}
	return b.String()
}

func (m *Model) renderRecentEvents(w *hud.WalletState) string {
	if len(w.RecentEvents) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(tableHeaderStyle.Render("RECENT"))
	b.WriteString("\n")
	for _, ev := range w.RecentEvents {
		b.WriteString(mutedStyle.Render(ev.Summary) + "\n")
	}
	return b.String()
}

// renderTransactions builds the content of the scrollable transactions
// pane, newest first as the snapshot orders them.
func (m *Model) renderTransactions() string {
	if m.snap == nil || len(m.snap.Transactions) == 0 {
		return mutedStyle.Render("no transactions yet")
	}

	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf("%-4s %-10s %-10s %12s %12s  %s",
		"SIDE", "STATUS", "TX", "TOKENS", "SOL", "TIME")))
	b.WriteString("\n")
	for _, tx := range m.snap.Transactions {
		style := mutedStyle
		switch tx.StatusCategory {
		case "confirmed":
			style = positiveStyle
		case "failed":
			style = negativeStyle
		}
		line := fmt.Sprintf("%-4s %-10s %-10s %12s %12s  %s",
			strings.ToUpper(tx.Side),
			tx.StatusEmoji+tx.StatusCategory,
			shortTxid(tx.Txid),
			formatFloatPtr(tx.Tokens, "%.2f"),
			formatFloatPtr(tx.Sol, "%.4f"),
			formatTxTime(tx))
		b.WriteString(style.Render(line))
		if tx.ErrMessage != "" {
			b.WriteString("\n" + negativeStyle.Render("     "+truncate(tx.ErrMessage, 70)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m *Model) renderAlerts() string {
	alerts := m.snap.Service.Alerts
	if len(alerts) == 0 {
		return ""
	}
	if len(alerts) > maxVisibleAlerts {
		alerts = alerts[:maxVisibleAlerts]
	}
	lines := make([]string, 0, len(alerts))
	for _, a := range alerts {
		style := alertInfoStyle
		switch a.Level {
		case "warn":
			style = alertWarnStyle
		case "error":
			style = alertErrStyle
		}
		lines = append(lines, style.Render("• "+a.Message))
	}
	return strings.Join(lines, "\n")
}

func formatSol(v float64) string {
	return fmt.Sprintf("%.4f SOL", v)
}

func formatSignedSol(v float64) string {
	return fmt.Sprintf("%+.4f", v)
}

func formatAmount(v float64) string {
	if v >= 1_000_000 {
		return fmt.Sprintf("%.2fM", v/1_000_000)
	}
	if v >= 1_000 {
		return fmt.Sprintf("%.2fK", v/1_000)
	}
	return fmt.Sprintf("%.2f", v)
}

func formatSignedAmount(v float64) string {
	if v == 0 {
		return "0"
	}
	return fmt.Sprintf("%+.2f", v)
}

func formatFloatPtr(v *float64, layout string) string {
	if v == nil {
		return "—"
	}
	return fmt.Sprintf(layout, *v)
}

func formatUptime(sec float64) string {
	d := time.Duration(sec) * time.Second
	return d.Truncate(time.Second).String()
}

func formatTxTime(tx *hud.TransactionRow) string {
	if tx.BlockTimeIso != "" {
		if t, err := time.Parse(time.RFC3339, tx.BlockTimeIso); err == nil {
			return t.Local().Format("15:04:05")
		}
	}
	if tx.ObservedAt > 0 {
		return time.UnixMilli(tx.ObservedAt).Format("15:04:05")
	}
	return "—"
}

func shortPubkey(pk string) string {
	if len(pk) <= 12 {
		return pk
	}
	return pk[:6] + "…" + pk[len(pk)-4:]
}

func shortTxid(txid string) string {
	if len(txid) <= 8 {
		return txid
	}
	return txid[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}

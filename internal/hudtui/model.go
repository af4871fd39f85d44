// Package hudtui is the presentational tree mounted in HUD mode. It
// consumes snapshots from the HUD store and renders them; it performs no
// I/O of its own and re-renders only on change notifications.
package hudtui

import (
	"context"
	"sort"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/scoundrelhq/warchest/internal/hud"
)

// snapshotMsg carries a fresh HUD snapshot into the update loop.
type snapshotMsg struct {
	snap *hud.Snapshot
}

// Model is the bubbletea model for the HUD.
type Model struct {
	snap     *hud.Snapshot
	aliases  []string
	selected int

	keys     KeyMap
	txPane   viewport.Model
	width    int
	height   int
	quitting bool
}

// NewModel builds the HUD around an initial snapshot.
func NewModel(snap *hud.Snapshot) *Model {
	m := &Model{
		snap:   snap,
		keys:   DefaultKeyMap(),
		txPane: viewport.New(0, 0),
	}
	m.refreshAliases()
	return m
}

// refreshAliases keeps a stable, sorted alias order for pane cycling.
// Aliases are fixed at service startup, so this settles after the first
// snapshot.
func (m *Model) refreshAliases() {
	if m.snap == nil {
		m.aliases = nil
		return
	}
	aliases := make([]string, 0, len(m.snap.State))
	for alias := range m.snap.State {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	m.aliases = aliases
	if m.selected >= len(aliases) {
		m.selected = 0
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.EnterAltScreen
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = msg.snap
		m.refreshAliases()
		m.txPane.SetContent(m.renderTransactions())
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.txPane.Width = msg.Width - 4
		m.txPane.Height = txPaneHeight(msg.Height)
		m.txPane.SetContent(m.renderTransactions())
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.NextWallet):
			if len(m.aliases) > 0 {
				m.selected = (m.selected + 1) % len(m.aliases)
			}
		case key.Matches(msg, m.keys.PrevWallet):
			if len(m.aliases) > 0 {
				m.selected = (m.selected - 1 + len(m.aliases)) % len(m.aliases)
			}
		case key.Matches(msg, m.keys.ScrollUp):
			m.txPane.LineUp(1)
		case key.Matches(msg, m.keys.ScrollDown):
			m.txPane.LineDown(1)
		}
	}
	return m, nil
}

func txPaneHeight(total int) int {
	h := total / 4
	if h < 4 {
		h = 4
	}
	return h
}

// Run mounts the HUD against the store and blocks until the user quits
// or ctx is cancelled.
func Run(ctx context.Context, store *hud.Store) error {
	model := NewModel(store.GetSnapshot())
	program := tea.NewProgram(model, tea.WithContext(ctx))

	unsubscribe := store.Subscribe(func(snap *hud.Snapshot) {
		program.Send(snapshotMsg{snap: snap})
	})
	defer unsubscribe()

	_, err := program.Run()
	if err == tea.ErrProgramKilled && ctx.Err() != nil {
		// Service-side shutdown, not a renderer failure.
		return nil
	}
	return err
}

package hudtui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the HUD's keyboard shortcuts.
type KeyMap struct {
	Quit       key.Binding
	NextWallet key.Binding
	PrevWallet key.Binding
	ScrollUp   key.Binding
	ScrollDown key.Binding
}

// DefaultKeyMap returns the standard bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		NextWallet: key.NewBinding(
			key.WithKeys("tab", "right", "l"),
			key.WithHelp("tab", "next wallet"),
		),
		PrevWallet: key.NewBinding(
			key.WithKeys("shift+tab", "left", "h"),
			key.WithHelp("shift+tab", "prev wallet"),
		),
		ScrollUp: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑", "scroll up"),
		),
		ScrollDown: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓", "scroll down"),
		),
	}
}

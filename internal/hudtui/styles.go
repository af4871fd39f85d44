package hudtui

import "github.com/charmbracelet/lipgloss"

var (
	colorCyan   = lipgloss.Color("#00E5FF")
	colorGreen  = lipgloss.Color("#2AFFAA")
	colorRed    = lipgloss.Color("#FF5555")
	colorYellow = lipgloss.Color("#FFB500")
	colorMuted  = lipgloss.Color("#6C7280")
	colorText   = lipgloss.Color("#ECEFF4")

	titleStyle = lipgloss.NewStyle().
			Foreground(colorCyan).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)

	activePaneStyle = paneStyle.
			BorderForeground(colorCyan)

	walletNameStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	positiveStyle = lipgloss.NewStyle().Foreground(colorGreen)
	negativeStyle = lipgloss.NewStyle().Foreground(colorRed)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorMuted).
				Bold(true)

	alertWarnStyle = lipgloss.NewStyle().Foreground(colorYellow)
	alertErrStyle  = lipgloss.NewStyle().Foreground(colorRed)
	alertInfoStyle = lipgloss.NewStyle().Foreground(colorMuted)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)
)

// deltaStyle colors a signed amount green or red; zero stays muted.
func deltaStyle(v float64) lipgloss.Style {
	switch {
	case v > 0:
		return positiveStyle
	case v < 0:
		return negativeStyle
	default:
		return mutedStyle
	}
}

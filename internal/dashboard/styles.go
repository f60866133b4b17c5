package dashboard

import "charm.land/lipgloss/v2"

// Color palette - Purple + Cyan/Teal theme
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorBorder    = lipgloss.Color("#374151") // Dark gray
	ColorText      = lipgloss.Color("#F9FAFB") // Light text
	ColorTextMuted = lipgloss.Color("#B0B8C4") // Muted text
	ColorSelected  = lipgloss.Color("#4C1D95") // Deep purple selection
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorSuccess   = lipgloss.Color("#10B981") // Green
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorText).
			Background(ColorPrimary).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	panelFocusedStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorPrimary)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	columnHeaderStyle = lipgloss.NewStyle().
				Foreground(ColorTextMuted).
				Underline(true)

	selectedRowStyle = lipgloss.NewStyle().
				Background(ColorSelected).
				Foreground(ColorText).
				Bold(true)

	mutedStyle = lipgloss.NewStyle().Foreground(ColorTextMuted)

	footerKeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	flashInfoStyle  = lipgloss.NewStyle().Foreground(ColorSuccess)
	flashErrorStyle = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	warningStyle    = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
)

// stateStyle colors a session state label.
func stateStyle(st string) lipgloss.Style {
	switch st {
	case "running":
		return lipgloss.NewStyle().Foreground(ColorSecondary)
	case "completed":
		return lipgloss.NewStyle().Foreground(ColorSuccess)
	case "error":
		return lipgloss.NewStyle().Foreground(ColorError)
	default:
		return lipgloss.NewStyle().Foreground(ColorText)
	}
}

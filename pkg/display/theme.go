package display

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme defines colors and symbols for the display using lipgloss
type Theme struct {
	Bold   lipgloss.Style
	Cyan   lipgloss.Style
	Green  lipgloss.Style
	Yellow lipgloss.Style
	Dim    lipgloss.Style
	Red    lipgloss.Style

	Bullet string
	Arrow  string
	Check  string
	Cross  string
}

func DefaultTheme() *Theme {
	return &Theme{
		Bold:   lipgloss.NewStyle().Bold(true),
		Cyan:   lipgloss.NewStyle().Foreground(lipgloss.Color("6")),
		Green:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		Yellow: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		Dim:    lipgloss.NewStyle().Faint(true),
		Red:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")),

		Bullet: "•",
		Arrow:  "→",
		Check:  "✓",
		Cross:  "✗",
	}
}

func (t *Theme) Styled(style lipgloss.Style, text string) string {
	return style.Render(text)
}

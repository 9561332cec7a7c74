package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/f9-o/berth/internal/tui/components"
)

// Styles holds the lipgloss styles the root model renders with.
type Styles struct {
	PanelTitle lipgloss.Style
	History    lipgloss.Style
	Modal      lipgloss.Style
}

func newStyles() Styles {
	p := components.Theme
	return Styles{
		PanelTitle: lipgloss.NewStyle().
			Foreground(p.Primary).Bold(true).
			BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).
			BorderForeground(p.Muted).Padding(0, 1),

		History: lipgloss.NewStyle().
			Background(p.Background).Foreground(p.Text).
			Padding(0, 1),

		Modal: lipgloss.NewStyle().
			Background(p.Surface).Foreground(p.Text).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(p.Primary).
			Padding(1, 2),
	}
}

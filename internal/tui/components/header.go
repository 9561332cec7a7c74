// Package components holds the TUI sub-components of the berth dashboard.
package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	v1 "github.com/f9-o/berth/api/v1"
)

// Palette is the colour set every component draws with.
type Palette struct {
	Background lipgloss.Color
	Surface    lipgloss.Color
	Primary    lipgloss.Color
	Accent     lipgloss.Color
	Danger     lipgloss.Color
	Warning    lipgloss.Color
	Success    lipgloss.Color
	Muted      lipgloss.Color
	Text       lipgloss.Color
}

// Theme is the dashboard palette.
var Theme = Palette{
	Background: lipgloss.Color("#0D0F18"),
	Surface:    lipgloss.Color("#171A2B"),
	Primary:    lipgloss.Color("#7B8CDE"),
	Accent:     lipgloss.Color("#56E0C8"),
	Danger:     lipgloss.Color("#F56565"),
	Warning:    lipgloss.Color("#ECC94B"),
	Success:    lipgloss.Color("#68D391"),
	Muted:      lipgloss.Color("#4A5568"),
	Text:       lipgloss.Color("#E2E8F0"),
}

// SidebarWidth is the fixed width of the targets sidebar.
const SidebarWidth = 24

// ─────────────────────────────────────────────────────────────────────────────
// Header
// ─────────────────────────────────────────────────────────────────────────────

// Header renders the top status bar.
type Header struct {
	project        string
	containerCount int
	targetCount    int
}

// NewHeader creates a Header for the named project.
func NewHeader(project string) Header {
	return Header{project: project}
}

func (h *Header) SetContainerCount(n int) { h.containerCount = n }
func (h *Header) SetTargetCount(n int)    { h.targetCount = n }

// View renders the header bar across width columns.
func (h *Header) View(width int) string {
	left := fmt.Sprintf(" ⚓ BERTH  %s ", h.project)
	right := fmt.Sprintf(" %d targets · %d containers ", h.targetCount, h.containerCount)
	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return lipgloss.NewStyle().
		Background(Theme.Primary).
		Foreground(Theme.Background).
		Bold(true).
		Width(width).
		Render(left + strings.Repeat(" ", gap) + right)
}

// ─────────────────────────────────────────────────────────────────────────────
// Sidebar
// ─────────────────────────────────────────────────────────────────────────────

// Sidebar lists the registered targets with their last known status.
type Sidebar struct {
	items []v1.TargetInfo
}

// NewSidebar creates an empty Sidebar.
func NewSidebar() Sidebar { return Sidebar{} }

// SetTargets replaces the listed targets.
func (s *Sidebar) SetTargets(targets []v1.TargetInfo) {
	s.items = append(s.items[:0], targets...)
}

// View renders the sidebar.
func (s *Sidebar) View(width, height int) string {
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(Theme.Primary).Bold(true).Render("TARGETS"))
	b.WriteString("\n")

	if len(s.items) == 0 {
		b.WriteString(lipgloss.NewStyle().Foreground(Theme.Muted).Render("  (none registered)"))
	}
	for _, t := range s.items {
		icon, color := "○ ", Theme.Muted
		if t.Status == v1.TargetOnline {
			icon, color = "● ", Theme.Success
		}
		b.WriteString(lipgloss.NewStyle().Foreground(color).PaddingLeft(1).Render(icon))
		b.WriteString(lipgloss.NewStyle().Foreground(Theme.Text).Render(truncate(t.Name, width-6)))
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Background(Theme.Surface).
		Width(width).Height(height).
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(Theme.Muted).
		Padding(1, 1).
		Render(b.String())
}

// ─────────────────────────────────────────────────────────────────────────────
// Footer
// ─────────────────────────────────────────────────────────────────────────────

// Footer renders the bottom hint bar, or the last refresh error.
type Footer struct {
	err error
}

// NewFooter creates a Footer.
func NewFooter() Footer { return Footer{} }

// SetError sets an error message to display.
func (f *Footer) SetError(err error) { f.err = err }

// View renders the footer.
func (f *Footer) View(width int) string {
	hints := []struct{ key, desc string }{
		{"↑↓", "select"}, {"tab", "panel"}, {"h", "history"}, {"r", "reload"}, {"?", "help"}, {"q", "quit"},
	}

	var b strings.Builder
	for _, h := range hints {
		b.WriteString(lipgloss.NewStyle().Foreground(Theme.Primary).Bold(true).Render(h.key))
		b.WriteString(lipgloss.NewStyle().Foreground(Theme.Muted).Render(" " + h.desc + "  "))
	}
	content := b.String()
	if f.err != nil {
		content = lipgloss.NewStyle().Foreground(Theme.Danger).Render("Error: " + f.err.Error())
	}

	return lipgloss.NewStyle().
		Background(Theme.Surface).
		Width(width).Padding(0, 1).
		Render(content)
}

func truncate(s string, n int) string {
	if n <= 1 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

package components

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	v1 "github.com/f9-o/berth/api/v1"
)

const rowFormat = "%-18s %-16s %-16s %-12s %s"

// RenderContainersTable renders the placed containers with their last lifecycle state.
func RenderContainersTable(containers []v1.Container, selected, width, height int) string {
	title := lipgloss.NewStyle().
		Foreground(Theme.Primary).Bold(true).
		Padding(0, 1).
		Render("CONTAINERS")

	hdr := lipgloss.NewStyle().Foreground(Theme.Muted).Bold(true).Padding(0, 1).
		Render(fmt.Sprintf("  "+rowFormat, "ID", "DEFINITION", "TARGET", "STATUS", "UPDATED"))

	rowStyle := lipgloss.NewStyle().Foreground(Theme.Text).Padding(0, 1)
	selStyle := lipgloss.NewStyle().Background(Theme.Surface).Foreground(Theme.Accent).Bold(true).Padding(0, 1)

	var rows strings.Builder
	for i, c := range containers {
		target := c.Target
		if target == "" {
			target = "local"
		}
		line := fmt.Sprintf(rowFormat,
			truncate(c.ID, 18), truncate(c.DefinitionID, 16), truncate(target, 16),
			StatusBadge(c.Status), age(c.UpdatedAt))
		if i == selected {
			rows.WriteString(selStyle.Render("▶ " + line))
		} else {
			rows.WriteString(rowStyle.Render("  " + line))
		}
		rows.WriteString("\n")
	}

	body := rows.String()
	if len(containers) == 0 {
		body = lipgloss.NewStyle().
			Foreground(Theme.Muted).
			Padding(2, 2).
			Render("No containers placed yet. Run 'berth up' to start.")
	}

	return lipgloss.NewStyle().Width(width).Height(height).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, hdr, body))
}

// RenderHistory renders deployment records, newest first, one per line.
func RenderHistory(recs []v1.DeploymentRecord) string {
	if len(recs) == 0 {
		return lipgloss.NewStyle().Foreground(Theme.Muted).Render("No operations recorded yet.")
	}
	var b strings.Builder
	for _, r := range recs {
		mark := lipgloss.NewStyle().Foreground(Theme.Success).Render("✓")
		if r.Result != "success" {
			mark = lipgloss.NewStyle().Foreground(Theme.Danger).Render("✗")
		}
		subject := r.Definition
		if r.Container != "" {
			subject = r.Container
		}
		fmt.Fprintf(&b, "%s %s  %-9s %-18s %6dms  %s\n",
			mark, r.StartedAt.Local().Format("01-02 15:04:05"), r.Op, truncate(subject, 18), r.DurationMS, r.Error)
	}
	return b.String()
}

// StatusBadge renders a container status with its colour.
func StatusBadge(s v1.ContainerStatus) string {
	color := Theme.Muted
	switch s {
	case v1.StatusStarted, v1.StatusLinked:
		color = Theme.Success
	case v1.StatusDeployed, v1.StatusUnlinked:
		color = Theme.Warning
	case v1.StatusStopped, v1.StatusUndeployed:
		color = Theme.Danger
	}
	return lipgloss.NewStyle().Foreground(color).Render(string(s))
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Modal
// ─────────────────────────────────────────────────────────────────────────────

// Modal is a pop-over dialog.
type Modal struct {
	title string
	body  string
	style lipgloss.Style
}

// NewHelpModal creates the keyboard help modal.
func NewHelpModal(body string, style lipgloss.Style) *Modal {
	return &Modal{title: "Keyboard Shortcuts", body: body, style: style}
}

// HandleKey reports whether msg closes the modal.
func (m *Modal) HandleKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "esc", "q", "?", "enter":
		return true
	}
	return false
}

// Overlay renders the modal centred in a width × height screen.
func (m *Modal) Overlay(width, height int) string {
	content := lipgloss.NewStyle().Foreground(Theme.Warning).Bold(true).Render(m.title) +
		"\n" + m.body + "\n  [Esc] Close"
	box := m.style.Render(content)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}

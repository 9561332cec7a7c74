// Package pprint provides terminal output formatting for the berth CLI:
// status lines, key/value panels, tables and a spinner, all styled with lipgloss.
package pprint

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// ─────────────────────────────────────────────────────────────────────────────
// Colour palette
// ─────────────────────────────────────────────────────────────────────────────

var (
	ColorPrimary = lipgloss.Color("#4C9AFF") // harbour blue
	ColorAccent  = lipgloss.Color("#56E0C8") // teal
	ColorSuccess = lipgloss.Color("#48BB78")
	ColorWarning = lipgloss.Color("#F6AD55")
	ColorError   = lipgloss.Color("#FC8181")
	ColorMuted   = lipgloss.Color("#718096")
	ColorText    = lipgloss.Color("#E2E8F0")
)

// ─────────────────────────────────────────────────────────────────────────────
// Styles
// ─────────────────────────────────────────────────────────────────────────────

var (
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	StyleMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleAccent  = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	StylePrimary = lipgloss.NewStyle().Foreground(ColorPrimary).Bold(true)
	StyleText    = lipgloss.NewStyle().Foreground(ColorText)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true).
			Width(16)

	StylePanel = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 2)
)

// ─────────────────────────────────────────────────────────────────────────────
// Destination
// ─────────────────────────────────────────────────────────────────────────────

var (
	outMu sync.Mutex
	out   io.Writer = os.Stdout
	errW  io.Writer = os.Stderr
)

// SetOutput redirects every helper in this package; used by tests and --json mode.
func SetOutput(stdout, stderr io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out, errW = stdout, stderr
}

func emit(w func() io.Writer, s string) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintln(w(), s)
}

func stdout() io.Writer { return out }
func stderr() io.Writer { return errW }

// ─────────────────────────────────────────────────────────────────────────────
// Status lines
// ─────────────────────────────────────────────────────────────────────────────

// Success prints a green check line.
func Success(format string, args ...any) {
	emit(stdout, StyleSuccess.Render("✓ ")+StyleText.Render(fmt.Sprintf(format, args...)))
}

// Warn prints an amber warning line.
func Warn(format string, args ...any) {
	emit(stdout, StyleWarning.Render("⚠ ")+StyleText.Render(fmt.Sprintf(format, args...)))
}

// Error prints a red cross line to stderr.
func Error(format string, args ...any) {
	emit(stderr, StyleError.Render("✗ ")+StyleText.Render(fmt.Sprintf(format, args...)))
}

// Info prints a dimmed info line.
func Info(format string, args ...any) {
	emit(stdout, StyleMuted.Render("  "+fmt.Sprintf(format, args...)))
}

// Step prints a step with an index indicator.
func Step(n, total int, format string, args ...any) {
	idx := StylePrimary.Render(fmt.Sprintf("[%d/%d]", n, total))
	emit(stdout, idx+" "+StyleText.Render(fmt.Sprintf(format, args...)))
}

// Header prints a section header.
func Header(title string) {
	bar := strings.Repeat("─", 60)
	emit(stdout, "\n"+StylePrimary.Render(bar)+"\n"+
		StylePrimary.Render(" ⚓ "+strings.ToUpper(title))+"\n"+
		StylePrimary.Render(bar))
}

// KV prints a labelled key-value pair.
func KV(key, value string) {
	emit(stdout, StyleLabel.Render(key)+StyleText.Render(value))
}

// Panel renders a rounded-border box with an optional title.
func Panel(title, body string) {
	content := body
	if title != "" {
		content = StyleAccent.Render(" "+title+" ") + "\n" + body
	}
	emit(stdout, StylePanel.Render(content))
}

// ─────────────────────────────────────────────────────────────────────────────
// Table
// ─────────────────────────────────────────────────────────────────────────────

// Table renders a simple terminal table with coloured headers.
type Table struct {
	headers []string
	rows    [][]string
}

// NewTable creates a new Table.
func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

// AddRow appends a data row to the table.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of data rows.
func (t *Table) Len() int { return len(t.rows) }

// String lays the table out as plain padded columns.
func (t *Table) String() string {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = len(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range t.headers {
		fmt.Fprintf(&b, "%-*s", widths[i]+2, h)
	}
	b.WriteByte('\n')
	for _, w := range widths {
		b.WriteString(strings.Repeat("─", w+2))
	}
	for _, row := range t.rows {
		b.WriteByte('\n')
		for i, cell := range row {
			w := 0
			if i < len(widths) {
				w = widths[i]
			}
			fmt.Fprintf(&b, "%-*s", w+2, cell)
		}
	}
	return b.String()
}

// Render prints the table with a styled header row.
func (t *Table) Render() {
	lines := strings.Split(t.String(), "\n")
	var b strings.Builder
	b.WriteString("\n" + StylePrimary.Render(lines[0]))
	b.WriteString("\n" + StyleMuted.Render(lines[1]))
	for _, l := range lines[2:] {
		b.WriteString("\n" + StyleText.Render(l))
	}
	emit(stdout, b.String()+"\n")
}

// ─────────────────────────────────────────────────────────────────────────────
// Spinner
// ─────────────────────────────────────────────────────────────────────────────

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is a non-blocking terminal spinner.
type Spinner struct {
	label  string
	done   chan struct{}
	mu     sync.Mutex
	active bool
}

// NewSpinner creates a Spinner with the given label.
func NewSpinner(label string) *Spinner {
	return &Spinner{label: label, done: make(chan struct{})}
}

// Start begins the spinner animation in a goroutine.
func (s *Spinner) Start() {
	s.mu.Lock()
	s.active = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				outMu.Lock()
				fmt.Fprintf(out, "\r%s %s ", StylePrimary.Render(spinnerFrames[i%len(spinnerFrames)]), StyleText.Render(s.label))
				outMu.Unlock()
			}
		}
	}()
}

// Stop halts the spinner and prints the final status.
func (s *Spinner) Stop(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	close(s.done)
	s.active = false

	mark := StyleSuccess.Render("✓")
	if !success {
		mark = StyleError.Render("✗")
	}
	outMu.Lock()
	fmt.Fprintf(out, "\r%s %s\n", mark, StyleText.Render(s.label))
	outMu.Unlock()
}

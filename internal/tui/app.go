// Package tui defines the Bubble Tea model for berth's interactive dashboard.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/internal/tui/components"
)

// RefreshInterval is how often containers and history are reloaded.
const RefreshInterval = 2 * time.Second

// Store is the read side of the state database the dashboard shows.
type Store interface {
	ListTargets() ([]v1.TargetInfo, error)
	ListContainers(target string) ([]v1.Container, error)
	ListDeployments(definition string, limit int) ([]v1.DeploymentRecord, error)
}

// Config carries dependencies into the TUI app.
type Config struct {
	Project string
	State   Store
	// Watcher is optional. When set, target status changes arrive live.
	Watcher *remote.Watcher
	Log     *logger.Logger
}

// Panel identifies which main panel has focus.
type Panel int

const (
	PanelContainers Panel = iota
	PanelHistory
	panelCount
)

// HistoryLimit caps the records loaded into the history panel.
const HistoryLimit = 200

// Model is the root Bubble Tea model.
type Model struct {
	cfg Config

	width  int
	height int

	panel      Panel
	targets    []v1.TargetInfo
	containers []v1.Container
	history    viewport.Model
	selected   int

	header  components.Header
	sidebar components.Sidebar
	footer  components.Footer
	modal   *components.Modal

	keys   Keymap
	styles Styles
}

type tickMsg time.Time

type targetsMsg []v1.TargetInfo

type containersMsg []v1.Container

type historyMsg []v1.DeploymentRecord

type targetEventMsg remote.TargetEvent

type errMsg struct{ err error }

// New constructs a new TUI Model.
func New(cfg Config) *Model {
	styles := newStyles()
	hv := viewport.New(0, 0)
	hv.Style = styles.History

	return &Model{
		cfg:     cfg,
		history: hv,
		keys:    defaultKeymap(),
		styles:  styles,
		header:  components.NewHeader(cfg.Project),
		sidebar: components.NewSidebar(),
		footer:  components.NewFooter(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.tickCmd(),
		m.loadTargetsCmd(),
		m.loadContainersCmd(),
		m.loadHistoryCmd(),
		m.waitEventCmd(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.history.Width = m.width - components.SidebarWidth - 2
		m.history.Height = m.height - 6

	case tea.KeyMsg:
		if m.modal != nil {
			if m.modal.HandleKey(msg) {
				m.modal = nil
			}
			return m, nil
		}
		if cmd := m.handleKey(msg); cmd != nil {
			return m, cmd
		}

	case tickMsg:
		cmds = append(cmds, m.tickCmd(), m.loadContainersCmd(), m.loadHistoryCmd())

	case targetsMsg:
		m.targets = msg
		m.sidebar.SetTargets(m.targets)
		m.header.SetTargetCount(len(msg))

	case targetEventMsg:
		m.applyEvent(remote.TargetEvent(msg))
		cmds = append(cmds, m.waitEventCmd())

	case containersMsg:
		m.containers = msg
		if m.selected >= len(msg) {
			m.selected = max(len(msg)-1, 0)
		}
		m.header.SetContainerCount(len(msg))

	case historyMsg:
		m.history.SetContent(components.RenderHistory(msg))

	case errMsg:
		m.footer.SetError(msg.err)
		if m.cfg.Log != nil {
			m.cfg.Log.Warn("dashboard refresh failed", "err", msg.err)
		}
	}

	if m.panel == PanelHistory {
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case m.keys.Quit, "ctrl+c":
		return tea.Quit
	case m.keys.TabNext:
		m.panel = (m.panel + 1) % panelCount
	case m.keys.TabPrev:
		m.panel = (m.panel + panelCount - 1) % panelCount
	case m.keys.NavDown, "j":
		if m.panel == PanelContainers && m.selected < len(m.containers)-1 {
			m.selected++
		}
	case m.keys.NavUp, "k":
		if m.panel == PanelContainers && m.selected > 0 {
			m.selected--
		}
	case m.keys.History:
		m.panel = PanelHistory
	case m.keys.Refresh:
		return tea.Batch(m.loadTargetsCmd(), m.loadContainersCmd(), m.loadHistoryCmd())
	case m.keys.Help:
		m.modal = components.NewHelpModal(HelpText(), m.styles.Modal)
	}
	return nil
}

// applyEvent updates the status of one target in place.
func (m *Model) applyEvent(ev remote.TargetEvent) {
	for i := range m.targets {
		if m.targets[i].Name == ev.Target {
			m.targets[i].Status = ev.Status
			m.targets[i].LastSeen = time.Now()
		}
	}
	m.sidebar.SetTargets(m.targets)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := m.header.View(m.width)
	sidebar := m.sidebar.View(components.SidebarWidth, m.height-4)
	body := lipgloss.JoinHorizontal(lipgloss.Top, sidebar, m.renderMain())
	view := lipgloss.JoinVertical(lipgloss.Left, header, body, m.footer.View(m.width))

	if m.modal != nil {
		view = m.modal.Overlay(m.width, m.height)
	}
	return view
}

func (m *Model) renderMain() string {
	width := m.width - components.SidebarWidth - 2
	switch m.panel {
	case PanelHistory:
		title := m.styles.PanelTitle.Render("HISTORY")
		return lipgloss.JoinVertical(lipgloss.Left, title, m.history.View())
	default:
		return components.RenderContainersTable(m.containers, m.selected, width, m.height-6)
	}
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) loadTargetsCmd() tea.Cmd {
	return func() tea.Msg {
		targets, err := m.cfg.State.ListTargets()
		if err != nil {
			return errMsg{fmt.Errorf("targets: %w", err)}
		}
		return targetsMsg(targets)
	}
}

func (m *Model) loadContainersCmd() tea.Cmd {
	return func() tea.Msg {
		containers, err := m.cfg.State.ListContainers("")
		if err != nil {
			return errMsg{fmt.Errorf("containers: %w", err)}
		}
		return containersMsg(containers)
	}
}

func (m *Model) loadHistoryCmd() tea.Cmd {
	return func() tea.Msg {
		recs, err := m.cfg.State.ListDeployments("", HistoryLimit)
		if err != nil {
			return errMsg{fmt.Errorf("history: %w", err)}
		}
		return historyMsg(recs)
	}
}

// waitEventCmd blocks on the next watcher event.
func (m *Model) waitEventCmd() tea.Cmd {
	if m.cfg.Watcher == nil {
		return nil
	}
	events := m.cfg.Watcher.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return targetEventMsg(ev)
	}
}

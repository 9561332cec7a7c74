// berth ui: launch the interactive dashboard.
package commands

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/f9-o/berth/internal/health"
	"github.com/f9-o/berth/internal/remote"
	"github.com/f9-o/berth/internal/tui"
)

// NewUICmd opens the dashboard over the state database.
func NewUICmd() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "ui",
		Short: "Launch the interactive dashboard",
		Example: `  berth ui
  berth ui --watch`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())

			cfg := tui.Config{Project: rt.Config.System.Name, State: rt.State, Log: rt.Log}
			if watch {
				inv := remote.NewInventory(rt.State)
				targets, err := inv.List()
				if err != nil {
					return err
				}
				w := remote.NewWatcher(inv, health.TCPProbe(health.DefaultTimeout), rt.Log)
				defer w.StopAll()
				for _, t := range targets {
					w.Watch(t)
				}
				cfg.Watcher = w
			}

			p := tea.NewProgram(tui.New(cfg), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := p.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "Probe registered targets and show their status live")
	return cmd
}

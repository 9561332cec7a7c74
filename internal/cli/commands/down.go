// berth down: stop, unlink and undeploy containers.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/f9-o/berth/pkg/pprint"
)

// NewDownCmd takes containers out of service.
func NewDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down [container...]",
		Short: "Stop, unlink and undeploy containers (all when none are named)",
		Example: `  berth down              # every container in berth.yaml
  berth down web-1 web-2  # specific containers
  berth down --dry-run    # print the commands only`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			svc, err := rt.Services()
			if err != nil {
				return err
			}
			if err := svc.Orchestrator.Down(cmd.Context(), args, rt.Options()); err != nil {
				return fmt.Errorf("down: %w", err)
			}
			if !rt.Flags.JSONOutput {
				pprint.Success("Containers stopped")
			}
			return nil
		},
	}
}

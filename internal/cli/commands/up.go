// berth up: build, deploy, start and link the containers of berth.yaml.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/f9-o/berth/pkg/pprint"
)

// NewUpCmd brings containers into service.
func NewUpCmd() *cobra.Command {
	var noBuild bool

	cmd := &cobra.Command{
		Use:   "up [container...]",
		Short: "Build, deploy, start and link containers (all when none are named)",
		Example: `  berth up
  berth up web-1 web-2
  berth up --no-build --target 10.0.0.7`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			svc, err := rt.Services()
			if err != nil {
				return err
			}

			if !rt.Flags.JSONOutput {
				pprint.Header("Bringing containers up")
			}
			if !rt.Flags.DryRun {
				spinner := pprint.NewSpinner("Connecting to Docker")
				spinner.Start()
				if err := svc.Engine.Ping(cmd.Context()); err != nil {
					spinner.Stop(false)
					pprint.Info("Make sure the docker daemon at %q is running.", rt.DockerHost())
					return err
				}
				spinner.Stop(true)
			}

			opts := rt.Options()
			opts.NoBuild = noBuild
			if err := svc.Orchestrator.Up(cmd.Context(), args, opts); err != nil {
				return err
			}
			if !rt.Flags.JSONOutput {
				fmt.Println()
				pprint.Success("All containers linked")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noBuild, "no-build", false, "Skip the build step and use the last built images")
	return cmd
}

// berth build/deploy/start/stop/link/unlink/undeploy: single operations.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/f9-o/berth/internal/orchestrator"
	"github.com/f9-o/berth/pkg/pprint"
)

// containerOp is an orchestrator method taking a container id.
type containerOp func(*orchestrator.Orchestrator, context.Context, string, orchestrator.Options) error

func newContainerOpCmd(use, short, done string, op containerOp, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:          use + " <container...>",
		Aliases:      aliases,
		Short:        short,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		Example:      fmt.Sprintf("  berth %s web-1\n  berth %s web-1 web-2 --dry-run\n  berth %s web-1 --target 10.0.0.7", use, use, use),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			svc, err := rt.Services()
			if err != nil {
				return err
			}
			opts := rt.Options()
			for _, id := range args {
				if err := op(svc.Orchestrator, cmd.Context(), id, opts); err != nil {
					return err
				}
				if !rt.Flags.JSONOutput {
					pprint.Success("%s %s", id, done)
				}
			}
			return nil
		},
	}
}

// NewDeployCmd makes the image of each container available on its target.
func NewDeployCmd() *cobra.Command {
	return newContainerOpCmd("deploy", "Transfer or pull the container image onto its target", "deployed",
		(*orchestrator.Orchestrator).Deploy, "add")
}

// NewStartCmd runs each container on its target.
func NewStartCmd() *cobra.Command {
	return newContainerOpCmd("start", "Run the container on its target", "started",
		(*orchestrator.Orchestrator).Start)
}

// NewStopCmd kills each running container.
func NewStopCmd() *cobra.Command {
	return newContainerOpCmd("stop", "Kill the running container", "stopped",
		(*orchestrator.Orchestrator).Stop)
}

// NewLinkCmd brings containers into service and purges aged images.
func NewLinkCmd() *cobra.Command {
	return newContainerOpCmd("link", "Bring the container into service and purge old images", "linked",
		(*orchestrator.Orchestrator).Link)
}

// NewUnlinkCmd takes containers out of service.
func NewUnlinkCmd() *cobra.Command {
	return newContainerOpCmd("unlink", "Take the container out of service", "unlinked",
		(*orchestrator.Orchestrator).Unlink)
}

// NewUndeployCmd cleans exited containers and dangling images off the target.
func NewUndeployCmd() *cobra.Command {
	return newContainerOpCmd("undeploy", "Remove exited containers and untagged images from the target", "undeployed",
		(*orchestrator.Orchestrator).Undeploy, "remove")
}

// NewBuildCmd builds definitions.
func NewBuildCmd() *cobra.Command {
	var fromCWD bool

	cmd := &cobra.Command{
		Use:   "build <definition...>",
		Short: "Build the image of a definition and push it to the local registry",
		Args:  cobra.MinimumNArgs(1),
		Example: `  berth build web
  berth build web --cwd
  berth build cache --dry-run`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			svc, err := rt.Services()
			if err != nil {
				return err
			}
			opts := rt.Options()
			opts.FromCWD = fromCWD

			for _, id := range args {
				art, err := svc.Orchestrator.Build(cmd.Context(), id, opts)
				if err != nil {
					return err
				}
				if rt.Flags.JSONOutput || rt.Flags.DryRun {
					continue
				}
				pprint.Success("%s built", id)
				pprint.KV("Image", art.ImageTag)
				pprint.KV("Image ID", art.DockerImageID)
				if art.BuildNumber != "" {
					pprint.KV("Build", art.BuildNumber)
				}
				if art.Binary != "" {
					pprint.KV("Export", art.Binary)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fromCWD, "cwd", false, "Build the working directory instead of the workspace checkout")
	return cmd
}

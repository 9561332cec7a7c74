// berth registry: run the local registry until interrupted.
package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/f9-o/berth/internal/metrics"
	"github.com/f9-o/berth/pkg/pprint"
)

// NewRegistryCmd starts the registry service and keeps its tunnel open.
func NewRegistryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "registry",
		Short: "Run the local image registry (and its tunnel) until interrupted",
		Long: `Starts the berth-registry container on the build daemon. When the daemon is
remote, a tunnel makes the registry reachable on 127.0.0.1 here. With
metrics.enabled the Prometheus endpoint is served for as long as it runs.`,
		Example: `  berth registry
  berth registry --dry-run`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			svc, err := rt.Services()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := svc.Registry.Start(ctx, rt.Mode(), rt.Output()); err != nil {
				return err
			}
			if rt.Flags.DryRun {
				return nil
			}
			defer func() {
				if err := svc.Registry.Stop(context.Background()); err != nil {
					rt.Log.Warn("registry stop failed", "err", err)
				}
			}()

			if rt.Config.Metrics.Enabled {
				srv := &http.Server{
					Addr:              fmt.Sprintf(":%d", rt.Config.Metrics.Port),
					Handler:           metrics.Handler(),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						rt.Log.Error("metrics endpoint failed", "err", err)
					}
				}()
				defer srv.Close()
				pprint.KV("Metrics", fmt.Sprintf("http://localhost%s/metrics", srv.Addr))
			}

			pprint.Success("Registry listening on %s (Ctrl+C to stop)", rt.Config.RegistryAddress())
			<-ctx.Done()
			pprint.Info("Stopping registry...")
			return nil
		},
	}
}

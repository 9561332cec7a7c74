// Package cli defines the root Cobra command and global flag/context setup.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/f9-o/berth/internal/cli/commands"
	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/internal/core/logger"
	"github.com/f9-o/berth/internal/core/state"
	"github.com/f9-o/berth/pkg/pprint"
)

// globalFlags holds values bound to persistent global flags.
var globalFlags struct {
	configFile string
	target     string
	debug      bool
	jsonOutput bool
	dryRun     bool
}

// skipRuntime lists the commands that run without config, logger or state.
var skipRuntime = map[string]bool{
	"version":    true,
	"completion": true,
	"init":       true,
	"help":       true,
}

// NewRootCmd assembles the berth command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "berth",
		Short: "berth builds container images and moves them through deploy, start and link",
		Long: `berth builds the images declared in berth.yaml, pushes them to a local
registry and drives each placed container through deploy, start, link, unlink,
stop and undeploy on the local daemon or on remote targets over SSH.

Every command accepts --dry-run to print the commands it would run instead.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipRuntime[cmd.Name()] {
				return nil
			}
			return initRuntime(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if skipRuntime[cmd.Name()] {
				return
			}
			commands.FromContext(cmd.Context()).Close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&globalFlags.configFile, "config", "c", "", "Path to berth.yaml (defaults to auto-discovery)")
	pf.StringVarP(&globalFlags.target, "target", "t", "", "Place every container on this target (name or address)")
	pf.BoolVar(&globalFlags.debug, "debug", false, "Enable debug-level logging")
	pf.BoolVar(&globalFlags.jsonOutput, "json", false, "Output in machine-readable JSON")
	pf.BoolVar(&globalFlags.dryRun, "dry-run", false, "Print planned commands without executing")

	root.AddCommand(
		commands.NewInitCmd(),
		commands.NewBuildCmd(),
		commands.NewDeployCmd(),
		commands.NewStartCmd(),
		commands.NewStopCmd(),
		commands.NewLinkCmd(),
		commands.NewUnlinkCmd(),
		commands.NewUndeployCmd(),
		commands.NewUpCmd(),
		commands.NewDownCmd(),
		commands.NewImagesCmd(),
		commands.NewTargetsCmd(),
		commands.NewRegistryCmd(),
		commands.NewHistoryCmd(),
		commands.NewUICmd(),
		commands.NewVersionCmd(),
	)

	origHelp := root.HelpFunc()
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		pprint.PrintBanner(commands.Version, commands.BuildDate)
		origHelp(cmd, args)
	})
	return root
}

// Execute runs the CLI. Called by main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		pprint.Error("%s", err)
		os.Exit(1)
	}
}

// initRuntime loads config, logger and state before each command runs.
func initRuntime(cmd *cobra.Command) error {
	cfg, err := config.Load(globalFlags.configFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	home := config.BerthHome()
	logFile := filepath.Join(home, "logs", "berth.log")
	if err := os.MkdirAll(filepath.Dir(logFile), 0o750); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	log, err := logger.Init(cfg.Log.Level, cfg.Log.Format, logFile, home, globalFlags.debug)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}

	db, err := state.Open(filepath.Join(home, "state.db"))
	if err != nil {
		return fmt.Errorf("state db: %w", err)
	}

	cmd.SetContext(commands.NewContext(cmd.Context(), &commands.Runtime{
		Config: cfg,
		Log:    log,
		State:  db,
		Flags: commands.GlobalFlags{
			Target:     globalFlags.target,
			Debug:      globalFlags.debug,
			JSONOutput: globalFlags.jsonOutput,
			DryRun:     globalFlags.dryRun,
		},
	}))
	return nil
}

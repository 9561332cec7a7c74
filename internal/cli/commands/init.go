// berth init: scaffold a new berth.yaml in the target directory.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/f9-o/berth/internal/core/config"
	"github.com/f9-o/berth/pkg/pprint"
)

// NewInitCmd writes a starter manifest.
func NewInitCmd() *cobra.Command {
	var targetPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold a new berth.yaml in the current (or specified) directory",
		Example: `  berth init
  berth init --path ./my-project`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.CheckTemplate(config.DefaultConfigTemplate); err != nil {
				return err
			}
			outFile := filepath.Join(targetPath, config.ProjectFile)
			if _, err := os.Stat(outFile); err == nil {
				return fmt.Errorf("%s already exists at %s, delete it first to reinitialise", config.ProjectFile, outFile)
			}
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return fmt.Errorf("create dir %q: %w", targetPath, err)
			}
			if err := os.WriteFile(outFile, []byte(config.DefaultConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", config.ProjectFile, err)
			}

			pprint.Success("Created %s", outFile)
			pprint.Info("Edit it to define your definitions and containers, then run: berth up")
			return nil
		},
	}

	cmd.Flags().StringVar(&targetPath, "path", ".", "Target directory for berth.yaml")
	return cmd
}

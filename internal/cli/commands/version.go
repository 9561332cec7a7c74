// berth version: print build information.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/pkg/pprint"
)

// Set from cmd/berth at start-up.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"os_arch"`
	PluginAPI string `json:"plugin_api"`
}

// CurrentBuild returns the build information, falling back to the VCS
// revision recorded by the Go toolchain when no commit was linked in.
func CurrentBuild() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		PluginAPI: v1.PluginAPIVersion,
	}
	if info.Commit != "unknown" {
		return info
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				info.Commit = s.Value[:7]
			}
		}
	}
	return info
}

// NewVersionCmd prints build information.
func NewVersionCmd() *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:          "version",
		Short:        "Print berth version information",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := CurrentBuild()
			if short {
				fmt.Println(info.Version)
				return nil
			}
			if jsonFlag, _ := cmd.Flags().GetBool("json"); jsonFlag {
				return json.NewEncoder(os.Stdout).Encode(info)
			}

			pprint.PrintBanner(info.Version, info.BuildDate)
			t := pprint.NewTable("FIELD", "VALUE")
			t.AddRow("Version", info.Version)
			t.AddRow("Commit", info.Commit)
			t.AddRow("Built", info.BuildDate)
			t.AddRow("Go", info.GoVersion)
			t.AddRow("Platform", info.Platform)
			t.AddRow("Plugin API", info.PluginAPI)
			t.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print the version number only")
	return cmd
}

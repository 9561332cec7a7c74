// berth images: show the image tags of a definition and the retention verdict.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	v1 "github.com/f9-o/berth/api/v1"
	"github.com/f9-o/berth/internal/engine"
	"github.com/f9-o/berth/pkg/pprint"
)

// imageRow is one tag with the verdict the retention policy gives it.
type imageRow struct {
	Tag     string `json:"tag"               yaml:"tag"`
	Verdict string `json:"verdict"           yaml:"verdict"`
	ID      string `json:"id,omitempty"      yaml:"id,omitempty"`
	Created int64  `json:"created,omitempty" yaml:"created,omitempty"`
}

const (
	verdictKeep  = "keep"
	verdictPurge = "purge"
	verdictLocal = "untracked"
)

// NewImagesCmd lists the tags recorded for a definition.
func NewImagesCmd() *cobra.Command {
	var (
		local  bool
		asYAML bool
	)

	cmd := &cobra.Command{
		Use:   "images <definition>",
		Short: "List the recorded image tags of a definition and what the next link purges",
		Args:  cobra.ExactArgs(1),
		Example: `  berth images web
  berth images web --local
  berth images web --yaml`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			svc, err := rt.Services()
			if err != nil {
				return err
			}
			def, err := svc.Orchestrator.Definition(args[0])
			if err != nil {
				return err
			}

			rows := verdicts(def, svc.Templates.PurgeTags(def))
			if local {
				images, err := svc.Engine.ListTagged(cmd.Context(), svc.Templates.Tag(rt.Config.System, def))
				if err != nil {
					return err
				}
				rows = mergeLocal(rows, images)
			}

			switch {
			case rt.Flags.JSONOutput:
				return json.NewEncoder(os.Stdout).Encode(rows)
			case asYAML:
				enc := yaml.NewEncoder(os.Stdout)
				defer enc.Close()
				return enc.Encode(rows)
			}

			if len(rows) == 0 {
				pprint.Info("No images recorded for %q. Run 'berth build %s' first.", def.ID, def.ID)
				return nil
			}
			t := pprint.NewTable("TAG", "VERDICT", "ID")
			for _, r := range rows {
				t.AddRow(r.Tag, r.Verdict, shortID(r.ID))
			}
			t.Render()
			if commit := def.Commit(); commit != "" {
				pprint.KV("Pinned commit", commit)
			}
			pprint.KV("Window", fmt.Sprint(rt.Config.Retention.Window))
			return nil
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "Include the tags present in the local daemon")
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "Output as YAML")
	return cmd
}

// verdicts marks each recorded tag, oldest first.
func verdicts(def *v1.Definition, doomed []string) []imageRow {
	rows := make([]imageRow, 0, len(def.Artifact.ImageTags))
	for _, tag := range def.Artifact.ImageTags {
		verdict := verdictKeep
		if slices.Contains(doomed, tag) {
			verdict = verdictPurge
		}
		rows = append(rows, imageRow{Tag: tag, Verdict: verdict})
	}
	return rows
}

// mergeLocal fills image ids from the daemon and appends the local tags
// the artifact does not record.
func mergeLocal(rows []imageRow, images []engine.Image) []imageRow {
	seen := make(map[string]int, len(rows))
	for i, r := range rows {
		seen[r.Tag] = i
	}
	for _, img := range images {
		if i, ok := seen[img.Tag]; ok {
			rows[i].ID, rows[i].Created = img.ID, img.Created
			continue
		}
		rows = append(rows, imageRow{Tag: img.Tag, Verdict: verdictLocal, ID: img.ID, Created: img.Created})
	}
	return rows
}

func shortID(id string) string {
	id = strings.TrimPrefix(id, "sha256:")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

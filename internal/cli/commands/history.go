// berth history: show recorded lifecycle operations.
package commands

import (
	"encoding/json"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/f9-o/berth/pkg/pprint"
)

// NewHistoryCmd lists deployment records, newest first.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [definition]",
		Short: "Show recorded build and lifecycle operations",
		Args:  cobra.MaximumNArgs(1),
		Example: `  berth history
  berth history web --limit 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := FromContext(cmd.Context())
			var definition string
			if len(args) == 1 {
				definition = args[0]
			}
			recs, err := rt.State.ListDeployments(definition, limit)
			if err != nil {
				return err
			}
			if rt.Flags.JSONOutput {
				return json.NewEncoder(os.Stdout).Encode(recs)
			}
			if len(recs) == 0 {
				pprint.Info("No operations recorded yet")
				return nil
			}

			t := pprint.NewTable("STARTED", "OP", "DEFINITION", "CONTAINER", "TARGET", "RESULT", "DURATION")
			for _, r := range recs {
				target := r.Target
				if target == "" {
					target = "local"
				}
				t.AddRow(
					r.StartedAt.Local().Format("2006-01-02 15:04:05"),
					r.Op, r.Definition, r.Container, target,
					r.Result, strconv.FormatInt(r.DurationMS, 10)+"ms",
				)
			}
			t.Render()
			for _, r := range recs {
				if r.Error != "" {
					pprint.Warn("%s %s: %s", r.Op, firstNonEmpty(r.Container, r.Definition), r.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show (0 for all)")
	return cmd
}

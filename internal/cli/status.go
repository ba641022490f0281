package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show all supervised instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newAPIClient(cfg.Control.Port)

			resp, err := client.status(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}

			if len(resp.Instances) == 0 {
				fmt.Println("No supervised instances.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PID\tSTATUS\tINTERVENTIONS\tFAILURES\tMESSAGE\tUPDATED")
			for _, snap := range resp.Instances {
				fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n",
					snap.Instance.PID,
					snap.Status.String(),
					snap.Interventions,
					snap.Failures,
					snap.Message,
					humanAge(snap.UpdatedAt),
				)
			}
			return w.Flush()
		},
	}
}

// humanAge renders "how long ago" for status rows.
func humanAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

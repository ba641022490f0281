package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		pid   int
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent automatic interventions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newAPIClient(cfg.Control.Port)

			resp, err := client.history(cmd.Context(), pid, limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(resp)
			}

			if len(resp.Entries) == 0 {
				fmt.Println("No interventions recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tPID\tKIND\tRECOVERY\tATTEMPT\tMESSAGE")
			for _, e := range resp.Entries {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\t%s\n",
					e.RecordedAt.Local().Format("2006-01-02 15:04:05"),
					e.PID, e.Kind, e.Recovery, e.Attempt, e.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "filter by instance pid (0 = all)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum entries to show")
	return cmd
}

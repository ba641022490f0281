package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/vigildev/vigil/internal/instance"
	"github.com/vigildev/vigil/internal/tui"
)

func newDashboardCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Open the live supervision dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
				return fmt.Errorf("dashboard requires a terminal; use 'vigil status' instead")
			}

			if noColor {
				tui.DisableColor()
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := &dashboardClient{api: newAPIClient(cfg.Control.Port)}

			model := tui.New(client, interval)
			p := tea.NewProgram(model, tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", tui.DefaultRefreshInterval, "refresh interval")
	return cmd
}

// dashboardClient adapts the control-API client to the dashboard contract.
type dashboardClient struct {
	api *apiClient
}

func (c *dashboardClient) Status() ([]instance.Snapshot, error) {
	resp, err := c.api.status(context.Background())
	if err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

func (c *dashboardClient) Pause(pid int) error  { return c.api.pause(context.Background(), pid) }
func (c *dashboardClient) Resume(pid int) error { return c.api.resume(context.Background(), pid) }
func (c *dashboardClient) Reset(pid int) error  { return c.api.reset(context.Background(), pid) }

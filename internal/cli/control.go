package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <pid>",
		Short: "Stop intervening on one instance",
		Long: `Marks the instance manually paused. The monitor keeps tracking it
but performs no classification or recovery until resumed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlAction(cmd.Context(), args[0], "paused", func(ctx context.Context, c *apiClient, pid int) error {
				return c.pause(ctx, pid)
			})
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <pid>",
		Short: "Resume supervision of a paused instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlAction(cmd.Context(), args[0], "resumed", func(ctx context.Context, c *apiClient, pid int) error {
				return c.resume(ctx, pid)
			})
		},
	}
}

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <pid>",
		Short: "Reset an instance's intervention counters",
		Long: `Clears the intervention and failure counters for the instance.
This is the only way out of the intervention-limit pause and the
unrecoverable state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return controlAction(cmd.Context(), args[0], "reset", func(ctx context.Context, c *apiClient, pid int) error {
				return c.reset(ctx, pid)
			})
		},
	}
}

func controlAction(ctx context.Context, pidArg, verb string, fn func(context.Context, *apiClient, int) error) error {
	pid, err := strconv.Atoi(pidArg)
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", pidArg)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := newAPIClient(cfg.Control.Port)

	if err := fn(ctx, client, pid); err != nil {
		return err
	}
	if jsonOutput {
		fmt.Printf(`{"pid":%d,"action":%q}`+"\n", pid, verb)
		return nil
	}
	fmt.Printf("Instance %d %s.\n", pid, verb)
	return nil
}

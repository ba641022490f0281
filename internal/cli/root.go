// Package cli implements the vigil command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vigildev/vigil/internal/config"
)

var (
	cfgFile string

	// Global JSON output flag - inherited by all subcommands
	jsonOutput bool

	// Global color control flag - inherited by all subcommands
	noColor bool

	verbose bool

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Supervise IDE-embedded AI assistants and recover them when stuck",
	Long: `Vigil watches running IDE instances with an embedded AI coding
assistant, detects when the assistant is stuck, disconnected, or errored,
and intervenes automatically within configured limits.

Quick Start:
  vigil monitor                 # Run the supervision loop in the foreground
  vigil status                  # Show all supervised instances
  vigil dashboard               # Open the live TUI dashboard
  vigil pause 12345             # Stop intervening on one instance
  vigil history --limit 20      # Recent automatic interventions`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			os.Setenv("NO_COLOR", "1")
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newDashboardCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				fmt.Printf(`{"version":%q,"commit":%q,"date":%q}`+"\n", Version, Commit, Date)
				return nil
			}
			fmt.Printf("vigil %s (commit %s, built %s)\n", Version, Commit, Date)
			return nil
		},
	}
}

// loggerFor returns the default logger tagged with a subsystem name.
func loggerFor(name string) *slog.Logger {
	return slog.Default().With("subsystem", name)
}

// loadConfig loads the effective configuration honoring --config.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

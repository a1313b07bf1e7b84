package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "tracktime",
	Short: "Tracktime - foreground application time tracker",
	Long: `Tracktime samples the foreground application once a second and keeps
a per-day ledger of how long each application had focus. Ledgers can be
pushed to Dropbox, a REST API or Redis and queried by day or month.`,
	Version: version,
	// Default to running the tracker when no subcommand is specified
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTrack(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to configuration file")
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tracktime.yaml"
	}
	return filepath.Join(dir, "tracktime", "config.yaml")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

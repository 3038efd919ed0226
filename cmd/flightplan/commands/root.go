// Package commands implements the flightplan CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "flightplan",
	Short: "Rehearse and execute agent task plans",
	Long: `Flightplan takes a task plan produced by an agent, validates its
dependency structure, rehearses it against simulated tools, and reports
what would happen before anything real runs.

Write plans in YAML, inspect their structure with 'flightplan inspect',
and rehearse them with 'flightplan run'.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose output")
}

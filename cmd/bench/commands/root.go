// Package commands holds the bench CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bench",
	Short: "Load generator for the write-behind entity cache",
	Long: `bench runs a Zipf-distributed read/mutate workload against an entity
cache backed by an in-memory or BadgerDB store, then reports throughput,
hit rate and storage write counts.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default $XDG_CONFIG_HOME/writebehind/config.yaml)")
	rootCmd.AddCommand(runCmd, configCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

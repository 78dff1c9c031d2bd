package cmd

import (
	"github.com/spf13/cobra"
)

var (
	dataDirFlag string
	configFlag  string
)

var rootCmd = &cobra.Command{
	Use:           "quidx-inspect",
	Short:         "Inspect, recover, and upgrade quidx queue index directories",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "path to YAML config file, read by serve only (there it overrides --data-dir and other defaults)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "./data", "root directory containing queue index subdirectories")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(walkCmd)
	rootCmd.AddCommand(serveCmd)
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/aatumaykin/schedbot/internal/version"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "schedbot",
	Short: "Schedbot - cron-driven recipe execution for autonomous agents",
	Long: `Schedbot runs recipe-driven AI agent jobs on a cron schedule, outside
of any interactive session. Each firing gets an isolated agent and its own
persisted session transcript.`,
	Version: version.Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "schedbot.toml", "path to configuration file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scheduleCmd)
}

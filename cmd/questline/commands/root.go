// Package commands implements the questline CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time
	Version = "0.2.0"
)

var rootCmd = &cobra.Command{
	Use:   "questline",
	Short: "Gamified task verification engine for messaging communities",
	Long: `Questline assigns time-bounded engagement tasks to community members
(join the channel, mention the bot, forward the post, keep a streak, ...)
and verifies completion from the platform's event stream, handing out
XP, badges, and token rewards.

Configure tasks in questline.yaml and run "questline serve" to start
the engine.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file")
}

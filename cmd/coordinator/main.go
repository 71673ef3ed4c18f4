package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Room lifecycle coordinator for remote screen sharing",
	Long: `coordinator runs the room, presence, control and signaling service behind
remote screen sharing sessions, and can attach to a live room as a watcher.`,
}

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(serveCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

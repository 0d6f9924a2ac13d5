package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stupid-tg-bot",
	Short: "A declarative dialog engine with chat-bot scenarios",
	Long: `stupid-tg-bot runs conversational scenarios defined as declarative
step chains: questions, choices, actions and conditional transitions,
with durable per-user sessions and recovery.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML config file")
}

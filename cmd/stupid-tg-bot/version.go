package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of stupid-tg-bot",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stupid-tg-bot version %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

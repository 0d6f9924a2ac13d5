package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ilvi89/stupid-tg-bot/internal/transport/console"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
)

var (
	runUserID int64
	runChatID int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start an interactive console session",
	Long: `Run starts a terminal REPL wired to the dialog engine. Type a
scenario trigger (for example /register) to start a conversation,
/cancel to abandon it and /exit to quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		term, err := console.New()
		if err != nil {
			return err
		}
		identity := dialog.Identity{UserID: runUserID, ChatID: runChatID}
		return term.Run(ctx, c.app, identity)
	},
}

func init() {
	runCmd.Flags().Int64Var(&runUserID, "user", 1, "user id for the console identity")
	runCmd.Flags().Int64Var(&runChatID, "chat", 1, "chat id for the console identity")
	rootCmd.AddCommand(runCmd)
}

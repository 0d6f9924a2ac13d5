package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete sessions older than the configured TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		n, err := c.engine.Sessions().SweepExpired(cmd.Context(), c.cfg.Session.TTL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Swept %d expired session(s).\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

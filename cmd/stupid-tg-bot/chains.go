package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var chainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "List the registered scenarios",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHAIN\tNAME\tTRIGGERS\tAUDIENCE\tCATEGORY\tSTEPS")
		for _, s := range c.app.Registry().List() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
				s.Chain.ID, s.Chain.Name, strings.Join(s.Triggers, ", "),
				s.Audience, s.Category, len(s.Chain.Steps))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(chainsCmd)
}

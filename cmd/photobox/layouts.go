package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cjeanneret/photobox/internal/layout"
)

func newLayoutsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List the selectable layouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := layout.FromConfig(a.cfg.Layouts)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPHOTOS\tTEMPLATE")
			for _, l := range reg.List() {
				mark := ""
				if l.ID == a.cfg.Session.DefaultLayout {
					mark = " (default)"
				}
				fmt.Fprintf(tw, "%s%s\t%s\t%d\t%s\n", l.ID, mark, l.Name, l.MaxShots, l.Overlay)
			}
			return tw.Flush()
		},
	}
}

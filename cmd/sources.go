package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List the enabled sources and their plans",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CODE\tNAME\tPAGES\tBASE URL")
			for _, src := range a.Registry.Sources() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", src.Code, src.Name, len(src.Pages), src.BaseURL)
			}
			return w.Flush()
		},
	}
}

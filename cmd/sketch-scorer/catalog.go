package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/menta2k/sketch-scorer/pkg/catalog"
)

func newCatalogCmd(a *app) *cobra.Command {
	var difficulty string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the reference drawings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := catalog.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}
			drawings := catalog.Filter(d)

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(drawings)
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tDIFFICULTY")
			for _, dr := range drawings {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", dr.ID, dr.Name, dr.Difficulty)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&difficulty, "difficulty", "all", "easy|medium|hard|all")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print drawings as JSON")
	return cmd
}

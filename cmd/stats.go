package cmd

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show scheduling counters per crawl facet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			defer e.close()

			stats, err := e.store.Stats.Collect(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to collect stats: %w", err)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Facet", "Total", "Due", "Leased", "Deleted"})
			for _, s := range stats {
				t.AppendRow(table.Row{s.Facet, s.Total, s.Due, s.Leased, s.Deleted})
			}
			t.Render()
			return nil
		},
	}
}

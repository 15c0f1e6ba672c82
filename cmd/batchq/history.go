package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/nixpig/batchq/internal/history"
	"github.com/spf13/cobra"
)

func (c *cli) historyCmd() *cobra.Command {
	var (
		path  string
		limit int
	)

	command := &cobra.Command{
		Use:     "history [flags]",
		Short:   "List completed jobs recorded by 'batchq run --history'",
		Example: "  batchq history --db batchq.db --limit 10",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(cmd.Context(), path)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

			fmt.Fprintf(w, "RUN\tID\tMODE\tEXIT CODE\tCOMPLETED\tCOMMAND\t\n")
			for _, r := range records {
				fmt.Fprintf(
					w,
					"%s\t%d\t%s\t%d\t%s\t%s\t\n",
					r.RunID,
					r.JobID,
					r.Mode,
					r.ExitCode,
					r.CompletedAt.Local().Format(time.DateTime),
					oneLine(r.Command),
				)
			}

			w.Flush()

			return nil
		},
	}

	command.Flags().StringVar(&path, "db", "batchq.db", "History database")
	command.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to list, 0 for all")

	return command
}

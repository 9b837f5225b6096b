package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/repository/sqlite"
	"gosh-fetch/internal/service"
)

var (
	historyLimit int
	historyClear bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List completed downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := sqlite.OpenStore(ctx, cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		history := service.NewHistoryService(store.Downloads)
		if historyClear {
			n, err := history.Clear(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d completed downloads\n", n)
			return nil
		}

		limit := historyLimit
		if limit <= 0 {
			limit = cfg.History.Limit
		}
		records, err := history.Completed(ctx, limit)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "GID\tNAME\tTYPE\tSIZE\tCOMPLETED")
		for _, r := range records {
			completed := "-"
			if r.CompletedAt != nil {
				completed = r.CompletedAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.GID, r.Name, r.Type, domain.FormatBytes(r.TotalSize), completed)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "Maximum records to print (default history.limit)")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "Delete all completed records instead of listing them")
}

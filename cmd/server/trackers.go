package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gosh-fetch/internal/repository/sqlite"
	"gosh-fetch/internal/trackers"
)

var trackersCmd = &cobra.Command{
	Use:   "trackers",
	Short: "Manage the stored BitTorrent tracker list",
}

var trackersUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch the tracker list now and replace the stored one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := sqlite.OpenStore(ctx, cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		updater := trackers.NewUpdater(trackers.Config{
			URL:    cfg.Trackers.URL,
			Logger: logger,
		}, store.Trackers)
		list, err := updater.Update(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("stored %d trackers from %s\n", len(list), cfg.Trackers.URL)
		return nil
	},
}

func init() {
	trackersCmd.AddCommand(trackersUpdateCmd)
}

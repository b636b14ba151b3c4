package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"medscan-go/internal/core/models"
	"medscan-go/internal/db"
	"medscan-go/internal/db/repository"
	"medscan-go/internal/util/timezone"

	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historyLabel string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent recognitions from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		gdb, err := db.Open(cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close(gdb)
		repo := repository.NewSQLiteRepository(gdb)

		var events []models.RecognitionEvent
		if historyLabel != "" {
			events, err = repo.GetEventsByLabel(historyLabel, historyLimit)
		} else {
			events, _, err = repo.GetEvents(historyLimit, 0)
		}
		if err != nil {
			return fmt.Errorf("failed to list recognitions: %w", err)
		}

		if len(events) == 0 {
			fmt.Println("No recognitions found in database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ID\tMEDICINE\tCONFIDENCE\tCAMERA\tDETECTED")
		fmt.Fprintln(w, "--\t--------\t----------\t------\t--------")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%.0f%%\t%s\t%s\n", e.ID, e.Label, e.Confidence*100, e.Facing, timezone.Format(e.DetectedAt, "2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of recognitions to show")
	historyCmd.Flags().StringVar(&historyLabel, "label", "", "only show recognitions of this medicine")
	rootCmd.AddCommand(historyCmd)
}

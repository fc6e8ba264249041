package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/report"
)

var (
	statsSince time.Duration
	statsXLSX  string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize verification history",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "stats", nil)
		if err != nil {
			return err
		}
		defer env.Close()

		var since time.Time
		if statsSince > 0 {
			since = time.Now().Add(-statsSince)
		}

		stats, err := env.Service.Stats(ctx, since)
		if err != nil {
			return err
		}

		if statsXLSX != "" {
			records, err := env.Store.ListVerifications(ctx, since)
			if err != nil {
				return err
			}
			if err := report.WriteXLSX(statsXLSX, stats, records); err != nil {
				return err
			}
			zap.L().Info("history exported",
				zap.String("path", statsXLSX),
				zap.Int("records", len(records)),
			)
		}

		return printJSON(cmd.OutOrStdout(), stats)
	},
}

func init() {
	statsCmd.Flags().DurationVar(&statsSince, "since", 0, "only include verifications newer than this, e.g. 168h (default all)")
	statsCmd.Flags().StringVar(&statsXLSX, "xlsx", "", "also export the summary and records to this .xlsx file")
	rootCmd.AddCommand(statsCmd)
}

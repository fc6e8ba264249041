package main

import (
	"github.com/spf13/cobra"

	"github.com/BoweryJG/clearverify-patient/internal/catalog"
)

var proceduresCmd = &cobra.Command{
	Use:   "procedures",
	Short: "List the procedure catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := catalog.Load(cfg.Analysis.CatalogPath)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), cat.Procedures)
	},
}

func init() {
	rootCmd.AddCommand(proceduresCmd)
}

package main

import (
	"net/http"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/BoweryJG/clearverify-patient/internal/card"
	"github.com/BoweryJG/clearverify-patient/internal/catalog"
)

var scanRawText bool

var scanCmd = &cobra.Command{
	Use:   "scan <image>",
	Short: "Read insurer, member ID and name from an insurance card image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		image, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrapf(err, "scan: read %s", args[0])
		}

		cat, err := catalog.Load(cfg.Analysis.CatalogPath)
		if err != nil {
			return err
		}
		ext, err := card.NewExtractor(cfg.OCR)
		if err != nil {
			return err
		}

		scanner := &cardScanner{extractor: ext, catalog: cat}
		res, err := scanner.Scan(cmd.Context(), image, http.DetectContentType(image))
		if err != nil {
			return err
		}
		if !scanRawText {
			res.RawText = ""
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	scanCmd.Flags().BoolVar(&scanRawText, "raw", false, "include the OCR text in the output")
	rootCmd.AddCommand(scanCmd)
}

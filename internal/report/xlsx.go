// Package report exports verification history for offline review.
package report

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

// Sheet names in the exported workbook.
const (
	SummarySheet       = "Summary"
	VerificationsSheet = "Verifications"
)

// VerificationHeader is the header row of the verifications sheet.
var VerificationHeader = []string{"ID", "Insurer", "Timestamp", "Success", "Execution (ms)", "Error Kind", "Category", "Data Quality"}

// WriteXLSX writes the summary and the underlying records to path.
func WriteXLSX(path string, stats *model.Stats, records []model.VerificationRecord) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	writeSummary(summary, stats)

	sheet, err := f.AddSheet(VerificationsSheet)
	if err != nil {
		return eris.Wrap(err, "report: add verifications sheet")
	}
	addStrings(sheet.AddRow(), VerificationHeader...)
	for _, rec := range records {
		row := sheet.AddRow()
		addStrings(row, rec.ID, rec.InsurerKey, rec.Timestamp.UTC().Format(time.RFC3339))
		row.AddCell().SetBool(rec.Success)
		row.AddCell().SetInt64(rec.ExecutionTime.Milliseconds())
		addStrings(row, string(rec.ErrorKind))
		if rec.Success {
			addStrings(row, "")
		} else {
			addStrings(row, string(failure.CategoryOf(rec.ErrorKind)))
		}
		row.AddCell().SetFloat(rec.DataQuality)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func writeSummary(sheet *xlsx.Sheet, stats *model.Stats) {
	if stats == nil {
		stats = &model.Stats{}
	}
	metric := func(name string) *xlsx.Row {
		row := sheet.AddRow()
		addStrings(row, name)
		return row
	}
	addStrings(sheet.AddRow(), "Metric", "Value")
	metric("Total verifications").AddCell().SetInt(stats.TotalVerifications)
	metric("Successful verifications").AddCell().SetInt(stats.SuccessfulVerifications)
	metric("Success rate").AddCell().SetFloat(stats.SuccessRate)
	metric("Average execution (ms)").AddCell().SetInt64(stats.AverageExecutionTimeMs)
	metric("Supported insurers").AddCell().SetInt(stats.SupportedInsurers)

	categories := make([]string, 0, len(stats.FailuresByCategory))
	for c := range stats.FailuresByCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		metric("Failures: "+c).AddCell().SetInt(stats.FailuresByCategory[failure.Category(c)])
	}
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

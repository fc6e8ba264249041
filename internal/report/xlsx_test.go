package report

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.xlsx")
	ts := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	stats := &model.Stats{
		TotalVerifications:      2,
		SuccessfulVerifications: 1,
		SuccessRate:             0.5,
		AverageExecutionTimeMs:  4200,
		SupportedInsurers:       1,
		FailuresByCategory:      map[failure.Category]int{failure.CategoryCaptcha: 1},
	}
	records := []model.VerificationRecord{
		{ID: "r1", InsurerKey: "delta dental", Timestamp: ts, Success: true, ExecutionTime: 4200 * time.Millisecond, DataQuality: 0.8},
		{ID: "r2", InsurerKey: "aetna", Timestamp: ts.Add(time.Hour), ErrorKind: failure.KindCaptchaRequired},
	}

	require.NoError(t, WriteXLSX(path, stats, records))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	summary := f.Sheet[SummarySheet]
	require.NotNil(t, summary)
	assert.Equal(t, "Metric", summary.Rows[0].Cells[0].String())
	assert.Equal(t, "Total verifications", summary.Rows[1].Cells[0].String())
	total, err := summary.Rows[1].Cells[1].Int()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	last := summary.Rows[len(summary.Rows)-1]
	assert.Equal(t, "Failures: captcha", last.Cells[0].String())

	sheet := f.Sheet[VerificationsSheet]
	require.NotNil(t, sheet)
	require.Len(t, sheet.Rows, 3)
	for i, h := range VerificationHeader {
		assert.Equal(t, h, sheet.Rows[0].Cells[i].String())
	}

	first := sheet.Rows[1].Cells
	assert.Equal(t, "r1", first[0].String())
	assert.Equal(t, "delta dental", first[1].String())
	assert.Equal(t, "2025-03-01T09:30:00Z", first[2].String())
	ms, err := first[4].Int()
	require.NoError(t, err)
	assert.Equal(t, 4200, ms)
	assert.Empty(t, first[6].String())

	second := sheet.Rows[2].Cells
	assert.Equal(t, string(failure.KindCaptchaRequired), second[5].String())
	assert.Equal(t, string(failure.CategoryCaptcha), second[6].String())
}

func TestWriteXLSX_NilStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, WriteXLSX(path, nil, nil))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sheet[VerificationsSheet].Rows, 1)
}

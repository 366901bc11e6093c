package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

type memoryRunStore struct {
	mu      sync.Mutex
	runs    []models.ReportRun
	saveErr error
}

func (m *memoryRunStore) SaveRun(_ context.Context, run *models.ReportRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	run.ID = uint(len(m.runs) + 1)
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memoryRunStore) ListRuns(_ context.Context, limit int) ([]models.ReportRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.ReportRun(nil), m.runs...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var reportTime = time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)

func newSampleReportService(t *testing.T, runs RunStore) *ReportService {
	t.Helper()
	data := newSampleDatasetService(t, writeSampleFile(t))
	svc := NewReportService(ReportOpts{SaveDir: filepath.Join(t.TempDir(), "reports")}, data, runs, nil)
	svc.now = func() time.Time { return reportTime }
	return svc
}

func TestReportService_GenerateExcelReport(t *testing.T) {
	runs := &memoryRunStore{}
	svc := newSampleReportService(t, runs)

	path, err := svc.GenerateExcelReport(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Equal(t, "joiners_leavers_2024-01-15_093000.xlsx", filepath.Base(path))

	wb, err := excelize.OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	assert.Equal(t,
		[]string{"Overview", "Joiners", "Leavers", "Growth", "Financials", "Monthly Trends", "Periods", "Groups"},
		wb.GetSheetList())

	cellValue := func(sheet, cell string) string {
		v, err := wb.GetCellValue(sheet, cell)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, "Attorneys", cellValue("Overview", "A4"))
	assert.Equal(t, "3", cellValue("Overview", "B4"))
	assert.Equal(t, "all", cellValue("Overview", "B3"))
	assert.Equal(t, "Alice Smith", cellValue("Joiners", "A2"))
	assert.Equal(t, "Carol White", cellValue("Joiners", "A3"))
	assert.Equal(t, "Bob Jones", cellValue("Leavers", "A2"))
	assert.Equal(t, "2023-11-30", cellValue("Leavers", "F2"))
	assert.Equal(t, "2022Q3", cellValue("Growth", "A2"))
	assert.Equal(t, "2023Q4", cellValue("Growth", "A4"))
	assert.Equal(t, "2022-07", cellValue("Monthly Trends", "A2"))
	assert.Equal(t, "2023-01", cellValue("Periods", "E2"))
	assert.Equal(t, "London", cellValue("Groups", "B2"))

	require.Len(t, runs.runs, 1)
	run := runs.runs[0]
	assert.Equal(t, path, run.Path)
	assert.Equal(t, "all", run.Filter)
	assert.Equal(t, 3, run.Rows)
	assert.Equal(t, 2, run.Joiners)
	assert.Equal(t, 1, run.Leavers)
	assert.Equal(t, "1650000.00", run.EstimatedBook)
	assert.Equal(t, "1300000.00", run.Annualized)
	assert.True(t, reportTime.Equal(run.GeneratedAt))
}

func TestReportService_GenerateExcelReport_Filtered(t *testing.T) {
	runs := &memoryRunStore{}
	svc := newSampleReportService(t, runs)

	path, err := svc.GenerateExcelReport(context.Background(), Filter{Kind: models.KindLeaver})
	require.NoError(t, err)

	wb, err := excelize.OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	joiners, err := wb.GetCellValue("Joiners", "A2")
	require.NoError(t, err)
	assert.Empty(t, joiners)

	require.Len(t, runs.runs, 1)
	assert.Equal(t, "kind=leaver", runs.runs[0].Filter)
	assert.Equal(t, 1, runs.runs[0].Rows)
}

func TestReportService_RunStoreErrorDoesNotFailReport(t *testing.T) {
	svc := newSampleReportService(t, &memoryRunStore{saveErr: errors.New("disk full")})

	_, err := svc.GenerateExcelReport(context.Background(), Filter{})
	assert.NoError(t, err)
}

func TestReportService_WriteExcel(t *testing.T) {
	runs := &memoryRunStore{}
	svc := newSampleReportService(t, runs)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteExcel(context.Background(), &buf, Filter{Years: []int{2023}}))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	rows, err := wb.GetRows("Financials")
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	require.Len(t, runs.runs, 1)
	assert.Empty(t, runs.runs[0].Path)
	assert.Equal(t, "years=2023", runs.runs[0].Filter)
}

func TestReportService_WriteCSV(t *testing.T) {
	svc := newSampleReportService(t, nil)

	var buf bytes.Buffer
	require.NoError(t, svc.WriteCSV(context.Background(), &buf, Filter{}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, csvHeaders, records[0])
	assert.Equal(t, []string{
		"Alice Smith", "Partner", "London", "", "2023-01-15", "", "2023", "joiner",
		"1000000.00", "500000.00", "800000.00", "-200000.00", "12",
	}, records[1])
	assert.Equal(t, "leaver", records[2][7])
	assert.Equal(t, "2023-11-30", records[2][5])
}

func TestReportService_RunsWithoutStore(t *testing.T) {
	svc := newSampleReportService(t, nil)

	runs, err := svc.Runs(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestReportService_SummaryAndOptions(t *testing.T) {
	svc := newSampleReportService(t, nil)
	ctx := context.Background()

	summary, err := svc.Summary(ctx, Filter{People: []string{"Bob Jones"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, 1, summary.Leavers)

	opts, err := svc.Options(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2022, 2023}, opts.Years)
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"999", "$999.00"},
		{"1234.5", "$1,234.50"},
		{"100000", "$100,000.00"},
		{"433333.333", "$433,333.33"},
		{"-1234567.891", "-$1,234,567.89"},
		{"-0.001", "$0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMoney(decimal.RequireFromString(tt.in)))
		})
	}
}

func TestFormatSummary(t *testing.T) {
	text := FormatSummary(Summarize(sampleDataset(t), 5))

	assert.True(t, strings.HasPrefix(text, "Joiners and Leavers\n"))
	assert.Contains(t, text, "Attorneys: 3 (joiners 2, leavers 1)")
	assert.Contains(t, text, "Total Estimated Book: $1,650,000.00")
	assert.Contains(t, text, "Overall Variance to Estimate: -$150,000.00")
	assert.Contains(t, text, "Annualized Revenue per Attorney: $433,333.33")
	assert.True(t, strings.HasSuffix(text, "Net growth 2023Q4: -$250,000.00"))
}

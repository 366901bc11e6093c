package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

// ReportOpts параметры формирования отчёта.
type ReportOpts struct {
	SaveDir     string `mapstructure:"save_dir" validate:"required"`
	RecentLimit int    `mapstructure:"recent_limit" validate:"min=0,max=100"`
}

// RunStore хранит историю сформированных отчётов.
type RunStore interface {
	SaveRun(ctx context.Context, run *models.ReportRun) error
	ListRuns(ctx context.Context, limit int) ([]models.ReportRun, error)
}

// ReportService основной сервис: фильтрация, статистика и выгрузки.
type ReportService struct {
	opts   ReportOpts
	logger *slog.Logger
	data   *DatasetService
	runs   RunStore
	now    func() time.Time
}

// NewReportService создаёт сервис отчётов. runs может быть nil.
func NewReportService(opts ReportOpts, data *DatasetService, runs RunStore, logger *slog.Logger) *ReportService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportService{
		opts:   opts,
		logger: logger,
		data:   data,
		runs:   runs,
		now:    time.Now,
	}
}

// Filtered возвращает набор после применения фильтра.
func (s *ReportService) Filtered(ctx context.Context, f Filter) (*models.Dataset, error) {
	ds, err := s.data.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(ds), nil
}

// Summary сводка по отфильтрованным данным.
func (s *ReportService) Summary(ctx context.Context, f Filter) (models.Summary, error) {
	ds, err := s.Filtered(ctx, f)
	if err != nil {
		return models.Summary{}, err
	}
	return Summarize(ds, s.opts.RecentLimit), nil
}

// Options значения для фильтров по всему набору.
func (s *ReportService) Options(ctx context.Context) (models.FilterOptions, error) {
	ds, err := s.data.Dataset(ctx)
	if err != nil {
		return models.FilterOptions{}, err
	}
	return Options(ds), nil
}

// Reload перечитывает источник данных.
func (s *ReportService) Reload(ctx context.Context) (*models.Dataset, error) {
	return s.data.Reload(ctx)
}

// Runs последние сформированные отчёты.
func (s *ReportService) Runs(ctx context.Context, limit int) ([]models.ReportRun, error) {
	if s.runs == nil {
		return []models.ReportRun{}, nil
	}
	return s.runs.ListRuns(ctx, limit)
}

// GenerateExcelReport сохраняет xlsx отчёт в SaveDir и возвращает путь к файлу.
func (s *ReportService) GenerateExcelReport(ctx context.Context, f Filter) (string, error) {
	ds, err := s.Filtered(ctx, f)
	if err != nil {
		return "", fmt.Errorf("load dataset: %w", err)
	}
	summary := Summarize(ds, s.opts.RecentLimit)

	s.logger.Info("Creating Excel file",
		"attorneys", summary.Rows,
		"joiners", summary.Joiners,
		"leavers", summary.Leavers,
		"filter", f.String())

	now := s.now()
	wb, err := BuildWorkbook(ds, summary, f, now)
	if err != nil {
		return "", err
	}
	defer func() { _ = wb.Close() }()

	if err := os.MkdirAll(s.opts.SaveDir, 0o755); err != nil {
		return "", fmt.Errorf("create save dir: %w", err)
	}

	path := filepath.Join(s.opts.SaveDir, fmt.Sprintf("joiners_leavers_%s.xlsx", now.Format("2006-01-02_150405")))
	s.logger.Info("Saving Excel file", "path", path)
	if err := wb.SaveAs(path); err != nil {
		return "", fmt.Errorf("save report: %w", err)
	}

	s.recordRun(ctx, ds, summary, f, path, now)
	return path, nil
}

// WriteExcel пишет xlsx отчёт в w без сохранения на диск.
func (s *ReportService) WriteExcel(ctx context.Context, w io.Writer, f Filter) error {
	ds, err := s.Filtered(ctx, f)
	if err != nil {
		return err
	}
	summary := Summarize(ds, s.opts.RecentLimit)

	now := s.now()
	wb, err := BuildWorkbook(ds, summary, f, now)
	if err != nil {
		return err
	}
	defer func() { _ = wb.Close() }()

	if err := wb.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}

	s.recordRun(ctx, ds, summary, f, "", now)
	return nil
}

// WriteCSV выгружает отфильтрованные строки в CSV.
func (s *ReportService) WriteCSV(ctx context.Context, w io.Writer, f Filter) error {
	ds, err := s.Filtered(ctx, f)
	if err != nil {
		return err
	}
	return writeAttorneysCSV(w, ds)
}

func (s *ReportService) recordRun(ctx context.Context, ds *models.Dataset, summary models.Summary, f Filter, path string, at time.Time) {
	if s.runs == nil {
		return
	}
	run := &models.ReportRun{
		GeneratedAt:   at,
		Source:        ds.Source,
		Path:          path,
		Filter:        f.String(),
		Rows:          summary.Rows,
		Joiners:       summary.Joiners,
		Leavers:       summary.Leavers,
		EstimatedBook: summary.TotalEstimatedBook.StringFixed(2),
		Annualized:    summary.TotalAnnualized.StringFixed(2),
	}
	if err := s.runs.SaveRun(ctx, run); err != nil {
		s.logger.Error("Failed to save report run", "error", err)
	}
}

var csvHeaders = []string{
	"Person", "Title", "Office", "Practice", "Start Date", "Leave Date", "Start Year", "Kind",
	"Estimated Book", "TTM", "Annualized", "Variance to Est", "Tenure Months",
}

func writeAttorneysCSV(w io.Writer, ds *models.Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeaders); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, a := range ds.Attorneys {
		record := []string{
			a.Person,
			a.Title,
			a.Office,
			a.Practice,
			formatDate(a.StartDate),
			formatDate(a.LeaveDate),
			formatYear(a.StartYear),
			string(a.Kind()),
			a.EstimatedBook.StringFixed(2),
			a.TTM.StringFixed(2),
			a.Annualized.StringFixed(2),
			a.Variance.StringFixed(2),
			strconv.Itoa(a.TenureMonths),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

const (
	sheetOverview   = "Overview"
	sheetJoiners    = "Joiners"
	sheetLeavers    = "Leavers"
	sheetGrowth     = "Growth"
	sheetFinancials = "Financials"
	sheetMonthly    = "Monthly Trends"
	sheetPeriods    = "Periods"
	sheetGroups     = "Groups"
)

type workbookStyles struct {
	header int
	money  int
}

// BuildWorkbook собирает xlsx книгу с листами Overview, Joiners, Leavers, Growth,
// Financials, Monthly Trends, Periods и Groups.
func BuildWorkbook(ds *models.Dataset, summary models.Summary, f Filter, at time.Time) (*excelize.File, error) {
	wb := excelize.NewFile()

	header, err := wb.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	money, err := wb.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, fmt.Errorf("create money style: %w", err)
	}
	st := workbookStyles{header: header, money: money}

	// Переименовываем дефолтный лист, чтобы он стал первым.
	if err := wb.SetSheetName("Sheet1", sheetOverview); err != nil {
		return nil, fmt.Errorf("rename default sheet: %w", err)
	}

	steps := []func(*excelize.File, *models.Dataset, models.Summary, workbookStyles) error{
		writeJoinersSheet,
		writeLeaversSheet,
		writeGrowthSheet,
		writeFinancialsSheet,
		writeMonthlySheet,
		writePeriodsSheet,
		writeGroupsSheet,
	}
	for _, step := range steps {
		if err := step(wb, ds, summary, st); err != nil {
			return nil, err
		}
	}

	if err := writeOverviewSheet(wb, ds, summary, f, at, st); err != nil {
		return nil, err
	}

	wb.SetActiveSheet(0)
	return wb, nil
}

func writeOverviewSheet(wb *excelize.File, ds *models.Dataset, s models.Summary, f Filter, at time.Time, st workbookStyles) error {
	metrics := [][]any{
		{"Source", ds.Source},
		{"Generated", at.Format("2006-01-02 15:04")},
		{"Filter", f.String()},
		{"Attorneys", s.Rows},
		{"People", s.People},
		{"Joiners", s.Joiners},
		{"Leavers", s.Leavers},
		{"Total Estimated Book Value", money(s.TotalEstimatedBook)},
		{"Total Annualized Billings", money(s.TotalAnnualized)},
		{"Total TTM", money(s.TotalTTM)},
		{"Overall Variance to Estimate", money(s.TotalVariance)},
		{"Annualized Revenue per Attorney", money(s.RevenuePerAttorney)},
		{"Average Estimated Book", money(s.AverageBook)},
		{"Average Tenure (months)", s.AverageTenureMonths},
	}

	row := 1
	for _, m := range metrics {
		if err := setRow(wb, sheetOverview, row, m); err != nil {
			return err
		}
		row++
	}
	if err := wb.SetCellStyle(sheetOverview, "A1", fmt.Sprintf("A%d", row-1), st.header); err != nil {
		return fmt.Errorf("style overview: %w", err)
	}
	if err := wb.SetCellStyle(sheetOverview, "B8", "B13", st.money); err != nil {
		return fmt.Errorf("style overview: %w", err)
	}

	row++
	recent := []struct {
		title string
		label string
		rows  []models.Attorney
		date  func(models.Attorney) time.Time
	}{
		{"Recent Joiners", "Start Date", s.RecentJoiners, func(a models.Attorney) time.Time { return a.StartDate }},
		{"Recent Leavers", "Leave Date", s.RecentLeavers, func(a models.Attorney) time.Time { return a.LeaveDate }},
	}
	for _, block := range recent {
		if err := setRow(wb, sheetOverview, row, []any{block.title}); err != nil {
			return err
		}
		if err := setRow(wb, sheetOverview, row+1, []any{block.label, "Person", "Estimated Book"}); err != nil {
			return err
		}
		if err := styleRow(wb, sheetOverview, row, row+1, 3, st.header); err != nil {
			return err
		}
		row += 2
		for _, a := range block.rows {
			if err := setRow(wb, sheetOverview, row, []any{formatDate(block.date(a)), a.Person, money(a.EstimatedBook)}); err != nil {
				return err
			}
			row++
		}
		row++
	}

	if len(ds.Warnings) > 0 {
		if err := setRow(wb, sheetOverview, row, []any{"Warnings"}); err != nil {
			return err
		}
		row++
		for _, w := range ds.Warnings {
			if err := setRow(wb, sheetOverview, row, []any{w}); err != nil {
				return err
			}
			row++
		}
	}

	if err := wb.SetColWidth(sheetOverview, "A", "A", 34); err != nil {
		return err
	}
	return wb.SetColWidth(sheetOverview, "B", "C", 22)
}

var attorneyHeaders = []string{
	"Person", "Title", "Office", "Practice", "Start Date", "Leave Date", "Start Year",
	"Estimated Book", "TTM", "Annualized", "Variance to Est", "Tenure (months)",
}

func attorneyRow(a models.Attorney) []any {
	return []any{
		a.Person, a.Title, a.Office, a.Practice,
		formatDate(a.StartDate), formatDate(a.LeaveDate), formatYear(a.StartYear),
		money(a.EstimatedBook), money(a.TTM), money(a.Annualized), money(a.Variance),
		a.TenureMonths,
	}
}

func writeJoinersSheet(wb *excelize.File, ds *models.Dataset, s models.Summary, st workbookStyles) error {
	return writeKindSheet(wb, sheetJoiners, ds, models.KindJoiner, s.JoinersBook, st)
}

func writeLeaversSheet(wb *excelize.File, ds *models.Dataset, s models.Summary, st workbookStyles) error {
	return writeKindSheet(wb, sheetLeavers, ds, models.KindLeaver, s.LeaversBook, st)
}

func writeKindSheet(wb *excelize.File, sheet string, ds *models.Dataset, kind models.Kind, total decimal.Decimal, st workbookStyles) error {
	var rows [][]any
	for _, a := range ds.Attorneys {
		if a.Kind() == kind {
			rows = append(rows, attorneyRow(a))
		}
	}
	rows = append(rows, nil, []any{"Total Estimated Book Value", "", "", "", "", "", "", money(total)})

	return writeTable(wb, sheet, attorneyHeaders, rows, []string{"H", "I", "J", "K"}, st)
}

func writeGrowthSheet(wb *excelize.File, _ *models.Dataset, s models.Summary, st workbookStyles) error {
	rows := make([][]any, 0, len(s.Quarterly))
	for _, q := range s.Quarterly {
		rows = append(rows, []any{q.Quarter, money(q.JoinersBook), money(q.LeaversBook), money(q.Net)})
	}
	return writeTable(wb, sheetGrowth, []string{"Quarter", "Joiners Book", "Leavers Book", "Net Growth"}, rows, []string{"B", "C", "D"}, st)
}

func writeFinancialsSheet(wb *excelize.File, ds *models.Dataset, _ models.Summary, st workbookStyles) error {
	rows := make([][]any, 0, len(ds.Attorneys))
	for _, a := range ds.Attorneys {
		rows = append(rows, []any{
			formatDate(a.StartDate), a.Person, money(a.EstimatedBook), money(a.Annualized), money(a.TTM), money(a.Variance),
		})
	}
	headers := []string{"Start Date", "Person", "Estimated Book", "Annualized", "TTM", "Variance to Est"}
	return writeTable(wb, sheetFinancials, headers, rows, []string{"C", "D", "E", "F"}, st)
}

func writeMonthlySheet(wb *excelize.File, _ *models.Dataset, s models.Summary, st workbookStyles) error {
	rows := make([][]any, 0, len(s.Monthly))
	for _, m := range s.Monthly {
		rows = append(rows, []any{m.Month.Format("2006-01"), m.Joiners, m.Leavers})
	}
	return writeTable(wb, sheetMonthly, []string{"Month", "Joiners", "Leavers"}, rows, nil, st)
}

func writePeriodsSheet(wb *excelize.File, ds *models.Dataset, s models.Summary, st workbookStyles) error {
	rows := make([][]any, 0, len(ds.Periods))
	for _, p := range ds.Periods {
		rows = append(rows, []any{p.Person, p.Period.Format("2006-01"), money(p.Amount)})
	}
	if err := writeTable(wb, sheetPeriods, []string{"Person", "Period", "Amount"}, rows, []string{"C"}, st); err != nil {
		return err
	}

	// Итоги по периодам справа от детализации.
	if err := setRowAt(wb, sheetPeriods, "E1", []any{"Period", "Total"}); err != nil {
		return err
	}
	for i, t := range s.PeriodTotals {
		cell, _ := excelize.CoordinatesToCellName(5, i+2)
		if err := setRowAt(wb, sheetPeriods, cell, []any{t.Period.Format("2006-01"), money(t.Amount)}); err != nil {
			return err
		}
	}
	if err := wb.SetCellStyle(sheetPeriods, "E1", "F1", st.header); err != nil {
		return err
	}
	return wb.SetColStyle(sheetPeriods, "F", st.money)
}

func writeGroupsSheet(wb *excelize.File, _ *models.Dataset, s models.Summary, st workbookStyles) error {
	var rows [][]any
	for _, g := range s.ByOffice {
		rows = append(rows, []any{"Office", g.Name, g.Count, g.Joiners, g.Leavers, money(g.Book)})
	}
	for _, g := range s.ByPractice {
		rows = append(rows, []any{"Practice", g.Name, g.Count, g.Joiners, g.Leavers, money(g.Book)})
	}
	headers := []string{"Group", "Name", "Attorneys", "Joiners", "Leavers", "Estimated Book"}
	return writeTable(wb, sheetGroups, headers, rows, []string{"F"}, st)
}

// writeTable создаёт лист с заголовком и строками.
func writeTable(wb *excelize.File, sheet string, headers []string, rows [][]any, moneyCols []string, st workbookStyles) error {
	if _, err := wb.NewSheet(sheet); err != nil {
		return fmt.Errorf("create sheet %q: %w", sheet, err)
	}

	head := make([]any, len(headers))
	for i, h := range headers {
		head[i] = h
	}
	if err := setRow(wb, sheet, 1, head); err != nil {
		return err
	}
	if err := styleRow(wb, sheet, 1, 1, len(headers), st.header); err != nil {
		return err
	}

	for i, r := range rows {
		if r == nil {
			continue
		}
		if err := setRow(wb, sheet, i+2, r); err != nil {
			return err
		}
	}

	for _, col := range moneyCols {
		if err := wb.SetColStyle(sheet, col, st.money); err != nil {
			return fmt.Errorf("style %s!%s: %w", sheet, col, err)
		}
	}

	for i := range headers {
		colName, _ := excelize.ColumnNumberToName(i + 1)
		if err := wb.SetColWidth(sheet, colName, colName, 18); err != nil {
			return err
		}
	}
	return nil
}

func setRow(wb *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return setRowAt(wb, sheet, cell, values)
}

func setRowAt(wb *excelize.File, sheet, cell string, values []any) error {
	if err := wb.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	return nil
}

func styleRow(wb *excelize.File, sheet string, fromRow, toRow, cols, style int) error {
	from, _ := excelize.CoordinatesToCellName(1, fromRow)
	to, _ := excelize.CoordinatesToCellName(cols, toRow)
	return wb.SetCellStyle(sheet, from, to, style)
}

// money значение для ячейки Excel.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// formatDate форматирует дату для отчёта, пустая строка для нулевой даты.
func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dayLayout)
}

func formatYear(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}

// FormatMoney форматирует сумму как "$1,234.56".
func FormatMoney(d decimal.Decimal) string {
	s := d.Round(2).Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	sign := ""
	if d.Round(2).IsNegative() {
		sign = "-"
	}
	return sign + "$" + b.String() + "." + frac
}

// FormatSummary текстовая сводка для сообщений в чат.
func FormatSummary(s models.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Joiners and Leavers\n")
	fmt.Fprintf(&b, "Attorneys: %d (joiners %d, leavers %d)\n", s.Rows, s.Joiners, s.Leavers)
	fmt.Fprintf(&b, "Total Estimated Book: %s\n", FormatMoney(s.TotalEstimatedBook))
	fmt.Fprintf(&b, "Total Annualized Billings: %s\n", FormatMoney(s.TotalAnnualized))
	fmt.Fprintf(&b, "Overall Variance to Estimate: %s\n", FormatMoney(s.TotalVariance))
	fmt.Fprintf(&b, "Annualized Revenue per Attorney: %s\n", FormatMoney(s.RevenuePerAttorney))
	if n := len(s.Quarterly); n > 0 {
		q := s.Quarterly[n-1]
		fmt.Fprintf(&b, "Net growth %s: %s\n", q.Quarter, FormatMoney(q.Net))
	}
	return strings.TrimRight(b.String(), "\n")
}

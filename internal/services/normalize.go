package services

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

// ErrHeaderNotFound строка заголовка не найдена ни одним из способов.
var ErrHeaderNotFound = errors.New("header row not found")

// NormalizeOpts параметры поиска заголовка и разбора строк таблицы.
type NormalizeOpts struct {
	// AnchorColumn колонка (с нуля), в которой ищется маркер Billings/Collections.
	AnchorColumn int `mapstructure:"anchor_column" validate:"min=0"`
	// AnchorOffset смещение строки заголовка относительно строки с маркером.
	AnchorOffset int `mapstructure:"anchor_offset" validate:"min=0"`
	// ScanRows сколько первых строк просматривать при поиске заголовка по содержимому.
	ScanRows int `mapstructure:"scan_rows" validate:"min=0"`
	// PersonColumn явное имя колонки с ФИО.
	PersonColumn string `mapstructure:"person_column"`

	AsOf time.Time `mapstructure:"-"`
}

// DefaultNormalizeOpts значения по умолчанию, совпадающие с форматом выгрузки Joiners/Leavers.
func DefaultNormalizeOpts() NormalizeOpts {
	return NormalizeOpts{
		AnchorColumn: 2,
		AnchorOffset: 4,
		ScanRows:     50,
	}
}

type field int

const (
	fieldNone field = iota
	fieldPerson
	fieldStartDate
	fieldLeaveDate
	fieldStartYear
	fieldEstimatedBook
	fieldTTM
	fieldAnnualized
	fieldVariance
	fieldOffice
	fieldPractice
	fieldTitle
)

var fieldOrder = []field{
	fieldStartDate, fieldLeaveDate, fieldStartYear, fieldEstimatedBook, fieldTTM,
	fieldAnnualized, fieldVariance, fieldOffice, fieldPractice, fieldTitle, fieldPerson,
}

var fieldNames = map[field]string{
	fieldPerson:        "Person",
	fieldStartDate:     "Start Date",
	fieldLeaveDate:     "Leave Date",
	fieldStartYear:     "Start Year",
	fieldEstimatedBook: "Estimated Book",
	fieldTTM:           "TTM",
	fieldAnnualized:    "Annualized",
	fieldVariance:      "Variance to Est",
	fieldOffice:        "Office",
	fieldPractice:      "Practice",
	fieldTitle:         "Title",
}

var fieldAliases = map[field][]string{
	fieldPerson:        {"name", "attorney", "attorneyname", "lawyer", "person", "partner", "timekeeper", "employee", "fullname"},
	fieldStartDate:     {"startdate", "joindate", "datejoined", "joiningdate", "hiredate", "start", "joined"},
	fieldLeaveDate:     {"leavedate", "departuredate", "dateleft", "exitdate", "terminationdate", "termdate", "enddate", "left"},
	fieldStartYear:     {"startyear", "yearjoined", "joinyear", "year"},
	fieldEstimatedBook: {"estimatedbook", "estbook", "book", "portablebook", "estimatedbusiness"},
	fieldTTM:           {"ttm", "trailingtwelvemonths", "ttmbillings", "ttmcollections"},
	fieldAnnualized:    {"annualized", "annualised", "annualizedbillings", "annualizedrevenue"},
	fieldVariance:      {"variancetoest", "variancetoestimate", "vartoest", "variance"},
	fieldOffice:        {"office", "location", "city"},
	fieldPractice:      {"practice", "practicegroup", "practicearea", "department", "group"},
	fieldTitle:         {"title", "position", "role", "level"},
}

var aliasIndex = func() map[string]field {
	idx := make(map[string]field)
	for f, aliases := range fieldAliases {
		for _, a := range aliases {
			idx[a] = f
		}
	}
	return idx
}()

// normalizeKey оставляет только строчные латинские буквы и цифры.
func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type layout struct {
	fields map[field]int
	months map[int]time.Time
}

func (l layout) col(f field) (int, bool) {
	idx, ok := l.fields[f]
	return idx, ok
}

// resolveColumns сопоставляет ячейки заголовка известным полям и месячным колонкам.
func resolveColumns(header []string, opts NormalizeOpts) layout {
	l := layout{
		fields: make(map[field]int),
		months: make(map[int]time.Time),
	}

	personKey := normalizeKey(opts.PersonColumn)
	var unresolved []int

	for i, v := range header {
		key := normalizeKey(v)
		if key == "" {
			continue
		}

		if personKey != "" && key == personKey {
			if _, ok := l.fields[fieldPerson]; !ok {
				l.fields[fieldPerson] = i
				continue
			}
		}

		if f, ok := aliasIndex[key]; ok {
			if _, taken := l.fields[f]; !taken {
				l.fields[f] = i
				continue
			}
		}

		if month, ok := parseMonthHeader(v); ok {
			l.months[i] = month
			continue
		}

		unresolved = append(unresolved, i)
	}

	// Нечёткое совпадение: "Estimated Book Value" -> estimatedbook.
	for _, f := range fieldOrder {
		if _, ok := l.fields[f]; ok || len(unresolved) == 0 {
			continue
		}

		keys := make([]string, len(unresolved))
		for i, col := range unresolved {
			keys[i] = normalizeKey(header[col])
		}

	aliases:
		for _, alias := range fieldAliases[f] {
			if len(alias) < 4 {
				continue
			}
			for _, m := range fuzzy.Find(alias, keys) {
				if len(alias)*2 < len(m.Str) {
					continue
				}
				l.fields[f] = unresolved[m.Index]
				unresolved = append(unresolved[:m.Index], unresolved[m.Index+1:]...)
				break aliases
			}
		}
	}

	return l
}

type headerScore struct {
	known   int
	months  int
	hasDate bool
}

func scoreHeader(row []string) headerScore {
	var s headerScore
	seen := make(map[field]bool)
	for _, v := range row {
		if f, ok := aliasIndex[normalizeKey(v)]; ok {
			if !seen[f] {
				seen[f] = true
				s.known++
			}
			if f == fieldStartDate || f == fieldLeaveDate {
				s.hasDate = true
			}
			continue
		}
		if _, ok := parseMonthHeader(v); ok {
			s.months++
		}
	}
	return s
}

// locateHeader ищет строку заголовка: сначала по маркеру Billings/Collections,
// затем по количеству распознанных колонок.
func locateHeader(rows [][]string, opts NormalizeOpts) (int, error) {
	for i, row := range rows {
		if opts.AnchorColumn >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[opts.AnchorColumn])
		if !strings.EqualFold(v, "Billings") && !strings.EqualFold(v, "Collections") {
			continue
		}
		h := i + opts.AnchorOffset
		if h < len(rows) {
			if s := scoreHeader(rows[h]); s.known+s.months > 0 {
				return h, nil
			}
		}
		break
	}

	limit := opts.ScanRows
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}

	best, bestKnown := -1, 1
	for i := 0; i < limit; i++ {
		s := scoreHeader(rows[i])
		if s.hasDate && s.known > bestKnown {
			best, bestKnown = i, s.known
		}
	}
	if best < 0 {
		return 0, ErrHeaderNotFound
	}
	return best, nil
}

// guessPersonColumn ищет текстовую колонку, если колонка с ФИО не распознана по имени.
// В выгрузке заголовок такой колонки часто совпадает с именем первого человека.
func guessPersonColumn(header []string, data [][]string, l layout) int {
	used := make(map[int]bool)
	for _, idx := range l.fields {
		used[idx] = true
	}

	limit := len(data)
	if limit > 50 {
		limit = 50
	}

	for col := range header {
		if used[col] {
			continue
		}
		if _, ok := l.months[col]; ok {
			continue
		}

		text, filled := 0, 0
		for _, row := range data[:limit] {
			v := cell(row, col)
			if isBlank(v) {
				continue
			}
			filled++
			if _, ok := parseMoney(v); ok {
				continue
			}
			if _, ok := parseDate(v); ok {
				continue
			}
			text++
		}
		if filled > 0 && text*10 >= filled*6 {
			return col
		}
	}
	return -1
}

// Normalize приводит сырую таблицу к виду "строка на человека" плюс long form по месяцам.
func Normalize(rows [][]string, opts NormalizeOpts) (*models.Dataset, error) {
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}

	headerIdx, err := locateHeader(rows, opts)
	if err != nil {
		return nil, err
	}

	header := rows[headerIdx]
	data := rows[headerIdx+1:]
	l := resolveColumns(header, opts)

	ds := &models.Dataset{
		HeaderRow: headerIdx + 1,
		Columns:   make([]string, len(header)),
	}

	for i, name := range header {
		ds.Columns[i] = strings.TrimSpace(name)
	}
	for f, idx := range l.fields {
		ds.Columns[idx] = fieldNames[f]
	}

	personCol, ok := l.col(fieldPerson)
	if !ok {
		personCol = guessPersonColumn(header, data, l)
		if personCol >= 0 {
			ds.Warnings = append(ds.Warnings, fmt.Sprintf("person column not matched by name; using column %q", strings.TrimSpace(header[personCol])))
			l.fields[fieldPerson] = personCol
			ds.Columns[personCol] = fieldNames[fieldPerson]
		} else {
			ds.Warnings = append(ds.Warnings, "person column not found; person filter disabled")
		}
	}
	ds.HasPersonColumn = personCol >= 0

	if _, ok := l.col(fieldStartDate); !ok {
		ds.Warnings = append(ds.Warnings, "column \"Start Date\" not found; date filters and trends will be empty")
	}

	monthCols := make([]int, 0, len(l.months))
	for col := range l.months {
		monthCols = append(monthCols, col)
	}
	sort.Ints(monthCols)
	for _, col := range monthCols {
		ds.MonthColumns = append(ds.MonthColumns, l.months[col])
	}

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}

	bad := make(map[string]int)
	var noPerson, totalRows int

	get := func(row []string, f field) string {
		idx, ok := l.col(f)
		if !ok {
			return ""
		}
		return cell(row, idx)
	}

	money := func(row []string, f field) decimal.Decimal {
		d, ok := parseMoney(get(row, f))
		if !ok {
			bad[fieldNames[f]]++
		}
		return d
	}

	date := func(row []string, f field) time.Time {
		t, ok := parseDate(get(row, f))
		if !ok {
			bad[fieldNames[f]]++
		}
		return t
	}

	for r, row := range data {
		if blankRow(row) || sameRow(row, header) {
			continue
		}

		person := get(row, fieldPerson)
		if ds.HasPersonColumn {
			key := normalizeKey(person)
			switch {
			case isBlank(person):
				noPerson++
				continue
			case strings.HasPrefix(key, "total") || strings.HasPrefix(key, "grandtotal"):
				totalRows++
				continue
			}
		}

		a := models.Attorney{
			ID:        len(ds.Attorneys) + 1,
			SourceRow: headerIdx + r + 2,
			Person:    person,
			Title:     get(row, fieldTitle),
			Office:    get(row, fieldOffice),
			Practice:  get(row, fieldPractice),
		}

		a.StartDate = date(row, fieldStartDate)
		a.LeaveDate = date(row, fieldLeaveDate)
		a.EstimatedBook = money(row, fieldEstimatedBook)
		a.TTM = money(row, fieldTTM)
		a.Annualized = money(row, fieldAnnualized)
		a.Variance = money(row, fieldVariance)

		year, ok := parseYear(get(row, fieldStartYear))
		if !ok {
			bad[fieldNames[fieldStartYear]]++
		}
		if year == 0 && !a.StartDate.IsZero() {
			year = a.StartDate.Year()
		}
		a.StartYear = year

		end := asOf
		if !a.LeaveDate.IsZero() {
			end = a.LeaveDate
		}
		a.TenureMonths = monthsBetween(a.StartDate, end)

		ds.Attorneys = append(ds.Attorneys, a)

		if len(monthCols) == 0 {
			if !a.StartDate.IsZero() {
				ds.Periods = append(ds.Periods, models.PeriodAmount{
					AttorneyID: a.ID,
					Person:     a.Person,
					Period:     models.MonthOf(a.StartDate),
					Amount:     a.EstimatedBook,
				})
			}
			continue
		}

		for _, col := range monthCols {
			amount, ok := parseMoney(cell(row, col))
			if !ok {
				bad[strings.TrimSpace(header[col])]++
				continue
			}
			if amount.IsZero() {
				continue
			}
			ds.Periods = append(ds.Periods, models.PeriodAmount{
				AttorneyID: a.ID,
				Person:     a.Person,
				Period:     l.months[col],
				Amount:     amount,
			})
		}
	}

	if noPerson > 0 {
		ds.Warnings = append(ds.Warnings, fmt.Sprintf("%d rows without a person were skipped", noPerson))
	}
	if totalRows > 0 {
		ds.Warnings = append(ds.Warnings, fmt.Sprintf("%d total rows were skipped", totalRows))
	}

	cols := make([]string, 0, len(bad))
	for col := range bad {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		ds.Warnings = append(ds.Warnings, fmt.Sprintf("column %q: %d values could not be parsed and were set to zero", col, bad[col]))
	}

	return ds, nil
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func isBlank(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "-", "nan", "nat", "none", "null", "n/a":
		return true
	}
	return false
}

// blankRow строка, в которой все ячейки пустые или нулевые.
func blankRow(row []string) bool {
	for _, v := range row {
		if isBlank(v) {
			continue
		}
		if d, ok := parseMoney(v); ok && d.IsZero() {
			continue
		}
		return false
	}
	return true
}

// sameRow повтор строки заголовка внутри данных.
func sameRow(row, header []string) bool {
	if len(row) != len(header) {
		return false
	}
	for i := range row {
		if normalizeKey(row[i]) != normalizeKey(header[i]) {
			return false
		}
	}
	return true
}

var moneyReplacer = strings.NewReplacer("$", "", "£", "", "€", "", ",", "", " ", "")

// parseMoney разбирает денежное значение: "$1,234.50", "(500)", "-".
// Пустое значение считается нулём.
func parseMoney(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if isBlank(s) {
		return decimal.Zero, true
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}

	s = moneyReplacer.Replace(s)
	if isBlank(s) {
		return decimal.Zero, true
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Neg()
	}
	return d, true
}

// parseYear принимает "2023" и "2023.0".
func parseYear(s string) (int, bool) {
	if isBlank(s) {
		return 0, true
	}
	f, err := cast.ToFloat64E(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	if f == 0 {
		return 0, true
	}
	if f < 1900 || f > 2200 {
		return 0, false
	}
	return int(f), true
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
	"2-Jan-2006",
	"02-Jan-06",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var monthLayouts = []string{
	"Jan-06",
	"Jan 06",
	"Jan-2006",
	"Jan 2006",
	"January 2006",
	"January-2006",
	"2006-01",
	"01/2006",
	"1/2006",
}

const (
	maxExcelSerial  = 2958465
	minSerialHeader = 20000
	maxSerialHeader = 80000
)

func fromSerial(f float64) (time.Time, bool) {
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// parseDate разбирает дату ячейки. Пустая ячейка даёт нулевое время без ошибки.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if isBlank(s) || s == "0" {
		return time.Time{}, true
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < 1 || f > maxExcelSerial {
			return time.Time{}, false
		}
		return fromSerial(f)
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	if t, err := cast.ToTimeInDefaultLocationE(s, time.UTC); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// parseMonthHeader распознаёт заголовок месячной колонки ("Jan-23", "2023-01", серийный номер Excel).
func parseMonthHeader(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f < minSerialHeader || f > maxSerialHeader {
			return time.Time{}, false
		}
		t, ok := fromSerial(f)
		if !ok {
			return time.Time{}, false
		}
		return models.MonthOf(t), true
	}

	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.MonthOf(t), true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.MonthOf(t), true
		}
	}
	return time.Time{}, false
}

// monthsBetween полных месяцев между датами.
func monthsBetween(from, to time.Time) int {
	if from.IsZero() || to.Before(from) {
		return 0
	}
	m := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		m--
	}
	if m < 0 {
		return 0
	}
	return m
}

package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// ErrEmptyDataset возвращается, когда в источнике нет ни одной строки.
var ErrEmptyDataset = errors.New("dataset is empty")

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatXLS  = "xls"

	maxXLSRows = 100000
)

// maxRemoteBytes предел размера выгрузки, скачиваемой по URL.
var maxRemoteBytes int64 = 64 << 20

// isRemote проверяет, что источник задан http(s) адресом.
func isRemote(source string) bool {
	lower := strings.ToLower(source)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// detectFormat определяет формат по расширению файла или пути URL.
func detectFormat(source, override string) string {
	if override != "" {
		return strings.ToLower(override)
	}

	name := source
	if isRemote(source) {
		if u, err := url.Parse(source); err == nil {
			name = u.Path
		}
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	case ".xls":
		return FormatXLS
	default:
		return FormatCSV
	}
}

// ReadRows читает сырую таблицу из локального файла или по URL.
func ReadRows(ctx context.Context, client *http.Client, opts DatasetOpts) ([][]string, error) {
	data, err := readSource(ctx, client, opts.Source)
	if err != nil {
		return nil, err
	}

	rows, err := parseRows(data, detectFormat(opts.Source, opts.Format), opts.Sheet)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", opts.Source, err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyDataset
	}
	return rows, nil
}

func readSource(ctx context.Context, client *http.Client, source string) ([]byte, error) {
	if !isRemote(source) {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("read dataset file %q: %w", source, err)
		}
		return data, nil
	}

	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch dataset: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read dataset response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("fetch dataset: status %d: %q", resp.StatusCode, snippet)
	}
	if int64(len(body)) > maxRemoteBytes {
		return nil, fmt.Errorf("fetch dataset: response exceeds %d bytes", maxRemoteBytes)
	}

	return body, nil
}

func parseRows(data []byte, format, sheet string) ([][]string, error) {
	switch format {
	case FormatXLSX:
		return readXLSX(data, sheet)
	case FormatXLS:
		return readXLS(data, sheet)
	case FormatCSV:
		return readCSV(data)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = detectDelimiter(data)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return rows, nil
}

// detectDelimiter выбирает разделитель по первой строке.
func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}

	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func readXLSX(data []byte, sheet string) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = file.Close() }()

	if sheet == "" {
		sheet = file.GetSheetName(0)
	}
	if sheet == "" {
		return nil, fmt.Errorf("no worksheet found")
	}

	rows, err := file.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return rows, nil
}

func readXLS(data []byte, sheet string) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if workbook == nil || workbook.NumSheets() == 0 {
		return nil, fmt.Errorf("no worksheet found")
	}

	// ReadAllCells склеивает все листы подряд, нужный лист вырезается по размерам предыдущих.
	all := workbook.ReadAllCells(maxXLSRows)

	offset := 0
	for i := 0; i < workbook.NumSheets(); i++ {
		ws := workbook.GetSheet(i)
		n := xlsSheetRows(ws)
		if (sheet == "" && i == 0) || (sheet != "" && ws != nil && strings.EqualFold(ws.Name, sheet)) {
			return sliceRows(all, offset, n), nil
		}
		offset += n
	}

	return nil, fmt.Errorf("worksheet %q not found", sheet)
}

// xlsSheetRows сколько строк лист занимает в выводе ReadAllCells.
// Лист с MaxRow == 0 библиотека пропускает.
func xlsSheetRows(ws *xls.WorkSheet) int {
	if ws == nil || ws.MaxRow == 0 {
		return 0
	}
	return int(ws.MaxRow) + 1
}

func sliceRows(rows [][]string, offset, n int) [][]string {
	if offset >= len(rows) {
		return nil
	}
	end := min(offset+n, len(rows))
	return rows[offset:end]
}

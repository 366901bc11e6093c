package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
	"github.com/DevN0mad/JoinersLeavers/internal/services"
)

const testCSV = `Name,Title,Start Date,Leave Date,Estimated Book,Annualized,Office
Alice Smith,Partner,2023-01-15,,1000000,800000,London
Bob Jones,Associate,2023-02-10,2023-11-30,250000,150000,New York
Carol White,Partner,2022-07-01,,400000,350000,London
`

type testEnv struct {
	mux  *http.ServeMux
	path string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	path := filepath.Join(t.TempDir(), "joiners.csv")
	require.NoError(t, os.WriteFile(path, []byte(testCSV), 0o644))

	norm := services.DefaultNormalizeOpts()
	norm.AsOf = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	data := services.NewDatasetService(services.DatasetOpts{Source: path, Normalize: norm}, nil)
	reports := services.NewReportService(services.ReportOpts{SaveDir: t.TempDir()}, data, nil, nil)

	mux := http.NewServeMux()
	NewAdminHandler(nil, reports, &AdminServerOpts{Address: "127.0.0.1:0"}).Register(mux)
	return testEnv{mux: mux, path: path}
}

func (e testEnv) do(method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestAdmin_Summary(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var summary models.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.Rows)
	assert.Equal(t, 2, summary.Joiners)
	assert.Equal(t, "1650000", summary.TotalEstimatedBook.String())

	rec = env.do(http.MethodGet, "/api/v1/summary?kind=leaver")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Rows)
	assert.Equal(t, 1, summary.Leavers)
}

func TestAdmin_FilterValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		query string
	}{
		{"bad from", "from=15.01.2023"},
		{"to before from", "from=2023-02-01&to=2023-01-01"},
		{"year not a number", "year=abc"},
		{"year out of range", "year=1800"},
		{"unknown kind", "kind=transfer"},
		{"empty person", "person="},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, "/api/v1/summary?"+tt.query)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestAdmin_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"summary", "attorneys", "options", "export", "report", "runs"} {
		rec := env.do(http.MethodPost, withPrefix(path))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
	}
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, withPrefix("reload")).Code)
}

func TestAdmin_Attorneys(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/attorneys?person=alice+smith&person=Carol+White&year=2023")
	require.Equal(t, http.StatusOK, rec.Code)

	var ds models.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	require.Len(t, ds.Attorneys, 1)
	assert.Equal(t, "Alice Smith", ds.Attorneys[0].Person)
	assert.Equal(t, 12, ds.Attorneys[0].TenureMonths)
}

func TestAdmin_Options(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/options")
	require.Equal(t, http.StatusOK, rec.Code)

	var opts models.FilterOptions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	assert.Equal(t, []int{2022, 2023}, opts.Years)
	assert.Equal(t, []string{"Alice Smith", "Bob Jones", "Carol White"}, opts.People)
	assert.True(t, opts.HasPeople)
}

func TestAdmin_Export(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/export?from=2023-01-01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "filtered_data.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Person,Title,Office"))
	assert.True(t, strings.HasPrefix(lines[1], "Alice Smith,"))
	assert.True(t, strings.HasPrefix(lines[2], "Bob Jones,"))
}

func TestAdmin_Report(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/report?kind=joiner")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = wb.Close() })

	assert.Equal(t, "Overview", wb.GetSheetName(0))
	v, err := wb.GetCellValue("Overview", "B3")
	require.NoError(t, err)
	assert.Equal(t, "kind=joiner", v)
}

func TestAdmin_DownloadsFailWithoutDataset(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.Remove(env.path))

	for _, path := range []string{"export", "report"} {
		rec := env.do(http.MethodGet, withPrefix(path))
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.Empty(t, rec.Header().Get("Content-Disposition"), path)
		assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"), path)
	}
}

func TestAdmin_Runs(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/runs?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/runs?limit=many").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/runs?limit=5").Code)
}

func TestAdmin_Reload(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/reload")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Source    string   `json:"source"`
		Attorneys int      `json:"attorneys"`
		Warnings  []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, env.path, body.Source)
	assert.Equal(t, 3, body.Attorneys)

	require.NoError(t, os.Remove(env.path))
	assert.Equal(t, http.StatusBadGateway, env.do(http.MethodPost, "/api/v1/reload").Code)
}

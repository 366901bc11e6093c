package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

// sampleCSV повторяет форму выгрузки: маркер Billings в третьей колонке,
// заголовок четырьмя строками ниже, колонка с ФИО названа именем человека.
const sampleCSV = `Joiners and Leavers 2023,,,,,,,,,,,
,,Billings,,,,,,,,,
,,,,,,,,,,,
,,,,,,,,,,,
,,,,,,,,,,,
J Paul Gignac,Title,Start Date,Leave Date,Start Year,Estimated Book,TTM,Annualized,Variance to Est,Office,Jan-23,Feb-23
Alice Smith,Partner,2023-01-15,,2023,"$1,000,000","500,000","800,000","(200,000)",London,10000,20000
Bob Jones,Associate,2023-02-10,2023-11-30,2023,250000,100000,150000,-,New York,0,5000
,,,,,,,,,,,
Carol White,Partner,2022-07-01,,2022,400000,300000,350000,50000,London,,
Total,,,,,1650000,900000,1300000,-150000,,10000,25000
`

var sampleAsOf = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

func sampleOpts() NormalizeOpts {
	opts := DefaultNormalizeOpts()
	opts.AsOf = sampleAsOf
	return opts
}

func sampleRows(t *testing.T) [][]string {
	t.Helper()
	rows, err := readCSV([]byte(sampleCSV))
	require.NoError(t, err)
	return rows
}

func sampleDataset(t *testing.T) *models.Dataset {
	t.Helper()
	ds, err := Normalize(sampleRows(t), sampleOpts())
	require.NoError(t, err)
	return ds
}

func writeSampleFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "joiners.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	return path
}

func day(s string) time.Time {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func findAttorney(t *testing.T, ds *models.Dataset, person string) models.Attorney {
	t.Helper()
	for _, a := range ds.Attorneys {
		if a.Person == person {
			return a
		}
	}
	t.Fatalf("attorney %q not found", person)
	return models.Attorney{}
}

package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleDataset(t), 0)

	assert.Equal(t, 3, s.Rows)
	assert.Equal(t, 3, s.People)
	assert.Equal(t, 2, s.Joiners)
	assert.Equal(t, 1, s.Leavers)

	assertMoney(t, "1650000", s.TotalEstimatedBook)
	assertMoney(t, "1300000", s.TotalAnnualized)
	assertMoney(t, "900000", s.TotalTTM)
	assertMoney(t, "-150000", s.TotalVariance)
	assertMoney(t, "1400000", s.JoinersBook)
	assertMoney(t, "250000", s.LeaversBook)
	assertMoney(t, "433333.33", s.RevenuePerAttorney)
	assertMoney(t, "550000", s.AverageBook)
	assert.InDelta(t, 13.0, s.AverageTenureMonths, 0.001)

	require.Len(t, s.RecentJoiners, 2)
	assert.Equal(t, "Alice Smith", s.RecentJoiners[0].Person)
	assert.Equal(t, "Carol White", s.RecentJoiners[1].Person)
	require.Len(t, s.RecentLeavers, 1)
	assert.Equal(t, "Bob Jones", s.RecentLeavers[0].Person)
}

func TestSummarize_TenureSkipsRowsWithoutStartDate(t *testing.T) {
	ds := &models.Dataset{
		HasPersonColumn: true,
		Attorneys: []models.Attorney{
			{Person: "Ann", StartDate: day("2023-01-01"), TenureMonths: 12},
			{Person: "Ben", StartDate: day("2023-07-01"), TenureMonths: 6},
			{Person: "Cid"},
		},
	}

	s := Summarize(ds, 0)
	assert.Equal(t, 3, s.Rows)
	assert.InDelta(t, 9.0, s.AverageTenureMonths, 0.001)
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(&models.Dataset{HasPersonColumn: true}, 5)

	assert.Zero(t, s.Rows)
	assert.True(t, s.RevenuePerAttorney.IsZero())
	assert.True(t, s.AverageBook.IsZero())
	assert.Empty(t, s.Quarterly)
	assert.Empty(t, s.Monthly)
	assert.Empty(t, s.RecentJoiners)
}

func TestRevenuePerAttorney_CountsUniquePeople(t *testing.T) {
	ds := &models.Dataset{
		HasPersonColumn: true,
		Attorneys: []models.Attorney{
			{Person: "Ann", Annualized: decimal.NewFromInt(100)},
			{Person: "ann ", Annualized: decimal.NewFromInt(100)},
			{Person: "Ben", Annualized: decimal.NewFromInt(100)},
		},
	}
	assertMoney(t, "150", RevenuePerAttorney(ds))
}

func TestQuarterlyGrowth(t *testing.T) {
	got := QuarterlyGrowth(sampleDataset(t))
	require.Len(t, got, 3)

	assert.Equal(t, "2022Q3", got[0].Quarter)
	assertMoney(t, "400000", got[0].Net)

	assert.Equal(t, "2023Q1", got[1].Quarter)
	assertMoney(t, "1250000", got[1].JoinersBook)
	assertMoney(t, "1250000", got[1].Net)

	assert.Equal(t, "2023Q4", got[2].Quarter)
	assertMoney(t, "250000", got[2].LeaversBook)
	assertMoney(t, "-250000", got[2].Net)
}

func TestMonthlyTrends_FillsGaps(t *testing.T) {
	got := MonthlyTrends(sampleDataset(t))

	// июль 2022 .. ноябрь 2023
	require.Len(t, got, 17)
	assert.Equal(t, time.Date(2022, 7, 1, 0, 0, 0, 0, time.UTC), got[0].Month)
	assert.Equal(t, 1, got[0].Joiners)
	assert.Equal(t, models.MonthlyTrend{Month: time.Date(2022, 8, 1, 0, 0, 0, 0, time.UTC)}, got[1])

	last := got[len(got)-1]
	assert.Equal(t, time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC), last.Month)
	assert.Equal(t, 1, last.Leavers)

	var joiners, leavers int
	for _, m := range got {
		joiners += m.Joiners
		leavers += m.Leavers
	}
	assert.Equal(t, 3, joiners)
	assert.Equal(t, 1, leavers)
}

func TestPeriodTotals(t *testing.T) {
	got := PeriodTotals(sampleDataset(t))
	require.Len(t, got, 2)
	assertMoney(t, "10000", got[0].Amount)
	assertMoney(t, "25000", got[1].Amount)
	assert.True(t, got[0].Period.Before(got[1].Period))
}

func TestSummarize_Groups(t *testing.T) {
	s := Summarize(sampleDataset(t), 5)

	require.Len(t, s.ByOffice, 2)
	assert.Equal(t, "London", s.ByOffice[0].Name)
	assert.Equal(t, 2, s.ByOffice[0].Count)
	assertMoney(t, "1400000", s.ByOffice[0].Book)
	assert.Equal(t, "New York", s.ByOffice[1].Name)
	assert.Equal(t, 1, s.ByOffice[1].Leavers)
	assert.Nil(t, s.ByPractice)
}

func TestMostRecent_Limit(t *testing.T) {
	rows := []models.Attorney{
		{Person: "a", StartDate: day("2023-01-01")},
		{Person: "b", StartDate: day("2023-03-01")},
		{Person: "c"},
		{Person: "d", StartDate: day("2023-02-01")},
	}
	got := mostRecent(rows, 3, func(a models.Attorney) time.Time { return a.StartDate })
	assert.Equal(t, []string{"b", "d", "a"}, []string{got[0].Person, got[1].Person, got[2].Person})
}

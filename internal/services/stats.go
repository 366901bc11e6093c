package services

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DevN0mad/JoinersLeavers/internal/models"
)

const defaultRecentLimit = 5

// Summarize считает сводную статистику по набору (обычно уже отфильтрованному).
func Summarize(ds *models.Dataset, recent int) models.Summary {
	var s models.Summary
	if ds == nil {
		return s
	}
	if recent <= 0 {
		recent = defaultRecentLimit
	}

	s.Rows = len(ds.Attorneys)
	s.People = uniquePeople(ds)

	var tenureSum, tenureRows int
	var joiners, leavers []models.Attorney
	for _, a := range ds.Attorneys {
		s.TotalEstimatedBook = s.TotalEstimatedBook.Add(a.EstimatedBook)
		s.TotalAnnualized = s.TotalAnnualized.Add(a.Annualized)
		s.TotalTTM = s.TotalTTM.Add(a.TTM)
		s.TotalVariance = s.TotalVariance.Add(a.Variance)
		if !a.StartDate.IsZero() {
			tenureSum += a.TenureMonths
			tenureRows++
		}

		if a.Kind() == models.KindLeaver {
			s.Leavers++
			s.LeaversBook = s.LeaversBook.Add(a.EstimatedBook)
			leavers = append(leavers, a)
		} else {
			s.Joiners++
			s.JoinersBook = s.JoinersBook.Add(a.EstimatedBook)
			joiners = append(joiners, a)
		}
	}

	s.RevenuePerAttorney = RevenuePerAttorney(ds)
	if s.Rows > 0 {
		s.AverageBook = s.TotalEstimatedBook.Div(decimal.NewFromInt(int64(s.Rows))).Round(2)
	}
	if tenureRows > 0 {
		s.AverageTenureMonths = float64(tenureSum) / float64(tenureRows)
	}

	s.Quarterly = QuarterlyGrowth(ds)
	s.Monthly = MonthlyTrends(ds)
	s.PeriodTotals = PeriodTotals(ds)
	s.ByOffice = groupBy(ds, func(a models.Attorney) string { return a.Office })
	s.ByPractice = groupBy(ds, func(a models.Attorney) string { return a.Practice })

	s.RecentJoiners = mostRecent(joiners, recent, func(a models.Attorney) time.Time { return a.StartDate })
	s.RecentLeavers = mostRecent(leavers, recent, func(a models.Attorney) time.Time { return a.LeaveDate })

	return s
}

// uniquePeople число разных людей; без колонки ФИО каждая строка считается отдельным человеком.
func uniquePeople(ds *models.Dataset) int {
	if !ds.HasPersonColumn {
		return len(ds.Attorneys)
	}
	seen := make(map[string]bool)
	for _, a := range ds.Attorneys {
		seen[strings.ToLower(strings.TrimSpace(a.Person))] = true
	}
	return len(seen)
}

// RevenuePerAttorney сумма Annualized на одного человека, 0 для пустого набора.
func RevenuePerAttorney(ds *models.Dataset) decimal.Decimal {
	n := uniquePeople(ds)
	if n == 0 {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, a := range ds.Attorneys {
		total = total.Add(a.Annualized)
	}
	return total.Div(decimal.NewFromInt(int64(n))).Round(2)
}

// QuarterlyGrowth book пришедших (по кварталу прихода) минус book ушедших (по кварталу ухода).
func QuarterlyGrowth(ds *models.Dataset) []models.QuarterGrowth {
	byQuarter := make(map[string]*models.QuarterGrowth)
	get := func(q string) *models.QuarterGrowth {
		g, ok := byQuarter[q]
		if !ok {
			g = &models.QuarterGrowth{Quarter: q}
			byQuarter[q] = g
		}
		return g
	}

	for _, a := range ds.Attorneys {
		if q := models.QuarterOf(a.StartDate); q != "" {
			g := get(q)
			g.JoinersBook = g.JoinersBook.Add(a.EstimatedBook)
		}
		if q := models.QuarterOf(a.LeaveDate); q != "" {
			g := get(q)
			g.LeaversBook = g.LeaversBook.Add(a.EstimatedBook)
		}
	}

	out := make([]models.QuarterGrowth, 0, len(byQuarter))
	for _, g := range byQuarter {
		g.Net = g.JoinersBook.Sub(g.LeaversBook)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Quarter < out[j].Quarter })
	return out
}

// MonthlyTrends число приходов и уходов по месяцам, пропущенные месяцы заполняются нулями.
func MonthlyTrends(ds *models.Dataset) []models.MonthlyTrend {
	joiners := make(map[time.Time]int)
	leavers := make(map[time.Time]int)
	var first, last time.Time

	track := func(t time.Time) {
		m := models.MonthOf(t)
		if first.IsZero() || m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}

	for _, a := range ds.Attorneys {
		if !a.StartDate.IsZero() {
			joiners[models.MonthOf(a.StartDate)]++
			track(a.StartDate)
		}
		if !a.LeaveDate.IsZero() {
			leavers[models.MonthOf(a.LeaveDate)]++
			track(a.LeaveDate)
		}
	}

	if first.IsZero() {
		return nil
	}

	var out []models.MonthlyTrend
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		out = append(out, models.MonthlyTrend{
			Month:   m,
			Joiners: joiners[m],
			Leavers: leavers[m],
		})
	}
	return out
}

// PeriodTotals сумма месячных значений по периодам.
func PeriodTotals(ds *models.Dataset) []models.PeriodTotal {
	totals := make(map[time.Time]decimal.Decimal)
	for _, p := range ds.Periods {
		totals[p.Period] = totals[p.Period].Add(p.Amount)
	}

	out := make([]models.PeriodTotal, 0, len(totals))
	for period, amount := range totals {
		out = append(out, models.PeriodTotal{Period: period, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	return out
}

func groupBy(ds *models.Dataset, key func(models.Attorney) string) []models.GroupStat {
	groups := make(map[string]*models.GroupStat)
	for _, a := range ds.Attorneys {
		name := strings.TrimSpace(key(a))
		if name == "" {
			continue
		}
		g, ok := groups[name]
		if !ok {
			g = &models.GroupStat{Name: name}
			groups[name] = g
		}
		g.Count++
		g.Book = g.Book.Add(a.EstimatedBook)
		if a.Kind() == models.KindLeaver {
			g.Leavers++
		} else {
			g.Joiners++
		}
	}

	if len(groups) == 0 {
		return nil
	}

	out := make([]models.GroupStat, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Book.Cmp(out[j].Book); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// mostRecent первые n строк по убыванию даты; строки без даты идут в конец.
func mostRecent(rows []models.Attorney, n int, date func(models.Attorney) time.Time) []models.Attorney {
	sorted := append([]models.Attorney(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return date(sorted[i]).After(date(sorted[j]))
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Summary сводная статистика по отфильтрованному набору.
type Summary struct {
	Rows    int `json:"rows"`
	People  int `json:"people"`
	Joiners int `json:"joiners"`
	Leavers int `json:"leavers"`

	TotalEstimatedBook decimal.Decimal `json:"total_estimated_book"`
	TotalAnnualized    decimal.Decimal `json:"total_annualized"`
	TotalTTM           decimal.Decimal `json:"total_ttm"`
	TotalVariance      decimal.Decimal `json:"total_variance"`
	JoinersBook        decimal.Decimal `json:"joiners_book"`
	LeaversBook        decimal.Decimal `json:"leavers_book"`

	RevenuePerAttorney  decimal.Decimal `json:"revenue_per_attorney"`
	AverageBook         decimal.Decimal `json:"average_book"`
	// AverageTenureMonths только по строкам с датой прихода.
	AverageTenureMonths float64         `json:"average_tenure_months"`

	Quarterly     []QuarterGrowth `json:"quarterly"`
	Monthly       []MonthlyTrend  `json:"monthly"`
	PeriodTotals  []PeriodTotal   `json:"period_totals"`
	ByOffice      []GroupStat     `json:"by_office,omitempty"`
	ByPractice    []GroupStat     `json:"by_practice,omitempty"`
	RecentJoiners []Attorney      `json:"recent_joiners"`
	RecentLeavers []Attorney      `json:"recent_leavers"`
}

// QuarterGrowth прирост book за квартал.
type QuarterGrowth struct {
	Quarter     string          `json:"quarter"`
	JoinersBook decimal.Decimal `json:"joiners_book"`
	LeaversBook decimal.Decimal `json:"leavers_book"`
	Net         decimal.Decimal `json:"net"`
}

// MonthlyTrend количество пришедших и ушедших за месяц.
type MonthlyTrend struct {
	Month   time.Time `json:"month"`
	Joiners int       `json:"joiners"`
	Leavers int       `json:"leavers"`
}

// PeriodTotal сумма месячных колонок за период.
type PeriodTotal struct {
	Period time.Time       `json:"period"`
	Amount decimal.Decimal `json:"amount"`
}

// GroupStat агрегат по офису или практике.
type GroupStat struct {
	Name    string          `json:"name"`
	Count   int             `json:"count"`
	Joiners int             `json:"joiners"`
	Leavers int             `json:"leavers"`
	Book    decimal.Decimal `json:"book"`
}

// FilterOptions допустимые значения фильтров для текущего набора.
type FilterOptions struct {
	Years     []int     `json:"years"`
	People    []string  `json:"people"`
	MinStart  time.Time `json:"min_start,omitzero"`
	MaxStart  time.Time `json:"max_start,omitzero"`
	HasPeople bool      `json:"has_people"`
}
